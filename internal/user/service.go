package user

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	apperrors "huddle/pkg/errors"
)

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*UserResponse, error) {
	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("user not found")
		}
		return nil, err
	}

	return u.ToResponse(), nil
}

func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, req *UpdateProfileDTO) (*UserResponse, error) {
	if err := s.repo.UpdateProfile(ctx, id, req.DisplayName, req.AvatarURL); err != nil {
		return nil, err
	}

	return s.GetUser(ctx, id)
}
