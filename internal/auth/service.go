package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"huddle/config"
	"huddle/internal/common/utils"
	"huddle/internal/user"
	apperrors "huddle/pkg/errors"
)

type Service struct {
	repo      *Repository
	userRepo  *user.Repository
	jwtConfig config.JWTConfig
}

func NewService(repo *Repository, userRepo *user.Repository, jwtConfig config.JWTConfig) *Service {
	return &Service{
		repo:      repo,
		userRepo:  userRepo,
		jwtConfig: jwtConfig,
	}
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (*user.UserResponse, *TokenPair, error) {
	if exists, _ := s.userRepo.EmailExists(ctx, req.Email); exists {
		return nil, nil, apperrors.BadRequest("email already exists")
	}

	if exists, _ := s.userRepo.UsernameExists(ctx, req.Username); exists {
		return nil, nil, apperrors.BadRequest("username already exists")
	}

	hashedPassword, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, nil, err
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.Username
	}

	newUser := &user.User{
		ID:           uuid.New(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hashedPassword,
		DisplayName:  displayName,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	if err := s.userRepo.Create(ctx, newUser); err != nil {
		return nil, nil, err
	}

	tokens, err := s.issueTokens(ctx, newUser.ID, newUser.Username)
	if err != nil {
		return nil, nil, err
	}

	return newUser.ToResponse(), tokens, nil
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (*user.UserResponse, *TokenPair, error) {
	u, err := s.userRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, nil, apperrors.NotAuthorized("invalid credentials")
	}

	if !utils.CheckPassword(req.Password, u.PasswordHash) {
		return nil, nil, apperrors.NotAuthorized("invalid credentials")
	}

	tokens, err := s.issueTokens(ctx, u.ID, u.Username)
	if err != nil {
		return nil, nil, err
	}

	return u.ToResponse(), tokens, nil
}

func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := ValidateToken(refreshToken, s.jwtConfig.RefreshSecret)
	if err != nil {
		return nil, apperrors.NotAuthorized("invalid refresh token")
	}

	exists, err := s.repo.RefreshTokenExists(ctx, claims.UserID, refreshToken)
	if err != nil || !exists {
		return nil, apperrors.NotAuthorized("invalid refresh token")
	}

	tokens, err := GenerateTokenPair(claims.UserID, claims.Username, s.jwtConfig)
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(time.Duration(s.jwtConfig.RefreshDays) * 24 * time.Hour)
	if err := s.repo.RotateRefreshToken(ctx, claims.UserID, refreshToken, tokens.RefreshToken, expiresAt); err != nil {
		return nil, err
	}

	return tokens, nil
}

func (s *Service) Logout(ctx context.Context, userID string, refreshToken string) error {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return apperrors.BadRequest("invalid user ID")
	}

	return s.repo.DeleteRefreshToken(ctx, uid, refreshToken)
}

func (s *Service) issueTokens(ctx context.Context, userID uuid.UUID, username string) (*TokenPair, error) {
	tokens, err := GenerateTokenPair(userID, username, s.jwtConfig)
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(time.Duration(s.jwtConfig.RefreshDays) * 24 * time.Hour)
	if err := s.repo.SaveRefreshToken(ctx, userID, tokens.RefreshToken, expiresAt); err != nil {
		return nil, err
	}

	return tokens, nil
}
