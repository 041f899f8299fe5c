package chat

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	apperrors "huddle/pkg/errors"
)

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) FindOrCreateConversation(ctx context.Context, userA, userB uuid.UUID) (*Conversation, error) {
	return s.repo.FindOrCreateConversation(ctx, userA, userB)
}

// AppendSystemMessage records a call outcome ("Missed call", "Call declined",
// call duration) in the conversation timeline.
func (s *Service) AppendSystemMessage(ctx context.Context, conversationID uuid.UUID, body string) error {
	msg := &Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Kind:           MessageKindSystem,
		Body:           body,
		CreatedAt:      time.Now(),
	}

	if err := s.repo.CreateMessage(ctx, msg); err != nil {
		return err
	}

	return s.repo.TouchConversation(ctx, conversationID)
}

func (s *Service) GetMessages(ctx context.Context, conversationID, userID uuid.UUID, limit, offset int) ([]*Message, error) {
	conv, err := s.repo.FindConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("conversation not found")
		}
		return nil, err
	}

	if conv.UserA != userID && conv.UserB != userID {
		return nil, apperrors.NotAuthorized("not a conversation participant")
	}

	if limit <= 0 || limit > 100 {
		limit = 50
	}

	return s.repo.GetMessages(ctx, conversationID, limit, offset)
}
