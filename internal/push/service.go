package push

import (
	"context"
	"fmt"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/google/uuid"

	"huddle/pkg/logger"
)

type Messenger interface {
	SendCallMessage(ctx context.Context, deviceToken string, data *CallPushData) error
}

type TokenStore interface {
	RegisterDeviceToken(ctx context.Context, token *DeviceToken) error
	GetActiveTokensForUser(ctx context.Context, userID uuid.UUID) ([]*DeviceToken, error)
	DeactivateToken(ctx context.Context, userID uuid.UUID, token string) error
	TouchToken(ctx context.Context, token string) error
	CleanupOldTokens(ctx context.Context, olderThan time.Time) error
}

// Tokens idle for longer than this are assumed to belong to uninstalled or
// re-provisioned devices and get swept.
const tokenRetention = 30 * 24 * time.Hour

type Service struct {
	repo      TokenStore
	messenger Messenger
	log       *logger.Logger
}

func NewService(repo TokenStore, messenger Messenger, log *logger.Logger) *Service {
	return &Service{repo: repo, messenger: messenger, log: log}
}

func (s *Service) RegisterDeviceToken(ctx context.Context, userID uuid.UUID, req *RegisterTokenRequest) error {
	now := time.Now()
	return s.repo.RegisterDeviceToken(ctx, &DeviceToken{
		ID:         uuid.New(),
		UserID:     userID,
		Token:      req.Token,
		DeviceType: req.DeviceType,
		IsActive:   true,
		LastUsedAt: now,
		CreatedAt:  now,
	})
}

// SendCallPush fans the incoming-call payload out to every active device the
// user has registered. Tokens the provider reports as unregistered are
// deactivated so they are not retried next time.
func (s *Service) SendCallPush(ctx context.Context, userID uuid.UUID, data *CallPushData) error {
	tokens, err := s.repo.GetActiveTokensForUser(ctx, userID)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return fmt.Errorf("no active push tokens for user %s", userID)
	}

	var lastErr error
	sent := 0
	for _, t := range tokens {
		if err := s.messenger.SendCallMessage(ctx, t.Token, data); err != nil {
			lastErr = err
			s.log.Errorf("push: delivery to device %s failed: %v", t.ID, err)
			if messaging.IsRegistrationTokenNotRegistered(err) {
				if derr := s.repo.DeactivateToken(ctx, t.UserID, t.Token); derr != nil {
					s.log.Errorf("push: deactivating stale token %s failed: %v", t.ID, derr)
				}
			}
			continue
		}
		sent++
		if terr := s.repo.TouchToken(ctx, t.Token); terr != nil {
			s.log.Errorf("push: touching token %s failed: %v", t.ID, terr)
		}
	}

	if sent == 0 && lastErr != nil {
		return fmt.Errorf("push delivery failed for all devices: %w", lastErr)
	}
	return nil
}

func (s *Service) DeactivateToken(ctx context.Context, userID uuid.UUID, token string) error {
	return s.repo.DeactivateToken(ctx, userID, token)
}

func (s *Service) CleanupOldTokens(ctx context.Context) error {
	return s.repo.CleanupOldTokens(ctx, time.Now().Add(-tokenRetention))
}

// Run sweeps stale device tokens once a day until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.CleanupOldTokens(ctx); err != nil {
				s.log.Errorf("push: token cleanup failed: %v", err)
			}
		}
	}
}
