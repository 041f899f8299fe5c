package push

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) RegisterDeviceToken(ctx context.Context, token *DeviceToken) error {
	query := `
		INSERT INTO device_tokens (id, user_id, token, device_type, is_active, last_used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, token)
		DO UPDATE SET
			device_type = EXCLUDED.device_type,
			is_active = EXCLUDED.is_active,
			last_used_at = EXCLUDED.last_used_at
	`

	_, err := r.db.ExecContext(ctx, query,
		token.ID, token.UserID, token.Token, token.DeviceType,
		token.IsActive, token.LastUsedAt, token.CreatedAt,
	)
	return err
}

func (r *Repository) GetActiveTokensForUser(ctx context.Context, userID uuid.UUID) ([]*DeviceToken, error) {
	query := `
		SELECT id, user_id, token, device_type, is_active, last_used_at, created_at
		FROM device_tokens
		WHERE user_id = $1 AND is_active = TRUE
		ORDER BY last_used_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []*DeviceToken
	for rows.Next() {
		t := &DeviceToken{}
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &t.DeviceType, &t.IsActive, &t.LastUsedAt, &t.CreatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (r *Repository) DeactivateToken(ctx context.Context, userID uuid.UUID, token string) error {
	query := `UPDATE device_tokens SET is_active = FALSE WHERE user_id = $1 AND token = $2`
	_, err := r.db.ExecContext(ctx, query, userID, token)
	return err
}

func (r *Repository) TouchToken(ctx context.Context, token string) error {
	query := `UPDATE device_tokens SET last_used_at = $1 WHERE token = $2 AND is_active = TRUE`
	_, err := r.db.ExecContext(ctx, query, time.Now(), token)
	return err
}

func (r *Repository) CleanupOldTokens(ctx context.Context, olderThan time.Time) error {
	query := `DELETE FROM device_tokens WHERE is_active = FALSE AND created_at < $1`
	_, err := r.db.ExecContext(ctx, query, olderThan)
	return err
}
