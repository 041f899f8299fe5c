package auth

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

func (r *Repository) SaveRefreshToken(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	query := `
        INSERT INTO refresh_tokens (id, user_id, token, created_at, expires_at)
        VALUES ($1, $2, $3, $4, $5)
    `

	_, err := r.db.ExecContext(ctx, query, uuid.New(), userID, token, time.Now(), expiresAt)
	return err
}

func (r *Repository) RefreshTokenExists(ctx context.Context, userID uuid.UUID, token string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
        SELECT EXISTS(
            SELECT 1 FROM refresh_tokens
            WHERE user_id = $1 AND token = $2 AND expires_at > NOW()
        )
    `, userID, token).Scan(&exists)
	return exists, err
}

func (r *Repository) RotateRefreshToken(ctx context.Context, userID uuid.UUID, oldToken, newToken string, expiresAt time.Time) error {
	query := `
        UPDATE refresh_tokens
        SET token = $3, created_at = NOW(), expires_at = $4
        WHERE user_id = $1 AND token = $2
    `

	_, err := r.db.ExecContext(ctx, query, userID, oldToken, newToken, expiresAt)
	return err
}

func (r *Repository) DeleteRefreshToken(ctx context.Context, userID uuid.UUID, token string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE user_id = $1 AND token = $2`,
		userID, token,
	)
	return err
}
