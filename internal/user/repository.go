package user

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

func (r *Repository) Create(ctx context.Context, u *User) error {
	query := `
        INSERT INTO users (id, username, email, password_hash, display_name, avatar_url, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `

	_, err := r.db.ExecContext(ctx, query,
		u.ID, u.Username, u.Email, u.PasswordHash, u.DisplayName,
		u.AvatarURL, u.CreatedAt, u.UpdatedAt,
	)

	return err
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `
        SELECT id, username, email, password_hash, display_name, avatar_url, created_at, updated_at
        FROM users WHERE id = $1
    `

	u := &User{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.DisplayName,
		&u.AvatarURL, &u.CreatedAt, &u.UpdatedAt,
	)

	return u, err
}

func (r *Repository) FindByEmail(ctx context.Context, email string) (*User, error) {
	query := `
        SELECT id, username, email, password_hash, display_name, avatar_url, created_at, updated_at
        FROM users WHERE email = $1
    `

	u := &User{}
	err := r.db.QueryRowContext(ctx, query, email).Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.DisplayName,
		&u.AvatarURL, &u.CreatedAt, &u.UpdatedAt,
	)

	return u, err
}

func (r *Repository) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`, email,
	).Scan(&exists)
	return exists, err
}

func (r *Repository) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, username,
	).Scan(&exists)
	return exists, err
}

func (r *Repository) UpdateProfile(ctx context.Context, id uuid.UUID, displayName, avatarURL *string) error {
	query := `
        UPDATE users
        SET display_name = COALESCE($2, display_name),
            avatar_url = COALESCE($3, avatar_url),
            updated_at = $4
        WHERE id = $1
    `

	_, err := r.db.ExecContext(ctx, query, id, displayName, avatarURL, time.Now())
	return err
}
