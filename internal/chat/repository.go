package chat

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

// FindOrCreateConversation returns the conversation between the pair,
// creating it on first contact. The pair is stored ordered so either
// direction maps to the same row.
func (r *Repository) FindOrCreateConversation(ctx context.Context, userA, userB uuid.UUID) (*Conversation, error) {
	a, b := orderPair(userA, userB)

	query := `
        INSERT INTO conversations (id, user_a, user_b, created_at, updated_at)
        VALUES ($1, $2, $3, NOW(), NOW())
        ON CONFLICT (user_a, user_b) DO UPDATE SET updated_at = NOW()
        RETURNING id, user_a, user_b, created_at, updated_at
    `

	conv := &Conversation{}
	err := r.db.QueryRowContext(ctx, query, uuid.New(), a, b).Scan(
		&conv.ID, &conv.UserA, &conv.UserB, &conv.CreatedAt, &conv.UpdatedAt,
	)

	return conv, err
}

func (r *Repository) FindConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	query := `
        SELECT id, user_a, user_b, created_at, updated_at
        FROM conversations WHERE id = $1
    `

	conv := &Conversation{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID, &conv.UserA, &conv.UserB, &conv.CreatedAt, &conv.UpdatedAt,
	)

	return conv, err
}

func (r *Repository) CreateMessage(ctx context.Context, msg *Message) error {
	query := `
        INSERT INTO messages (id, conversation_id, sender_id, kind, body, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `

	_, err := r.db.ExecContext(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Kind, msg.Body, msg.CreatedAt,
	)

	return err
}

func (r *Repository) GetMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*Message, error) {
	query := `
        SELECT id, conversation_id, sender_id, kind, body, created_at
        FROM messages
        WHERE conversation_id = $1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3
    `

	rows, err := r.db.QueryContext(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg := &Message{}
		err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Kind,
			&msg.Body, &msg.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (r *Repository) TouchConversation(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = $2 WHERE id = $1`,
		id, time.Now(),
	)
	return err
}

func orderPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() < b.String() {
		return a, b
	}
	return b, a
}
