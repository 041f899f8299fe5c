package call

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

const callColumns = `
    id, conversation_id, caller_id, receiver_id, call_type, status,
    room_name, caller_token, receiver_token, created_at, answered_at,
    ended_at, duration
`

func scanCall(row interface{ Scan(...interface{}) error }) (*Call, error) {
	c := &Call{}
	err := row.Scan(
		&c.ID, &c.ConversationID, &c.CallerID, &c.ReceiverID, &c.CallType,
		&c.Status, &c.RoomName, &c.CallerToken, &c.ReceiverToken,
		&c.CreatedAt, &c.AnsweredAt, &c.EndedAt, &c.Duration,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Repository) Create(ctx context.Context, c *Call) error {
	query := `
        INSERT INTO calls (
            id, conversation_id, caller_id, receiver_id, call_type, status,
            room_name, caller_token, receiver_token, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `

	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.ConversationID, c.CallerID, c.ReceiverID, c.CallType,
		c.Status, c.RoomName, c.CallerToken, c.ReceiverToken, c.CreatedAt,
	)

	return err
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	return scanCall(r.db.QueryRowContext(ctx, query, id))
}

// Answer transitions ringing to ongoing. The WHERE clause is the race guard:
// zero rows means the call was already resolved by the other party or a
// sweep, and the caller should treat it as a benign conflict.
func (r *Repository) Answer(ctx context.Context, id uuid.UUID) (*Call, bool, error) {
	query := `
        UPDATE calls
        SET status = 'ongoing', answered_at = NOW()
        WHERE id = $1 AND status = 'ringing'
        RETURNING ` + callColumns

	c, err := scanCall(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

func (r *Repository) Decline(ctx context.Context, id uuid.UUID) (*Call, bool, error) {
	query := `
        UPDATE calls
        SET status = 'declined', ended_at = NOW()
        WHERE id = $1 AND status = 'ringing'
        RETURNING ` + callColumns

	c, err := scanCall(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// ResolveEnd performs the single atomic terminal transition for an end
// request. The outcome depends on the row's status at update time: an
// unanswered call ended by the caller is missed, ended by the receiver it is
// declined; an ongoing call completes with its duration. Exactly one of two
// racing enders gets a row back.
func (r *Repository) ResolveEnd(ctx context.Context, id, enderID uuid.UUID) (*Call, bool, error) {
	query := `
        UPDATE calls
        SET status = CASE
                WHEN status = 'ongoing' THEN 'completed'
                WHEN caller_id = $2 THEN 'missed'
                ELSE 'declined'
            END,
            ended_at = NOW(),
            duration = CASE
                WHEN answered_at IS NOT NULL THEN GREATEST(0, EXTRACT(EPOCH FROM (NOW() - answered_at))::int)
                ELSE 0
            END
        WHERE id = $1 AND status IN ('ringing', 'ongoing')
        RETURNING ` + callColumns

	c, err := scanCall(r.db.QueryRowContext(ctx, query, id, enderID))
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// ExpirePairRinging invalidates unanswered calls between the pair, either
// direction. A fresh initiate supersedes them.
func (r *Repository) ExpirePairRinging(ctx context.Context, a, b uuid.UUID) error {
	query := `
        UPDATE calls
        SET status = 'missed', ended_at = NOW()
        WHERE status = 'ringing'
          AND ((caller_id = $1 AND receiver_id = $2) OR (caller_id = $2 AND receiver_id = $1))
    `

	_, err := r.db.ExecContext(ctx, query, a, b)
	return err
}

// ExpireRingingInvolving self-heals rows stuck ringing with the user on
// either side.
func (r *Repository) ExpireRingingInvolving(ctx context.Context, userID uuid.UUID, olderThan time.Duration) error {
	query := `
        UPDATE calls
        SET status = 'missed', ended_at = NOW()
        WHERE status = 'ringing'
          AND (caller_id = $1 OR receiver_id = $1)
          AND created_at < NOW() - $2 * INTERVAL '1 second'
    `

	_, err := r.db.ExecContext(ctx, query, userID, int(olderThan.Seconds()))
	return err
}

// ExpireStaleRinging flips timed-out ringing calls to missed and returns
// them so the sweep can notify both parties.
func (r *Repository) ExpireStaleRinging(ctx context.Context, olderThan time.Duration) ([]*Call, error) {
	query := `
        UPDATE calls
        SET status = 'missed', ended_at = NOW()
        WHERE status = 'ringing'
          AND created_at < NOW() - $1 * INTERVAL '1 second'
        RETURNING ` + callColumns

	return r.queryCalls(ctx, query, int(olderThan.Seconds()))
}

// FailStuckOngoing closes calls left ongoing past any plausible duration
// (crash or navigation loss on both sides).
func (r *Repository) FailStuckOngoing(ctx context.Context, olderThan time.Duration) ([]*Call, error) {
	query := `
        UPDATE calls
        SET status = 'failed', ended_at = NOW()
        WHERE status = 'ongoing'
          AND created_at < NOW() - $1 * INTERVAL '1 second'
        RETURNING ` + callColumns

	return r.queryCalls(ctx, query, int(olderThan.Seconds()))
}

func (r *Repository) FindNewestRinging(ctx context.Context, receiverID uuid.UUID, window time.Duration) (*Call, error) {
	query := `
        SELECT ` + callColumns + `
        FROM calls
        WHERE receiver_id = $1 AND status = 'ringing'
          AND created_at > NOW() - $2 * INTERVAL '1 second'
        ORDER BY created_at DESC
        LIMIT 1
    `

	return scanCall(r.db.QueryRowContext(ctx, query, receiverID, int(window.Seconds())))
}

func (r *Repository) FindOngoing(ctx context.Context, userID uuid.UUID, window time.Duration) (*Call, error) {
	query := `
        SELECT ` + callColumns + `
        FROM calls
        WHERE (caller_id = $1 OR receiver_id = $1) AND status = 'ongoing'
          AND answered_at > NOW() - $2 * INTERVAL '1 second'
        ORDER BY answered_at DESC
        LIMIT 1
    `

	return scanCall(r.db.QueryRowContext(ctx, query, userID, int(window.Seconds())))
}

// FindActiveByRoom resolves a live call from its media room name, used when
// handling membership webhooks.
func (r *Repository) FindActiveByRoom(ctx context.Context, roomName string) (*Call, error) {
	query := `
        SELECT ` + callColumns + `
        FROM calls
        WHERE room_name = $1 AND status IN ('ringing', 'ongoing')
        ORDER BY created_at DESC
        LIMIT 1
    `

	return scanCall(r.db.QueryRowContext(ctx, query, roomName))
}

func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Call, error) {
	query := `
        SELECT ` + callColumns + `
        FROM calls
        WHERE caller_id = $1 OR receiver_id = $1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3
    `

	return r.queryCalls(ctx, query, userID, limit, offset)
}

func (r *Repository) queryCalls(ctx context.Context, query string, args ...interface{}) ([]*Call, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []*Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}

	return calls, rows.Err()
}
