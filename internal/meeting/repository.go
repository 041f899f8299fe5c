package meeting

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const meetingColumns = `id, room_name, title, host_id, status, allow_screen_share,
	mute_on_entry, require_approval, max_participants, created_at, started_at,
	ended_at, expires_at`

const participantColumns = `id, meeting_id, user_id, display_name, avatar_url,
	participant_role, status, auth_token, created_at, admitted_at, left_at`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func scanMeeting(row interface{ Scan(...interface{}) error }) (*Meeting, error) {
	m := &Meeting{}
	err := row.Scan(
		&m.ID, &m.RoomName, &m.Title, &m.HostID, &m.Status,
		&m.AllowScreenShare, &m.MuteOnEntry, &m.RequireApproval,
		&m.MaxParticipants, &m.CreatedAt, &m.StartedAt, &m.EndedAt, &m.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func scanParticipant(row interface{ Scan(...interface{}) error }) (*Participant, error) {
	p := &Participant{}
	err := row.Scan(
		&p.ID, &p.MeetingID, &p.UserID, &p.DisplayName, &p.AvatarURL,
		&p.Role, &p.Status, &p.AuthToken, &p.CreatedAt, &p.AdmittedAt, &p.LeftAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *Repository) Create(ctx context.Context, m *Meeting) error {
	query := `
		INSERT INTO meetings (id, room_name, title, host_id, status,
			allow_screen_share, mute_on_entry, require_approval,
			max_participants, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		m.ID, m.RoomName, m.Title, m.HostID, m.Status,
		m.AllowScreenShare, m.MuteOnEntry, m.RequireApproval,
		m.MaxParticipants, m.CreatedAt, m.ExpiresAt,
	)
	return err
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings WHERE id = $1`
	return scanMeeting(r.db.QueryRowContext(ctx, query, id))
}

func (r *Repository) FindByRoom(ctx context.Context, roomName string) (*Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings WHERE room_name = $1`
	return scanMeeting(r.db.QueryRowContext(ctx, query, roomName))
}

// Activate flips a waiting meeting to active. Already-active meetings are
// left alone, so this is safe to call on every join.
func (r *Repository) Activate(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE meetings SET status = 'active', started_at = NOW()
		WHERE id = $1 AND status = 'waiting'
	`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// End closes the meeting and settles every live registration in the same
// transaction. The conditional update makes concurrent end attempts
// single-winner; losers get won=false.
func (r *Repository) End(ctx context.Context, id uuid.UUID) (*Meeting, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	query := `
		UPDATE meetings SET status = 'ended', ended_at = NOW()
		WHERE id = $1 AND status IN ('waiting', 'active')
		RETURNING ` + meetingColumns

	m, err := scanMeeting(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE meeting_participants
		SET status = CASE WHEN status = 'pending' THEN 'declined' ELSE 'left' END,
		    left_at = NOW()
		WHERE meeting_id = $1 AND status IN ('pending', 'admitted')
	`, id)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// RegisterParticipant inserts a registration unless the user already has a
// live one, in which case the existing row is returned. The partial unique
// index on live registrations is the arbiter under concurrent joins.
func (r *Repository) RegisterParticipant(ctx context.Context, p *Participant) (*Participant, bool, error) {
	query := `
		INSERT INTO meeting_participants (id, meeting_id, user_id, display_name,
			avatar_url, participant_role, status, auth_token, created_at, admitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (meeting_id, user_id) WHERE status IN ('pending', 'admitted')
		DO NOTHING
		RETURNING ` + participantColumns

	created, err := scanParticipant(r.db.QueryRowContext(ctx, query,
		p.ID, p.MeetingID, p.UserID, p.DisplayName, p.AvatarURL,
		p.Role, p.Status, p.AuthToken, p.CreatedAt, p.AdmittedAt,
	))
	if err == nil {
		return created, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, err
	}

	existing, err := r.FindLiveParticipant(ctx, p.MeetingID, p.UserID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *Repository) FindLiveParticipant(ctx context.Context, meetingID, userID uuid.UUID) (*Participant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM meeting_participants
		WHERE meeting_id = $1 AND user_id = $2 AND status IN ('pending', 'admitted')
	`
	return scanParticipant(r.db.QueryRowContext(ctx, query, meetingID, userID))
}

// AdmitParticipant settles a pending registration as admitted. A request
// already declined, admitted, or withdrawn yields won=false.
func (r *Repository) AdmitParticipant(ctx context.Context, meetingID, userID uuid.UUID) (*Participant, bool, error) {
	query := `
		UPDATE meeting_participants
		SET status = 'admitted', admitted_at = NOW()
		WHERE meeting_id = $1 AND user_id = $2 AND status = 'pending'
		RETURNING ` + participantColumns
	return r.settle(ctx, query, meetingID, userID)
}

func (r *Repository) DeclineParticipant(ctx context.Context, meetingID, userID uuid.UUID) (*Participant, bool, error) {
	query := `
		UPDATE meeting_participants
		SET status = 'declined', left_at = NOW()
		WHERE meeting_id = $1 AND user_id = $2 AND status = 'pending'
		RETURNING ` + participantColumns
	return r.settle(ctx, query, meetingID, userID)
}

// LeaveParticipant settles any live registration as left. Covers both an
// admitted participant leaving and a pending requester abandoning the wait.
func (r *Repository) LeaveParticipant(ctx context.Context, meetingID, userID uuid.UUID) (*Participant, bool, error) {
	query := `
		UPDATE meeting_participants
		SET status = 'left', left_at = NOW()
		WHERE meeting_id = $1 AND user_id = $2 AND status IN ('pending', 'admitted')
		RETURNING ` + participantColumns
	return r.settle(ctx, query, meetingID, userID)
}

func (r *Repository) settle(ctx context.Context, query string, meetingID, userID uuid.UUID) (*Participant, bool, error) {
	p, err := scanParticipant(r.db.QueryRowContext(ctx, query, meetingID, userID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return p, true, nil
}

func (r *Repository) ListParticipants(ctx context.Context, meetingID uuid.UUID, statuses ...string) ([]*Participant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM meeting_participants
		WHERE meeting_id = $1 AND status = ANY($2)
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, meetingID, pq.Array(statuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) CountAdmitted(ctx context.Context, meetingID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM meeting_participants
		WHERE meeting_id = $1 AND status = 'admitted'
	`, meetingID).Scan(&n)
	return n, err
}

func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Meeting, error) {
	query := `
		SELECT DISTINCT m.id, m.room_name, m.title, m.host_id, m.status,
			m.allow_screen_share, m.mute_on_entry, m.require_approval,
			m.max_participants, m.created_at, m.started_at, m.ended_at, m.expires_at
		FROM meetings m
		LEFT JOIN meeting_participants mp ON mp.meeting_id = m.id
		WHERE m.host_id = $1 OR mp.user_id = $1
		ORDER BY m.created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ExpireMeetings ends meetings past their lifetime, covering hostless
// meetings nobody explicitly ended.
func (r *Repository) ExpireMeetings(ctx context.Context, now time.Time) ([]*Meeting, error) {
	query := `
		UPDATE meetings SET status = 'ended', ended_at = NOW()
		WHERE status IN ('waiting', 'active') AND expires_at < $1
		RETURNING ` + meetingColumns

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
