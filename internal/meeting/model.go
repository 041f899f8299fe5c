package meeting

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusWaiting = "waiting"
	StatusActive  = "active"
	StatusEnded   = "ended"
)

const (
	ParticipantPending  = "pending"
	ParticipantAdmitted = "admitted"
	ParticipantDeclined = "declined"
	ParticipantLeft     = "left"
)

const (
	RoleHost        = "host"
	RoleParticipant = "participant"
)

type Meeting struct {
	ID               uuid.UUID  `json:"id"`
	RoomName         string     `json:"room_name"`
	Title            string     `json:"title"`
	HostID           uuid.UUID  `json:"host_id"`
	Status           string     `json:"status"`
	AllowScreenShare bool       `json:"allow_screen_share"`
	MuteOnEntry      bool       `json:"mute_on_entry"`
	RequireApproval  bool       `json:"require_approval"`
	MaxParticipants  int        `json:"max_participants"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	ExpiresAt        time.Time  `json:"expires_at"`
	ParticipantCount int        `json:"participant_count,omitempty"`
}

// Participant is one user's registration in a meeting. The room token is
// minted when the registration is created and handed out only when the
// participant is admitted; it never appears in JSON.
type Participant struct {
	ID          uuid.UUID  `json:"id"`
	MeetingID   uuid.UUID  `json:"meeting_id"`
	UserID      uuid.UUID  `json:"user_id"`
	DisplayName string     `json:"display_name"`
	AvatarURL   *string    `json:"avatar_url,omitempty"`
	Role        string     `json:"role"`
	Status      string     `json:"status"`
	AuthToken   string     `json:"-"`
	CreatedAt   time.Time  `json:"created_at"`
	AdmittedAt  *time.Time `json:"admitted_at,omitempty"`
	LeftAt      *time.Time `json:"left_at,omitempty"`
}

func (p *Participant) IsLive() bool {
	return p.Status == ParticipantPending || p.Status == ParticipantAdmitted
}

type CreateMeetingRequest struct {
	Title            string `json:"title" validate:"required,min=1,max=200"`
	AllowScreenShare *bool  `json:"allow_screen_share,omitempty"`
	MuteOnEntry      bool   `json:"mute_on_entry"`
	RequireApproval  bool   `json:"require_approval"`
	MaxParticipants  int    `json:"max_participants" validate:"omitempty,min=2,max=500"`
}

// MeetingSession is what a client needs to enter the media room.
type MeetingSession struct {
	Meeting *Meeting `json:"meeting"`
	Token   string   `json:"token"`
	WsURL   string   `json:"ws_url"`
	Role    string   `json:"role"`
}

// JoinResult is the outcome of a join attempt. Pending means the host has to
// admit the caller first; Session is nil until then.
type JoinResult struct {
	Pending bool            `json:"pending"`
	Session *MeetingSession `json:"session,omitempty"`
}
