package call

import (
	"time"

	"github.com/google/uuid"
)

// Call statuses. ringing and ongoing are live; the rest are terminal and a
// call never leaves a terminal status.
const (
	StatusRinging   = "ringing"
	StatusOngoing   = "ongoing"
	StatusCompleted = "completed"
	StatusMissed    = "missed"
	StatusDeclined  = "declined"
	StatusFailed    = "failed"
)

const (
	TypeAudio = "audio"
	TypeVideo = "video"
)

type Call struct {
	ID             uuid.UUID  `json:"id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	CallerID       uuid.UUID  `json:"caller_id"`
	ReceiverID     uuid.UUID  `json:"receiver_id"`
	CallType       string     `json:"call_type"`
	Status         string     `json:"status"`
	RoomName       string     `json:"room_name"`
	CallerToken    string     `json:"-"`
	ReceiverToken  string     `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	AnsweredAt     *time.Time `json:"answered_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	Duration       int        `json:"duration"`
}

func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusMissed, StatusDeclined, StatusFailed:
		return true
	}
	return false
}

// TokenFor returns the stored media token for whichever side of the call the
// user is on, or empty if they are not a party.
func (c *Call) TokenFor(userID uuid.UUID) string {
	switch userID {
	case c.CallerID:
		return c.CallerToken
	case c.ReceiverID:
		return c.ReceiverToken
	}
	return ""
}

func (c *Call) IsParty(userID uuid.UUID) bool {
	return userID == c.CallerID || userID == c.ReceiverID
}

// OtherParty returns the peer of the given participant.
func (c *Call) OtherParty(userID uuid.UUID) uuid.UUID {
	if userID == c.CallerID {
		return c.ReceiverID
	}
	return c.CallerID
}
