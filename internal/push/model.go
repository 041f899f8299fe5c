package push

import (
	"time"

	"github.com/google/uuid"
)

type DeviceToken struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	Token      string    `json:"token"`
	DeviceType string    `json:"device_type"` // "ios", "android", "web"
	IsActive   bool      `json:"is_active"`
	LastUsedAt time.Time `json:"last_used_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// CallPushData is the payload delivered to a device that has no live
// event-stream connection when a call comes in.
type CallPushData struct {
	CallID     string `json:"call_id"`
	CallerID   string `json:"caller_id"`
	CallerName string `json:"caller_name"`
	CallType   string `json:"call_type"` // "audio", "video"
	RoomName   string `json:"room_name"`
	Token      string `json:"token,omitempty"`
}

type RegisterTokenRequest struct {
	Token      string `json:"token" validate:"required"`
	DeviceType string `json:"device_type" validate:"required,oneof=ios android web"`
}
