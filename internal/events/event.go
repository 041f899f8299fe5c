package events

import (
	"github.com/google/uuid"
)

// Event types. The payload is a discriminated union keyed by Type; every
// event carries the entity id and user ids a consumer needs to handle it
// idempotently and out of order.
const (
	CallIncoming  = "call:incoming"
	CallAnswered  = "call:answered"
	CallDeclined  = "call:declined"
	CallCancelled = "call:cancelled"
	CallEnded     = "call:ended"
	CallMissed    = "call:missed"

	MeetingJoinRequest = "meeting:join-request"
	MeetingAdmitted    = "meeting:admitted"
	MeetingDeclined    = "meeting:declined"
	MeetingEnded       = "meeting:ended"
	MeetingHandRaised  = "meeting:hand-raised"
	MeetingHandLowered = "meeting:hand-lowered"
	MeetingReaction    = "meeting:reaction"
)

type Event struct {
	Type        string    `json:"type"`
	CallID      string    `json:"call_id,omitempty"`
	MeetingID   string    `json:"meeting_id,omitempty"`
	FromID      uuid.UUID `json:"from_id"`
	CallType    string    `json:"call_type,omitempty"`
	RoomName    string    `json:"room_name,omitempty"`
	Token       string    `json:"token,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Emoji       string    `json:"emoji,omitempty"`
}
