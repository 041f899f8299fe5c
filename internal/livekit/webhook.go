package livekit

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/livekit/protocol/auth"
	lksdk "github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/webhook"
)

// Membership event kinds forwarded to subscribers.
const (
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventTrackPublished    = "track_published"
	EventTrackUnpublished  = "track_unpublished"
	EventRoomFinished      = "room_finished"
)

// Track sources forwarded with publish and unpublish events.
const (
	TrackMicrophone  = "microphone"
	TrackCamera      = "camera"
	TrackScreenShare = "screen_share"
)

// MembershipEvent is the server-side view of room membership changes. The
// SDK's delivery is unreliable around reconnects, so consumers must debounce
// participant_left before acting on it.
type MembershipEvent struct {
	Kind     string
	Room     string
	Identity string
	Name     string
	Track    string // set for track events only
}

// RoomKind reports whether the room belongs to a 1:1 call or a meeting.
func (e MembershipEvent) RoomKind() string {
	if strings.HasPrefix(e.Room, CallRoomPrefix+"_") {
		return CallRoomPrefix
	}
	if strings.HasPrefix(e.Room, MeetingRoomPrefix+"_") {
		return MeetingRoomPrefix
	}
	return ""
}

// WebhookHandler verifies and decodes LiveKit webhook posts, forwarding
// membership changes to fn. Unrecognized event types are acknowledged and
// dropped.
func (p *Provider) WebhookHandler(fn func(MembershipEvent)) fiber.Handler {
	provider := auth.NewSimpleKeyProvider(p.cfg.APIKey, p.cfg.APISecret)

	return adaptor.HTTPHandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		event, err := webhook.ReceiveWebhookEvent(r, provider)
		if err != nil {
			http.Error(w, "invalid webhook", http.StatusUnauthorized)
			return
		}

		switch event.Event {
		case EventParticipantJoined, EventParticipantLeft:
			if event.Room == nil || event.Participant == nil {
				break
			}
			fn(MembershipEvent{
				Kind:     event.Event,
				Room:     event.Room.Name,
				Identity: event.Participant.Identity,
				Name:     event.Participant.Name,
			})
		case EventTrackPublished, EventTrackUnpublished:
			if event.Room == nil || event.Participant == nil || event.Track == nil {
				break
			}
			source := trackSource(event.Track)
			if source == "" {
				break
			}
			fn(MembershipEvent{
				Kind:     event.Event,
				Room:     event.Room.Name,
				Identity: event.Participant.Identity,
				Track:    source,
			})
		case EventRoomFinished:
			if event.Room == nil {
				break
			}
			fn(MembershipEvent{
				Kind: event.Event,
				Room: event.Room.Name,
			})
		}

		w.WriteHeader(http.StatusOK)
	})
}

// trackSource names the media source of a track, or "" for sources the
// roster does not track (such as screen-share audio).
func trackSource(t *lksdk.TrackInfo) string {
	switch t.Source {
	case lksdk.TrackSource_MICROPHONE:
		return TrackMicrophone
	case lksdk.TrackSource_CAMERA:
		return TrackCamera
	case lksdk.TrackSource_SCREEN_SHARE:
		return TrackScreenShare
	}
	return ""
}
