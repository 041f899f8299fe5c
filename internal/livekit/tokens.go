package livekit

import (
	"time"

	"github.com/livekit/protocol/auth"

	"huddle/config"
	"huddle/internal/common/utils"
)

// Room name prefixes distinguish 1:1 call rooms from meeting rooms in
// webhook traffic.
const (
	CallRoomPrefix    = "call"
	MeetingRoomPrefix = "meeting"
)

type Provider struct {
	cfg config.LiveKitConfig
}

func NewProvider(cfg config.LiveKitConfig) *Provider {
	return &Provider{cfg: cfg}
}

// CreateRoom reserves a room name. Rooms auto-create on first participant
// join, so no API call is needed here.
func (p *Provider) CreateRoom(prefix string) string {
	return utils.GenerateRoomName(prefix)
}

// GenerateToken registers a participant for a room and returns their access
// token. Hosts get room admin so they can moderate.
func (p *Provider) GenerateToken(roomName, identity, name, role string) (string, error) {
	at := auth.NewAccessToken(p.cfg.APIKey, p.cfg.APISecret)

	canPublish := true
	canSubscribe := true
	canPublishData := true
	roomAdmin := role == "host"

	grant := &auth.VideoGrant{
		RoomJoin:       true,
		Room:           roomName,
		CanPublish:     &canPublish,
		CanSubscribe:   &canSubscribe,
		CanPublishData: &canPublishData,
		RoomAdmin:      roomAdmin,
	}

	at.SetVideoGrant(grant).
		SetIdentity(identity).
		SetName(name).
		SetMetadata(role).
		SetValidFor(24 * time.Hour)

	return at.ToJWT()
}

// URL returns the websocket endpoint clients should connect their SDK to.
func (p *Provider) URL() string {
	if p.cfg.PublicHost != "" {
		return p.cfg.PublicHost
	}
	return p.cfg.Host
}
