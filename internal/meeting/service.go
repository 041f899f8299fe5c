package meeting

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"huddle/internal/events"
	"huddle/internal/livekit"
	"huddle/internal/user"
	apperrors "huddle/pkg/errors"
	"huddle/pkg/logger"
)

const meetingLifetime = 24 * time.Hour

type Store interface {
	Create(ctx context.Context, m *Meeting) error
	FindByID(ctx context.Context, id uuid.UUID) (*Meeting, error)
	FindByRoom(ctx context.Context, roomName string) (*Meeting, error)
	Activate(ctx context.Context, id uuid.UUID) error
	End(ctx context.Context, id uuid.UUID) (*Meeting, bool, error)
	RegisterParticipant(ctx context.Context, p *Participant) (*Participant, bool, error)
	FindLiveParticipant(ctx context.Context, meetingID, userID uuid.UUID) (*Participant, error)
	AdmitParticipant(ctx context.Context, meetingID, userID uuid.UUID) (*Participant, bool, error)
	DeclineParticipant(ctx context.Context, meetingID, userID uuid.UUID) (*Participant, bool, error)
	LeaveParticipant(ctx context.Context, meetingID, userID uuid.UUID) (*Participant, bool, error)
	ListParticipants(ctx context.Context, meetingID uuid.UUID, statuses ...string) ([]*Participant, error)
	CountAdmitted(ctx context.Context, meetingID uuid.UUID) (int, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Meeting, error)
	ExpireMeetings(ctx context.Context, now time.Time) ([]*Meeting, error)
}

type UserDirectory interface {
	FindByID(ctx context.Context, id uuid.UUID) (*user.User, error)
}

type RoomProvider interface {
	CreateRoom(prefix string) string
	GenerateToken(roomName, identity, name, role string) (string, error)
	URL() string
}

type Publisher interface {
	Publish(ctx context.Context, userID uuid.UUID, event *events.Event)
}

// Roster mirrors ephemeral in-room UI state (hands, reactions) so snapshot
// reads agree with what was broadcast.
type Roster interface {
	SetHandRaised(room, identity string, raised bool)
	SetReaction(room, identity, emoji string)
}

// InviteMailer delivers meeting invitations. Optional; inviting fails with
// an external error when no mailer is configured.
type InviteMailer interface {
	SendMeetingInviteEmail(to, hostName, title string) error
}

type Service struct {
	store  Store
	users  UserDirectory
	rooms  RoomProvider
	bus    Publisher
	roster Roster
	mailer InviteMailer
	log    *logger.Logger
}

func NewService(store Store, users UserDirectory, rooms RoomProvider, bus Publisher, roster Roster, mailer InviteMailer, log *logger.Logger) *Service {
	return &Service{
		store:  store,
		users:  users,
		rooms:  rooms,
		bus:    bus,
		roster: roster,
		mailer: mailer,
		log:    log,
	}
}

// CreateMeeting provisions the media room, registers the creator as an
// admitted host, and returns the host's session. The meeting stays waiting
// until someone else is admitted. Nothing is persisted if token provisioning
// fails.
func (s *Service) CreateMeeting(ctx context.Context, hostID uuid.UUID, req *CreateMeetingRequest) (*MeetingSession, error) {
	host, err := s.users.FindByID(ctx, hostID)
	if err != nil {
		return nil, apperrors.NotFound("host not found")
	}

	roomName := s.rooms.CreateRoom(livekit.MeetingRoomPrefix)

	hostToken, err := s.rooms.GenerateToken(roomName, hostID.String(), host.DisplayName, RoleHost)
	if err != nil {
		return nil, apperrors.External("failed to provision media room", err)
	}

	allowShare := true
	if req.AllowScreenShare != nil {
		allowShare = *req.AllowScreenShare
	}
	maxParticipants := req.MaxParticipants
	if maxParticipants == 0 {
		maxParticipants = 100
	}

	now := time.Now()
	m := &Meeting{
		ID:               uuid.New(),
		RoomName:         roomName,
		Title:            req.Title,
		HostID:           hostID,
		Status:           StatusWaiting,
		AllowScreenShare: allowShare,
		MuteOnEntry:      req.MuteOnEntry,
		RequireApproval:  req.RequireApproval,
		MaxParticipants:  maxParticipants,
		CreatedAt:        now,
		ExpiresAt:        now.Add(meetingLifetime),
	}

	if err := s.store.Create(ctx, m); err != nil {
		return nil, err
	}

	if _, _, err := s.store.RegisterParticipant(ctx, &Participant{
		ID:          uuid.New(),
		MeetingID:   m.ID,
		UserID:      hostID,
		DisplayName: host.DisplayName,
		AvatarURL:   host.AvatarURL,
		Role:        RoleHost,
		Status:      ParticipantAdmitted,
		AuthToken:   hostToken,
		CreatedAt:   now,
		AdmittedAt:  &now,
	}); err != nil {
		return nil, err
	}

	return &MeetingSession{Meeting: m, Token: hostToken, WsURL: s.rooms.URL(), Role: RoleHost}, nil
}

// JoinMeeting registers the caller. With the approval gate on, a non-host
// gets a pending registration and the host is notified; the token is minted
// now but only handed out once the host admits. Rejoining while already
// registered reuses the live registration.
func (s *Service) JoinMeeting(ctx context.Context, meetingID, userID uuid.UUID) (*JoinResult, error) {
	m, err := s.findMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if m.Status == StatusEnded {
		return nil, apperrors.InvalidState("meeting already ended")
	}

	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, apperrors.NotFound("user not found")
	}

	if existing, err := s.store.FindLiveParticipant(ctx, meetingID, userID); err == nil {
		return s.joinResultFor(m, existing), nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	admitted, err := s.store.CountAdmitted(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if admitted >= m.MaxParticipants {
		return nil, apperrors.InvalidState("meeting is full")
	}

	role := RoleParticipant
	if userID == m.HostID {
		role = RoleHost
	}

	token, err := s.rooms.GenerateToken(m.RoomName, userID.String(), u.DisplayName, role)
	if err != nil {
		return nil, apperrors.External("failed to provision media room", err)
	}

	now := time.Now()
	p := &Participant{
		ID:          uuid.New(),
		MeetingID:   meetingID,
		UserID:      userID,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Role:        role,
		Status:      ParticipantAdmitted,
		AuthToken:   token,
		CreatedAt:   now,
		AdmittedAt:  &now,
	}

	needsApproval := m.RequireApproval && userID != m.HostID
	if needsApproval {
		p.Status = ParticipantPending
		p.AdmittedAt = nil
	}

	registered, created, err := s.store.RegisterParticipant(ctx, p)
	if err != nil {
		return nil, err
	}
	if !created {
		// lost a join race; the surviving registration wins
		return s.joinResultFor(m, registered), nil
	}

	if needsApproval {
		avatar := ""
		if u.AvatarURL != nil {
			avatar = *u.AvatarURL
		}
		s.bus.Publish(ctx, m.HostID, &events.Event{
			Type:        events.MeetingJoinRequest,
			MeetingID:   meetingID.String(),
			FromID:      userID,
			DisplayName: u.DisplayName,
			AvatarURL:   avatar,
		})
		return &JoinResult{Pending: true}, nil
	}

	if err := s.store.Activate(ctx, meetingID); err != nil {
		s.log.Errorf("meeting: activating %s failed: %v", meetingID, err)
	}

	return s.joinResultFor(m, registered), nil
}

func (s *Service) joinResultFor(m *Meeting, p *Participant) *JoinResult {
	if p.Status == ParticipantPending {
		return &JoinResult{Pending: true}
	}
	return &JoinResult{Session: &MeetingSession{
		Meeting: m,
		Token:   p.AuthToken,
		WsURL:   s.rooms.URL(),
		Role:    p.Role,
	}}
}

// AdmitParticipant settles a pending join request. The event carries the
// token minted at registration time so the waiting client can connect
// immediately.
func (s *Service) AdmitParticipant(ctx context.Context, meetingID, hostID, userID uuid.UUID) (*Participant, error) {
	m, err := s.requireHost(ctx, meetingID, hostID)
	if err != nil {
		return nil, err
	}

	p, won, err := s.store.AdmitParticipant(ctx, meetingID, userID)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, apperrors.InvalidState("join request already resolved")
	}

	if err := s.store.Activate(ctx, meetingID); err != nil {
		s.log.Errorf("meeting: activating %s failed: %v", meetingID, err)
	}

	s.bus.Publish(ctx, userID, &events.Event{
		Type:      events.MeetingAdmitted,
		MeetingID: meetingID.String(),
		FromID:    hostID,
		RoomName:  m.RoomName,
		Token:     p.AuthToken,
	})

	return p, nil
}

func (s *Service) DeclineParticipant(ctx context.Context, meetingID, hostID, userID uuid.UUID) (*Participant, error) {
	if _, err := s.requireHost(ctx, meetingID, hostID); err != nil {
		return nil, err
	}

	p, won, err := s.store.DeclineParticipant(ctx, meetingID, userID)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, apperrors.InvalidState("join request already resolved")
	}

	s.bus.Publish(ctx, userID, &events.Event{
		Type:      events.MeetingDeclined,
		MeetingID: meetingID.String(),
		FromID:    hostID,
	})

	return p, nil
}

// EndMeeting closes the meeting for everyone. Ending an already-ended
// meeting is benign. Every live registration at the moment of ending gets
// the ended event.
// InviteParticipant emails an invitation on the host's behalf. The invitee
// still goes through the regular join flow.
func (s *Service) InviteParticipant(ctx context.Context, meetingID, hostID uuid.UUID, email string) error {
	m, err := s.requireHost(ctx, meetingID, hostID)
	if err != nil {
		return err
	}
	if m.Status == StatusEnded {
		return apperrors.InvalidState("meeting has ended")
	}
	if s.mailer == nil {
		return apperrors.New(apperrors.CodeExternal, "email delivery is not configured")
	}

	host, err := s.users.FindByID(ctx, hostID)
	if err != nil {
		return apperrors.NotFound("host not found")
	}

	if err := s.mailer.SendMeetingInviteEmail(email, host.DisplayName, m.Title); err != nil {
		return apperrors.External("failed to send invitation", err)
	}
	return nil
}

func (s *Service) EndMeeting(ctx context.Context, meetingID, hostID uuid.UUID) (*Meeting, error) {
	if _, err := s.requireHost(ctx, meetingID, hostID); err != nil {
		return nil, err
	}

	live, err := s.store.ListParticipants(ctx, meetingID, ParticipantPending, ParticipantAdmitted)
	if err != nil {
		return nil, err
	}

	ended, won, err := s.store.End(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if !won {
		return s.findMeeting(ctx, meetingID)
	}

	for _, p := range live {
		if p.UserID == hostID {
			continue
		}
		s.bus.Publish(ctx, p.UserID, &events.Event{
			Type:      events.MeetingEnded,
			MeetingID: meetingID.String(),
			FromID:    hostID,
		})
	}

	return ended, nil
}

// LeaveMeeting settles the caller's own registration. The meeting itself
// stays up even when the host leaves; the expiry sweep eventually closes
// abandoned rooms.
func (s *Service) LeaveMeeting(ctx context.Context, meetingID, userID uuid.UUID) error {
	if _, err := s.findMeeting(ctx, meetingID); err != nil {
		return err
	}

	// losing the settle race means there was nothing live to leave; benign
	_, _, err := s.store.LeaveParticipant(ctx, meetingID, userID)
	return err
}

// ToggleHandRaise broadcasts the hand state to everyone admitted. The state
// is ephemeral; the roster mirror is the only server-side record.
func (s *Service) ToggleHandRaise(ctx context.Context, meetingID, userID uuid.UUID, raised bool) error {
	m, p, err := s.requireAdmitted(ctx, meetingID, userID)
	if err != nil {
		return err
	}

	if s.roster != nil {
		s.roster.SetHandRaised(m.RoomName, userID.String(), raised)
	}

	eventType := events.MeetingHandRaised
	if !raised {
		eventType = events.MeetingHandLowered
	}

	s.broadcast(ctx, meetingID, userID, &events.Event{
		Type:        eventType,
		MeetingID:   meetingID.String(),
		FromID:      userID,
		DisplayName: p.DisplayName,
	})
	return nil
}

// SendReaction broadcasts an emoji shown on the sender's tile for a few
// seconds client-side.
func (s *Service) SendReaction(ctx context.Context, meetingID, userID uuid.UUID, emoji string) error {
	m, p, err := s.requireAdmitted(ctx, meetingID, userID)
	if err != nil {
		return err
	}

	if s.roster != nil {
		s.roster.SetReaction(m.RoomName, userID.String(), emoji)
	}

	s.broadcast(ctx, meetingID, userID, &events.Event{
		Type:        events.MeetingReaction,
		MeetingID:   meetingID.String(),
		FromID:      userID,
		DisplayName: p.DisplayName,
		Emoji:       emoji,
	})
	return nil
}

func (s *Service) GetMeeting(ctx context.Context, meetingID uuid.UUID) (*Meeting, error) {
	return s.findMeeting(ctx, meetingID)
}

// ListParticipants returns the meeting roster. The host also sees pending
// join requests; everyone else sees admitted participants only.
func (s *Service) ListParticipants(ctx context.Context, meetingID, userID uuid.UUID) ([]*Participant, error) {
	m, err := s.findMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}

	statuses := []string{ParticipantAdmitted}
	if userID == m.HostID {
		statuses = append(statuses, ParticipantPending)
	}
	return s.store.ListParticipants(ctx, meetingID, statuses...)
}

func (s *Service) GetMeetingHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Meeting, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.ListForUser(ctx, userID, limit, offset)
}

// HandleRoomEvent settles the registration of a participant confirmed gone
// from a meeting room.
func (s *Service) HandleRoomEvent(roomName, identity string) {
	userID, err := uuid.Parse(identity)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m, err := s.store.FindByRoom(ctx, roomName)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.log.Errorf("meeting: room lookup for %s failed: %v", roomName, err)
		}
		return
	}
	if m.Status == StatusEnded {
		return
	}

	if _, _, err := s.store.LeaveParticipant(ctx, m.ID, userID); err != nil {
		s.log.Errorf("meeting: settling departed participant %s failed: %v", userID, err)
	}
}

// CleanupExpired ends meetings past their lifetime and notifies whoever was
// still registered.
func (s *Service) CleanupExpired(ctx context.Context) {
	expired, err := s.store.ExpireMeetings(ctx, time.Now())
	if err != nil {
		s.log.Errorf("meeting: expiry sweep failed: %v", err)
		return
	}

	for _, m := range expired {
		live, err := s.store.ListParticipants(ctx, m.ID, ParticipantPending, ParticipantAdmitted, ParticipantLeft)
		if err != nil {
			s.log.Errorf("meeting: listing participants of expired %s failed: %v", m.ID, err)
			continue
		}
		for _, p := range live {
			s.bus.Publish(ctx, p.UserID, &events.Event{
				Type:      events.MeetingEnded,
				MeetingID: m.ID.String(),
				FromID:    m.HostID,
			})
		}
		s.log.Infof("meeting: expired %s", m.ID)
	}
}

func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.CleanupExpired(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) findMeeting(ctx context.Context, meetingID uuid.UUID) (*Meeting, error) {
	m, err := s.store.FindByID(ctx, meetingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("meeting not found")
		}
		return nil, err
	}
	return m, nil
}

func (s *Service) requireHost(ctx context.Context, meetingID, userID uuid.UUID) (*Meeting, error) {
	m, err := s.findMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if m.HostID != userID {
		return nil, apperrors.NotAuthorized("only the host can do this")
	}
	return m, nil
}

func (s *Service) requireAdmitted(ctx context.Context, meetingID, userID uuid.UUID) (*Meeting, *Participant, error) {
	m, err := s.findMeeting(ctx, meetingID)
	if err != nil {
		return nil, nil, err
	}
	if m.Status == StatusEnded {
		return nil, nil, apperrors.InvalidState("meeting already ended")
	}

	p, err := s.store.FindLiveParticipant(ctx, meetingID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, apperrors.NotAuthorized("not a meeting participant")
		}
		return nil, nil, err
	}
	if p.Status != ParticipantAdmitted {
		return nil, nil, apperrors.NotAuthorized("not admitted to this meeting")
	}
	return m, p, nil
}

func (s *Service) broadcast(ctx context.Context, meetingID, senderID uuid.UUID, ev *events.Event) {
	admitted, err := s.store.ListParticipants(ctx, meetingID, ParticipantAdmitted)
	if err != nil {
		s.log.Errorf("meeting: broadcast roster lookup for %s failed: %v", meetingID, err)
		return
	}
	for _, p := range admitted {
		if p.UserID == senderID {
			continue
		}
		s.bus.Publish(ctx, p.UserID, ev)
	}
}
