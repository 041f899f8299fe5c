package meeting

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"huddle/internal/events"
	"huddle/internal/user"
	apperrors "huddle/pkg/errors"
	"huddle/pkg/logger"
)

type fakeStore struct {
	mu           sync.Mutex
	meetings     map[uuid.UUID]*Meeting
	participants []*Participant
}

func newFakeStore() *fakeStore {
	return &fakeStore{meetings: make(map[uuid.UUID]*Meeting)}
}

func (f *fakeStore) Create(_ context.Context, m *Meeting) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *m
	f.meetings[m.ID] = &cp
	return nil
}

func (f *fakeStore) FindByID(_ context.Context, id uuid.UUID) (*Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meetings[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *m
	return &cp, nil
}

func (f *fakeStore) FindByRoom(_ context.Context, roomName string) (*Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.meetings {
		if m.RoomName == roomName {
			cp := *m
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeStore) Activate(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.meetings[id]; ok && m.Status == StatusWaiting {
		now := time.Now()
		m.Status = StatusActive
		m.StartedAt = &now
	}
	return nil
}

func (f *fakeStore) End(_ context.Context, id uuid.UUID) (*Meeting, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meetings[id]
	if !ok || m.Status == StatusEnded {
		return nil, false, nil
	}
	now := time.Now()
	m.Status = StatusEnded
	m.EndedAt = &now
	for _, p := range f.participants {
		if p.MeetingID == id && p.IsLive() {
			if p.Status == ParticipantPending {
				p.Status = ParticipantDeclined
			} else {
				p.Status = ParticipantLeft
			}
			p.LeftAt = &now
		}
	}
	cp := *m
	return &cp, true, nil
}

func (f *fakeStore) RegisterParticipant(_ context.Context, p *Participant) (*Participant, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.participants {
		if existing.MeetingID == p.MeetingID && existing.UserID == p.UserID && existing.IsLive() {
			cp := *existing
			return &cp, false, nil
		}
	}
	cp := *p
	f.participants = append(f.participants, &cp)
	out := cp
	return &out, true, nil
}

func (f *fakeStore) FindLiveParticipant(_ context.Context, meetingID, userID uuid.UUID) (*Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.participants {
		if p.MeetingID == meetingID && p.UserID == userID && p.IsLive() {
			cp := *p
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeStore) AdmitParticipant(_ context.Context, meetingID, userID uuid.UUID) (*Participant, bool, error) {
	return f.settle(meetingID, userID, []string{ParticipantPending}, ParticipantAdmitted)
}

func (f *fakeStore) DeclineParticipant(_ context.Context, meetingID, userID uuid.UUID) (*Participant, bool, error) {
	return f.settle(meetingID, userID, []string{ParticipantPending}, ParticipantDeclined)
}

func (f *fakeStore) LeaveParticipant(_ context.Context, meetingID, userID uuid.UUID) (*Participant, bool, error) {
	return f.settle(meetingID, userID, []string{ParticipantPending, ParticipantAdmitted}, ParticipantLeft)
}

func (f *fakeStore) settle(meetingID, userID uuid.UUID, from []string, to string) (*Participant, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.participants {
		if p.MeetingID != meetingID || p.UserID != userID {
			continue
		}
		for _, s := range from {
			if p.Status == s {
				now := time.Now()
				p.Status = to
				if to == ParticipantAdmitted {
					p.AdmittedAt = &now
				} else {
					p.LeftAt = &now
				}
				cp := *p
				return &cp, true, nil
			}
		}
	}
	return nil, false, nil
}

func (f *fakeStore) ListParticipants(_ context.Context, meetingID uuid.UUID, statuses ...string) ([]*Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Participant
	for _, p := range f.participants {
		if p.MeetingID != meetingID {
			continue
		}
		for _, s := range statuses {
			if p.Status == s {
				cp := *p
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) CountAdmitted(_ context.Context, meetingID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.participants {
		if p.MeetingID == meetingID && p.Status == ParticipantAdmitted {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ListForUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]*Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Meeting
	for _, m := range f.meetings {
		if m.HostID == userID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) ExpireMeetings(_ context.Context, now time.Time) ([]*Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Meeting
	for _, m := range f.meetings {
		if m.Status != StatusEnded && m.ExpiresAt.Before(now) {
			m.Status = StatusEnded
			m.EndedAt = &now
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeUsers struct {
	users map[uuid.UUID]*user.User
}

func (f *fakeUsers) FindByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

type fakeRooms struct {
	mu      sync.Mutex
	counter int
}

func (f *fakeRooms) CreateRoom(prefix string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counter++
	return fmt.Sprintf("%s_room%d", prefix, f.counter)
}

func (f *fakeRooms) GenerateToken(roomName, identity, _, role string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counter++
	return fmt.Sprintf("tok:%s:%s:%s:%d", roomName, identity, role, f.counter), nil
}

func (f *fakeRooms) URL() string { return "wss://livekit.test" }

type fakeBus struct {
	mu     sync.Mutex
	byUser map[uuid.UUID][]*events.Event
}

func newFakeBus() *fakeBus {
	return &fakeBus{byUser: make(map[uuid.UUID][]*events.Event)}
}

func (f *fakeBus) Publish(_ context.Context, userID uuid.UUID, ev *events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byUser[userID] = append(f.byUser[userID], ev)
}

func (f *fakeBus) eventsFor(userID uuid.UUID) []*events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*events.Event(nil), f.byUser[userID]...)
}

func (f *fakeBus) lastOfType(userID uuid.UUID, eventType string) *events.Event {
	var last *events.Event
	for _, ev := range f.eventsFor(userID) {
		if ev.Type == eventType {
			last = ev
		}
	}
	return last
}

func (f *fakeBus) countByType(userID uuid.UUID, eventType string) int {
	n := 0
	for _, ev := range f.eventsFor(userID) {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

type fakeRoster struct {
	mu        sync.Mutex
	hands     map[string]bool
	reactions map[string]string
}

func newFakeRoster() *fakeRoster {
	return &fakeRoster{hands: make(map[string]bool), reactions: make(map[string]string)}
}

func (f *fakeRoster) SetHandRaised(room, identity string, raised bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hands[room+"/"+identity] = raised
}

func (f *fakeRoster) SetReaction(room, identity, emoji string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions[room+"/"+identity] = emoji
}

type fakeMailer struct {
	mu      sync.Mutex
	invites []string
}

func (f *fakeMailer) SendMeetingInviteEmail(to, hostName, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invites = append(f.invites, to+"/"+hostName+"/"+title)
	return nil
}

type fixture struct {
	svc    *Service
	store  *fakeStore
	bus    *fakeBus
	roster *fakeRoster
	mailer *fakeMailer
	host   *user.User
	guest  *user.User
	other  *user.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	host := &user.User{ID: uuid.New(), Username: "hana", Email: "hana@example.com", DisplayName: "Hana"}
	guest := &user.User{ID: uuid.New(), Username: "greg", Email: "greg@example.com", DisplayName: "Greg"}
	other := &user.User{ID: uuid.New(), Username: "omar", Email: "omar@example.com", DisplayName: "Omar"}

	store := newFakeStore()
	bus := newFakeBus()
	ros := newFakeRoster()
	users := &fakeUsers{users: map[uuid.UUID]*user.User{host.ID: host, guest.ID: guest, other.ID: other}}

	mailer := &fakeMailer{}
	svc := NewService(store, users, &fakeRooms{}, bus, ros, mailer, logger.NewNop())

	return &fixture{svc: svc, store: store, bus: bus, roster: ros, mailer: mailer, host: host, guest: guest, other: other}
}

func (fx *fixture) createMeeting(t *testing.T, requireApproval bool) *MeetingSession {
	t.Helper()
	session, err := fx.svc.CreateMeeting(context.Background(), fx.host.ID, &CreateMeetingRequest{
		Title:           "standup",
		RequireApproval: requireApproval,
	})
	require.NoError(t, err)
	return session
}

func TestCreateMeeting(t *testing.T) {
	fx := newFixture(t)

	session := fx.createMeeting(t, false)

	assert.Equal(t, StatusWaiting, session.Meeting.Status)
	assert.Equal(t, fx.host.ID, session.Meeting.HostID)
	assert.Equal(t, RoleHost, session.Role)
	assert.Contains(t, session.Token, fx.host.ID.String())
	assert.Contains(t, session.Token, RoleHost)
	assert.Equal(t, "wss://livekit.test", session.WsURL)
}

func TestJoinMeeting_NoApproval(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session := fx.createMeeting(t, false)

	result, err := fx.svc.JoinMeeting(ctx, session.Meeting.ID, fx.guest.ID)
	require.NoError(t, err)

	assert.False(t, result.Pending)
	require.NotNil(t, result.Session)
	assert.Contains(t, result.Session.Token, fx.guest.ID.String())
	assert.Equal(t, RoleParticipant, result.Session.Role)

	m, err := fx.store.FindByID(ctx, session.Meeting.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, m.Status)
}

func TestJoinMeeting_ApprovalGateNeverYieldsTokenDirectly(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session := fx.createMeeting(t, true)

	result, err := fx.svc.JoinMeeting(ctx, session.Meeting.ID, fx.guest.ID)
	require.NoError(t, err)

	assert.True(t, result.Pending)
	assert.Nil(t, result.Session)

	joinReq := fx.bus.lastOfType(fx.host.ID, events.MeetingJoinRequest)
	require.NotNil(t, joinReq)
	assert.Equal(t, fx.guest.ID, joinReq.FromID)
	assert.Equal(t, "Greg", joinReq.DisplayName)

	// still pending on a repeat join, still no token
	again, err := fx.svc.JoinMeeting(ctx, session.Meeting.ID, fx.guest.ID)
	require.NoError(t, err)
	assert.True(t, again.Pending)
	assert.Nil(t, again.Session)
}

func TestAdmitParticipant_TokenMatchesRegistration(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session := fx.createMeeting(t, true)
	_, err := fx.svc.JoinMeeting(ctx, session.Meeting.ID, fx.guest.ID)
	require.NoError(t, err)

	registered, err := fx.store.FindLiveParticipant(ctx, session.Meeting.ID, fx.guest.ID)
	require.NoError(t, err)
	require.Equal(t, ParticipantPending, registered.Status)

	admitted, err := fx.svc.AdmitParticipant(ctx, session.Meeting.ID, fx.host.ID, fx.guest.ID)
	require.NoError(t, err)
	assert.Equal(t, ParticipantAdmitted, admitted.Status)

	ev := fx.bus.lastOfType(fx.guest.ID, events.MeetingAdmitted)
	require.NotNil(t, ev)
	assert.Equal(t, registered.AuthToken, ev.Token)
	assert.Equal(t, session.Meeting.RoomName, ev.RoomName)

	// joining again after admission hands out the same token
	result, err := fx.svc.JoinMeeting(ctx, session.Meeting.ID, fx.guest.ID)
	require.NoError(t, err)
	require.NotNil(t, result.Session)
	assert.Equal(t, registered.AuthToken, result.Session.Token)
}

func TestAdmitParticipant_NotHost(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session := fx.createMeeting(t, true)
	_, err := fx.svc.JoinMeeting(ctx, session.Meeting.ID, fx.guest.ID)
	require.NoError(t, err)

	_, err = fx.svc.AdmitParticipant(ctx, session.Meeting.ID, fx.other.ID, fx.guest.ID)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotAuthorized))
}

func TestAdmitParticipant_AlreadyResolved(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session := fx.createMeeting(t, true)
	_, err := fx.svc.JoinMeeting(ctx, session.Meeting.ID, fx.guest.ID)
	require.NoError(t, err)

	_, err = fx.svc.DeclineParticipant(ctx, session.Meeting.ID, fx.host.ID, fx.guest.ID)
	require.NoError(t, err)

	_, err = fx.svc.AdmitParticipant(ctx, session.Meeting.ID, fx.host.ID, fx.guest.ID)
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidState))
}

func TestDeclineParticipant(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session := fx.createMeeting(t, true)
	_, err := fx.svc.JoinMeeting(ctx, session.Meeting.ID, fx.guest.ID)
	require.NoError(t, err)

	declined, err := fx.svc.DeclineParticipant(ctx, session.Meeting.ID, fx.host.ID, fx.guest.ID)
	require.NoError(t, err)
	assert.Equal(t, ParticipantDeclined, declined.Status)

	assert.Equal(t, 1, fx.bus.countByType(fx.guest.ID, events.MeetingDeclined))
	assert.Equal(t, 0, fx.bus.countByType(fx.guest.ID, events.MeetingAdmitted))
}

func TestInviteParticipant(t *testing.T) {
	fx := newFixture(t)
	session := fx.createMeeting(t, false)

	err := fx.svc.InviteParticipant(context.Background(), session.Meeting.ID, fx.host.ID, "newcomer@example.com")
	require.NoError(t, err)

	require.Len(t, fx.mailer.invites, 1)
	assert.Equal(t, "newcomer@example.com/Hana/standup", fx.mailer.invites[0])
}

func TestInviteParticipant_NotHost(t *testing.T) {
	fx := newFixture(t)
	session := fx.createMeeting(t, false)

	err := fx.svc.InviteParticipant(context.Background(), session.Meeting.ID, fx.guest.ID, "newcomer@example.com")
	assert.True(t, apperrors.Is(err, apperrors.CodeNotAuthorized))
	assert.Empty(t, fx.mailer.invites)
}

func TestInviteParticipant_NoMailerConfigured(t *testing.T) {
	fx := newFixture(t)
	session := fx.createMeeting(t, false)
	fx.svc.mailer = nil

	err := fx.svc.InviteParticipant(context.Background(), session.Meeting.ID, fx.host.ID, "newcomer@example.com")
	assert.True(t, apperrors.Is(err, apperrors.CodeExternal))
}

func TestEndMeeting(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session := fx.createMeeting(t, false)
	_, err := fx.svc.JoinMeeting(ctx, session.Meeting.ID, fx.guest.ID)
	require.NoError(t, err)
	_, err = fx.svc.JoinMeeting(ctx, session.Meeting.ID, fx.other.ID)
	require.NoError(t, err)

	ended, err := fx.svc.EndMeeting(ctx, session.Meeting.ID, fx.host.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, ended.Status)

	assert.Equal(t, 1, fx.bus.countByType(fx.guest.ID, events.MeetingEnded))
	assert.Equal(t, 1, fx.bus.countByType(fx.other.ID, events.MeetingEnded))
	assert.Equal(t, 0, fx.bus.countByType(fx.host.ID, events.MeetingEnded))

	// ending again is benign and sends nothing new
	again, err := fx.svc.EndMeeting(ctx, session.Meeting.ID, fx.host.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, again.Status)
	assert.Equal(t, 1, fx.bus.countByType(fx.guest.ID, events.MeetingEnded))
}

func TestEndMeeting_NotHost(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session := fx.createMeeting(t, false)
	_, err := fx.svc.JoinMeeting(ctx, session.Meeting.ID, fx.guest.ID)
	require.NoError(t, err)

	_, err = fx.svc.EndMeeting(ctx, session.Meeting.ID, fx.guest.ID)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotAuthorized))
}

func TestLeaveMeeting_AllowsRejoin(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session := fx.createMeeting(t, false)
	first, err := fx.svc.JoinMeeting(ctx, session.Meeting.ID, fx.guest.ID)
	require.NoError(t, err)

	require.NoError(t, fx.svc.LeaveMeeting(ctx, session.Meeting.ID, fx.guest.ID))

	_, err = fx.store.FindLiveParticipant(ctx, session.Meeting.ID, fx.guest.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	second, err := fx.svc.JoinMeeting(ctx, session.Meeting.ID, fx.guest.ID)
	require.NoError(t, err)
	require.NotNil(t, second.Session)
	assert.NotEqual(t, first.Session.Token, second.Session.Token)
}

func TestJoinMeeting_Ended(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session := fx.createMeeting(t, false)
	_, err := fx.svc.EndMeeting(ctx, session.Meeting.ID, fx.host.ID)
	require.NoError(t, err)

	_, err = fx.svc.JoinMeeting(ctx, session.Meeting.ID, fx.guest.ID)
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidState))
}

func TestJoinMeeting_Full(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session, err := fx.svc.CreateMeeting(ctx, fx.host.ID, &CreateMeetingRequest{
		Title:           "tiny",
		MaxParticipants: 2,
	})
	require.NoError(t, err)

	_, err = fx.svc.JoinMeeting(ctx, session.Meeting.ID, fx.guest.ID)
	require.NoError(t, err)

	_, err = fx.svc.JoinMeeting(ctx, session.Meeting.ID, fx.other.ID)
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidState))
}

func TestToggleHandRaise(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session := fx.createMeeting(t, false)
	_, err := fx.svc.JoinMeeting(ctx, session.Meeting.ID, fx.guest.ID)
	require.NoError(t, err)

	require.NoError(t, fx.svc.ToggleHandRaise(ctx, session.Meeting.ID, fx.guest.ID, true))

	assert.Equal(t, 1, fx.bus.countByType(fx.host.ID, events.MeetingHandRaised))
	assert.Equal(t, 0, fx.bus.countByType(fx.guest.ID, events.MeetingHandRaised))
	assert.True(t, fx.roster.hands[session.Meeting.RoomName+"/"+fx.guest.ID.String()])

	require.NoError(t, fx.svc.ToggleHandRaise(ctx, session.Meeting.ID, fx.guest.ID, false))
	assert.Equal(t, 1, fx.bus.countByType(fx.host.ID, events.MeetingHandLowered))
	assert.False(t, fx.roster.hands[session.Meeting.RoomName+"/"+fx.guest.ID.String()])
}

func TestSendReaction(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session := fx.createMeeting(t, false)
	_, err := fx.svc.JoinMeeting(ctx, session.Meeting.ID, fx.guest.ID)
	require.NoError(t, err)

	require.NoError(t, fx.svc.SendReaction(ctx, session.Meeting.ID, fx.guest.ID, "🎉"))

	ev := fx.bus.lastOfType(fx.host.ID, events.MeetingReaction)
	require.NotNil(t, ev)
	assert.Equal(t, "🎉", ev.Emoji)
	assert.Equal(t, fx.guest.ID, ev.FromID)
	assert.Equal(t, "🎉", fx.roster.reactions[session.Meeting.RoomName+"/"+fx.guest.ID.String()])
}

func TestSendReaction_NotAdmitted(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session := fx.createMeeting(t, true)
	_, err := fx.svc.JoinMeeting(ctx, session.Meeting.ID, fx.guest.ID)
	require.NoError(t, err)

	err = fx.svc.SendReaction(ctx, session.Meeting.ID, fx.guest.ID, "👍")
	assert.True(t, apperrors.Is(err, apperrors.CodeNotAuthorized))
}

func TestCleanupExpired(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session := fx.createMeeting(t, false)
	_, err := fx.svc.JoinMeeting(ctx, session.Meeting.ID, fx.guest.ID)
	require.NoError(t, err)

	fx.store.mu.Lock()
	fx.store.meetings[session.Meeting.ID].ExpiresAt = time.Now().Add(-time.Minute)
	fx.store.mu.Unlock()

	fx.svc.CleanupExpired(ctx)

	m, err := fx.store.FindByID(ctx, session.Meeting.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, m.Status)
	assert.Equal(t, 1, fx.bus.countByType(fx.guest.ID, events.MeetingEnded))
}
