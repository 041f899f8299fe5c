package call

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

	"huddle/config"
	"huddle/internal/chat"
	"huddle/internal/events"
	"huddle/internal/user"
	apperrors "huddle/pkg/errors"
	"huddle/pkg/logger"
)

type fakeStore struct {
	mu    sync.Mutex
	calls map[uuid.UUID]*Call
}

func newFakeStore() *fakeStore {
	return &fakeStore{calls: make(map[uuid.UUID]*Call)}
}

func (f *fakeStore) Create(_ context.Context, c *Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.calls[c.ID] = &cp
	return nil
}

func (f *fakeStore) FindByID(_ context.Context, id uuid.UUID) (*Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.calls[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) Answer(_ context.Context, id uuid.UUID) (*Call, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.calls[id]
	if !ok || c.Status != StatusRinging {
		return nil, false, nil
	}
	now := time.Now()
	c.Status = StatusOngoing
	c.AnsweredAt = &now
	cp := *c
	return &cp, true, nil
}

func (f *fakeStore) Decline(_ context.Context, id uuid.UUID) (*Call, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.calls[id]
	if !ok || c.Status != StatusRinging {
		return nil, false, nil
	}
	now := time.Now()
	c.Status = StatusDeclined
	c.EndedAt = &now
	cp := *c
	return &cp, true, nil
}

func (f *fakeStore) ResolveEnd(_ context.Context, id, enderID uuid.UUID) (*Call, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.calls[id]
	if !ok {
		return nil, false, nil
	}
	if c.Status != StatusRinging && c.Status != StatusOngoing {
		return nil, false, nil
	}
	switch {
	case c.Status == StatusOngoing:
		c.Status = StatusCompleted
	case c.CallerID == enderID:
		c.Status = StatusMissed
	default:
		c.Status = StatusDeclined
	}
	now := time.Now()
	c.EndedAt = &now
	if c.AnsweredAt != nil {
		c.Duration = int(now.Sub(*c.AnsweredAt).Seconds())
	}
	cp := *c
	return &cp, true, nil
}

func (f *fakeStore) ExpirePairRinging(_ context.Context, a, b uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.Status != StatusRinging {
			continue
		}
		if (c.CallerID == a && c.ReceiverID == b) || (c.CallerID == b && c.ReceiverID == a) {
			c.Status = StatusMissed
		}
	}
	return nil
}

func (f *fakeStore) ExpireRingingInvolving(_ context.Context, userID uuid.UUID, olderThan time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	for _, c := range f.calls {
		if c.Status == StatusRinging && (c.CallerID == userID || c.ReceiverID == userID) && c.CreatedAt.Before(cutoff) {
			c.Status = StatusMissed
		}
	}
	return nil
}

func (f *fakeStore) ExpireStaleRinging(_ context.Context, olderThan time.Duration) ([]*Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var expired []*Call
	for _, c := range f.calls {
		if c.Status == StatusRinging && c.CreatedAt.Before(cutoff) {
			c.Status = StatusMissed
			cp := *c
			expired = append(expired, &cp)
		}
	}
	return expired, nil
}

func (f *fakeStore) FailStuckOngoing(_ context.Context, olderThan time.Duration) ([]*Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var failed []*Call
	for _, c := range f.calls {
		if c.Status == StatusOngoing && c.AnsweredAt != nil && c.AnsweredAt.Before(cutoff) {
			c.Status = StatusFailed
			cp := *c
			failed = append(failed, &cp)
		}
	}
	return failed, nil
}

func (f *fakeStore) FindNewestRinging(_ context.Context, receiverID uuid.UUID, window time.Duration) (*Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-window)
	var newest *Call
	for _, c := range f.calls {
		if c.Status == StatusRinging && c.ReceiverID == receiverID && c.CreatedAt.After(cutoff) {
			if newest == nil || c.CreatedAt.After(newest.CreatedAt) {
				newest = c
			}
		}
	}
	if newest == nil {
		return nil, sql.ErrNoRows
	}
	cp := *newest
	return &cp, nil
}

func (f *fakeStore) FindOngoing(_ context.Context, userID uuid.UUID, window time.Duration) (*Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-window)
	for _, c := range f.calls {
		if c.Status == StatusOngoing && c.IsParty(userID) && c.AnsweredAt != nil && c.AnsweredAt.After(cutoff) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeStore) FindActiveByRoom(_ context.Context, roomName string) (*Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.RoomName == roomName && !IsTerminal(c.Status) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeStore) ListForUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]*Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Call
	for _, c := range f.calls {
		if c.IsParty(userID) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) get(id uuid.UUID) *Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.calls[id]
	return &cp
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

func (f *fakeRooms) GenerateToken(roomName, identity, _, _ string) (string, error) {
	return "tok:" + roomName + ":" + identity, nil
}

func (f *fakeRooms) URL() string { return "wss://livekit.test" }

type fakeBus struct {
	mu     sync.Mutex
	byUser map[uuid.UUID][]*events.Event
	online map[uuid.UUID]bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{byUser: make(map[uuid.UUID][]*events.Event), online: make(map[uuid.UUID]bool)}
}

func (f *fakeBus) Publish(_ context.Context, userID uuid.UUID, ev *events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byUser[userID] = append(f.byUser[userID], ev)
}

func (f *fakeBus) HasClient(userID uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[userID]
}

func (f *fakeBus) eventsFor(userID uuid.UUID) []*events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*events.Event(nil), f.byUser[userID]...)
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

type fakeChats struct {
	mu       sync.Mutex
	convID   uuid.UUID
	messages []string
}

func (f *fakeChats) FindOrCreateConversation(_ context.Context, a, b uuid.UUID) (*chat.Conversation, error) {
	return &chat.Conversation{ID: f.convID, UserA: a, UserB: b}, nil
}

func (f *fakeChats) AppendSystemMessage(_ context.Context, _ uuid.UUID, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, body)
	return nil
}

func testConfig() config.CallConfig {
	return config.CallConfig{
		RingTimeoutSeconds:   30,
		StaleRingSeconds:     60,
		OngoingTimeoutHours:  6,
		ReconnectWindowHours: 2,
		SweepIntervalSeconds: 15,
	}
}

type fixture struct {
	svc      *Service
	store    *fakeStore
	bus      *fakeBus
	caller   *user.User
	receiver *user.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	caller := &user.User{ID: uuid.New(), Username: "alice", Email: "alice@example.com", DisplayName: "Alice"}
	receiver := &user.User{ID: uuid.New(), Username: "bob", Email: "bob@example.com", DisplayName: "Bob"}

	store := newFakeStore()
	bus := newFakeBus()
	users := &fakeUsers{users: map[uuid.UUID]*user.User{caller.ID: caller, receiver.ID: receiver}}
	chats := &fakeChats{convID: uuid.New()}

	svc := NewService(store, users, &fakeRooms{}, bus, chats, nil, nil, testConfig(), logger.NewNop())

	return &fixture{svc: svc, store: store, bus: bus, caller: caller, receiver: receiver}
}

func TestInitiateCall(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session, err := fx.svc.InitiateCall(ctx, fx.caller.ID, fx.receiver.ID, TypeVideo)
	require.NoError(t, err)

	assert.Equal(t, StatusRinging, session.Call.Status)
	assert.Equal(t, fx.caller.ID, session.Call.CallerID)
	assert.Contains(t, session.Token, fx.caller.ID.String())
	assert.Equal(t, "wss://livekit.test", session.WsURL)

	evs := fx.bus.eventsFor(fx.receiver.ID)
	require.Len(t, evs, 1)
	assert.Equal(t, events.CallIncoming, evs[0].Type)
	assert.Equal(t, session.Call.ID.String(), evs[0].CallID)
	assert.Equal(t, "Alice", evs[0].DisplayName)
	assert.Contains(t, evs[0].Token, fx.receiver.ID.String())
}

func TestInitiateCall_SelfCall(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.InitiateCall(context.Background(), fx.caller.ID, fx.caller.ID, TypeAudio)
	assert.True(t, apperrors.Is(err, apperrors.CodeBadRequest))
}

func TestInitiateCall_ReceiverNotFound(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.InitiateCall(context.Background(), fx.caller.ID, uuid.New(), TypeAudio)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
}

func TestInitiateCall_SupersedesPriorRinging(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	first, err := fx.svc.InitiateCall(ctx, fx.caller.ID, fx.receiver.ID, TypeAudio)
	require.NoError(t, err)

	second, err := fx.svc.InitiateCall(ctx, fx.caller.ID, fx.receiver.ID, TypeAudio)
	require.NoError(t, err)

	assert.Equal(t, StatusMissed, fx.store.get(first.Call.ID).Status)
	assert.Equal(t, StatusRinging, fx.store.get(second.Call.ID).Status)
}

func TestAnswerCall(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session, err := fx.svc.InitiateCall(ctx, fx.caller.ID, fx.receiver.ID, TypeVideo)
	require.NoError(t, err)

	answered, err := fx.svc.AnswerCall(ctx, session.Call.ID, fx.receiver.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusOngoing, answered.Call.Status)
	assert.NotNil(t, answered.Call.AnsweredAt)
	assert.Contains(t, answered.Token, fx.receiver.ID.String())

	assert.Equal(t, 1, fx.bus.countByType(fx.caller.ID, events.CallAnswered))
}

func TestAnswerCall_NotReceiver(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session, err := fx.svc.InitiateCall(ctx, fx.caller.ID, fx.receiver.ID, TypeAudio)
	require.NoError(t, err)

	_, err = fx.svc.AnswerCall(ctx, session.Call.ID, fx.caller.ID)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotAuthorized))
}

func TestAnswerCall_AlreadyResolved(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session, err := fx.svc.InitiateCall(ctx, fx.caller.ID, fx.receiver.ID, TypeAudio)
	require.NoError(t, err)

	_, err = fx.svc.DeclineCall(ctx, session.Call.ID, fx.receiver.ID)
	require.NoError(t, err)

	_, err = fx.svc.AnswerCall(ctx, session.Call.ID, fx.receiver.ID)
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidState))
}

func TestDeclineCall(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session, err := fx.svc.InitiateCall(ctx, fx.caller.ID, fx.receiver.ID, TypeAudio)
	require.NoError(t, err)

	declined, err := fx.svc.DeclineCall(ctx, session.Call.ID, fx.receiver.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusDeclined, declined.Status)
	assert.Equal(t, 1, fx.bus.countByType(fx.caller.ID, events.CallDeclined))
}

func TestEndCall_CallerAbandonsRinging(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session, err := fx.svc.InitiateCall(ctx, fx.caller.ID, fx.receiver.ID, TypeAudio)
	require.NoError(t, err)

	ended, err := fx.svc.EndCall(ctx, session.Call.ID, fx.caller.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusMissed, ended.Status)
	assert.Equal(t, 1, fx.bus.countByType(fx.receiver.ID, events.CallCancelled))
}

func TestEndCall_ReceiverEndsRinging(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session, err := fx.svc.InitiateCall(ctx, fx.caller.ID, fx.receiver.ID, TypeAudio)
	require.NoError(t, err)

	ended, err := fx.svc.EndCall(ctx, session.Call.ID, fx.receiver.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusDeclined, ended.Status)
	assert.Equal(t, 1, fx.bus.countByType(fx.caller.ID, events.CallDeclined))
}

func TestEndCall_OngoingCompletesWithDuration(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session, err := fx.svc.InitiateCall(ctx, fx.caller.ID, fx.receiver.ID, TypeVideo)
	require.NoError(t, err)

	_, err = fx.svc.AnswerCall(ctx, session.Call.ID, fx.receiver.ID)
	require.NoError(t, err)

	// backdate the answer so the call has a measurable duration
	fx.store.mu.Lock()
	answered := time.Now().Add(-42 * time.Second)
	fx.store.calls[session.Call.ID].AnsweredAt = &answered
	fx.store.mu.Unlock()

	ended, err := fx.svc.EndCall(ctx, session.Call.ID, fx.caller.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, ended.Status)
	assert.GreaterOrEqual(t, ended.Duration, 42)
	assert.LessOrEqual(t, ended.Duration, 43)
	assert.Equal(t, 1, fx.bus.countByType(fx.receiver.ID, events.CallEnded))
}

func TestEndCall_AlreadyTerminalIsBenign(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session, err := fx.svc.InitiateCall(ctx, fx.caller.ID, fx.receiver.ID, TypeAudio)
	require.NoError(t, err)

	first, err := fx.svc.EndCall(ctx, session.Call.ID, fx.caller.ID)
	require.NoError(t, err)
	require.Equal(t, StatusMissed, first.Status)

	// receiver ends after the call is settled; no status change, no new events
	second, err := fx.svc.EndCall(ctx, session.Call.ID, fx.receiver.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusMissed, second.Status)
	assert.Equal(t, 1, fx.bus.countByType(fx.receiver.ID, events.CallCancelled))
	assert.Equal(t, 0, fx.bus.countByType(fx.caller.ID, events.CallDeclined))
}

func TestEndCall_ConcurrentEndsHaveOneWinner(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session, err := fx.svc.InitiateCall(ctx, fx.caller.ID, fx.receiver.ID, TypeVideo)
	require.NoError(t, err)
	_, err = fx.svc.AnswerCall(ctx, session.Call.ID, fx.receiver.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, userID := range []uuid.UUID{fx.caller.ID, fx.receiver.ID} {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, endErr := fx.svc.EndCall(ctx, session.Call.ID, id)
			assert.NoError(t, endErr)
		}(userID)
	}
	wg.Wait()

	assert.Equal(t, StatusCompleted, fx.store.get(session.Call.ID).Status)
	total := fx.bus.countByType(fx.caller.ID, events.CallEnded) +
		fx.bus.countByType(fx.receiver.ID, events.CallEnded)
	assert.Equal(t, 1, total)
}

func TestExpireStaleRinging(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session, err := fx.svc.InitiateCall(ctx, fx.caller.ID, fx.receiver.ID, TypeAudio)
	require.NoError(t, err)

	// backdate past the ring timeout
	fx.store.mu.Lock()
	fx.store.calls[session.Call.ID].CreatedAt = time.Now().Add(-time.Minute)
	fx.store.mu.Unlock()

	fx.svc.ExpireStaleRinging(ctx)

	assert.Equal(t, StatusMissed, fx.store.get(session.Call.ID).Status)
	assert.Equal(t, 1, fx.bus.countByType(fx.caller.ID, events.CallMissed))
	assert.Equal(t, 1, fx.bus.countByType(fx.receiver.ID, events.CallMissed))
}

func TestPollIncoming(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	none, err := fx.svc.PollIncoming(ctx, fx.receiver.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	session, err := fx.svc.InitiateCall(ctx, fx.caller.ID, fx.receiver.ID, TypeVideo)
	require.NoError(t, err)

	incoming, err := fx.svc.PollIncoming(ctx, fx.receiver.ID)
	require.NoError(t, err)
	require.NotNil(t, incoming)
	assert.Equal(t, session.Call.ID, incoming.Call.ID)
	assert.Equal(t, "Alice", incoming.CallerName)
	assert.Contains(t, incoming.Token, fx.receiver.ID.String())
}

func TestGetActiveCall(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session, err := fx.svc.InitiateCall(ctx, fx.caller.ID, fx.receiver.ID, TypeVideo)
	require.NoError(t, err)
	_, err = fx.svc.AnswerCall(ctx, session.Call.ID, fx.receiver.ID)
	require.NoError(t, err)

	callerSide, err := fx.svc.GetActiveCall(ctx, fx.caller.ID)
	require.NoError(t, err)
	require.NotNil(t, callerSide)
	assert.Contains(t, callerSide.Token, fx.caller.ID.String())

	receiverSide, err := fx.svc.GetActiveCall(ctx, fx.receiver.ID)
	require.NoError(t, err)
	require.NotNil(t, receiverSide)
	assert.Contains(t, receiverSide.Token, fx.receiver.ID.String())

	stranger, err := fx.svc.GetActiveCall(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, stranger)
}

func TestHandleRoomEvent_EndsCallForDepartedParty(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session, err := fx.svc.InitiateCall(ctx, fx.caller.ID, fx.receiver.ID, TypeVideo)
	require.NoError(t, err)
	_, err = fx.svc.AnswerCall(ctx, session.Call.ID, fx.receiver.ID)
	require.NoError(t, err)

	fx.svc.HandleRoomEvent(session.Call.RoomName, fx.receiver.ID.String())

	assert.Equal(t, StatusCompleted, fx.store.get(session.Call.ID).Status)
	assert.Equal(t, 1, fx.bus.countByType(fx.caller.ID, events.CallEnded))
}

func TestHandleRoomEvent_IgnoresUnknownRoom(t *testing.T) {
	fx := newFixture(t)

	fx.svc.HandleRoomEvent("call_nope", fx.caller.ID.String())
	assert.Empty(t, fx.bus.eventsFor(fx.caller.ID))
}
