package call

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"huddle/config"
	"huddle/internal/chat"
	"huddle/internal/events"
	"huddle/internal/livekit"
	"huddle/internal/push"
	"huddle/internal/user"
	apperrors "huddle/pkg/errors"
	"huddle/pkg/logger"
)

// Store is the persistence contract the coordinator needs. Every terminal
// transition is a conditional update: the store reports whether this caller
// won the transition, and losers take no side effects.
type Store interface {
	Create(ctx context.Context, c *Call) error
	FindByID(ctx context.Context, id uuid.UUID) (*Call, error)
	Answer(ctx context.Context, id uuid.UUID) (*Call, bool, error)
	Decline(ctx context.Context, id uuid.UUID) (*Call, bool, error)
	ResolveEnd(ctx context.Context, id, enderID uuid.UUID) (*Call, bool, error)
	ExpirePairRinging(ctx context.Context, a, b uuid.UUID) error
	ExpireRingingInvolving(ctx context.Context, userID uuid.UUID, olderThan time.Duration) error
	ExpireStaleRinging(ctx context.Context, olderThan time.Duration) ([]*Call, error)
	FailStuckOngoing(ctx context.Context, olderThan time.Duration) ([]*Call, error)
	FindNewestRinging(ctx context.Context, receiverID uuid.UUID, window time.Duration) (*Call, error)
	FindOngoing(ctx context.Context, userID uuid.UUID, window time.Duration) (*Call, error)
	FindActiveByRoom(ctx context.Context, roomName string) (*Call, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Call, error)
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
	HasClient(userID uuid.UUID) bool
}

type Conversations interface {
	FindOrCreateConversation(ctx context.Context, a, b uuid.UUID) (*chat.Conversation, error)
	AppendSystemMessage(ctx context.Context, conversationID uuid.UUID, body string) error
}

type PushSender interface {
	SendCallPush(ctx context.Context, userID uuid.UUID, data *push.CallPushData) error
}

type MissedCallMailer interface {
	SendCallMissedEmail(to, callerName string) error
}

type Service struct {
	store  Store
	users  UserDirectory
	rooms  RoomProvider
	bus    Publisher
	chats  Conversations
	push   PushSender       // optional
	mailer MissedCallMailer // optional
	cfg    config.CallConfig
	log    *logger.Logger
}

func NewService(
	store Store,
	users UserDirectory,
	rooms RoomProvider,
	bus Publisher,
	chats Conversations,
	pushSender PushSender,
	mailer MissedCallMailer,
	cfg config.CallConfig,
	log *logger.Logger,
) *Service {
	return &Service{
		store:  store,
		users:  users,
		rooms:  rooms,
		bus:    bus,
		chats:  chats,
		push:   pushSender,
		mailer: mailer,
		cfg:    cfg,
		log:    log,
	}
}

type CallSession struct {
	Call  *Call  `json:"call"`
	Token string `json:"token"`
	WsURL string `json:"ws_url"`
}

// InitiateCall sets up a fresh ringing call: supersedes unanswered attempts
// between the pair, provisions the media room and both tokens, persists the
// row, then rings the receiver. Nothing is persisted if token provisioning
// fails.
func (s *Service) InitiateCall(ctx context.Context, callerID, receiverID uuid.UUID, callType string) (*CallSession, error) {
	if callerID == receiverID {
		return nil, apperrors.BadRequest("cannot call yourself")
	}

	caller, err := s.users.FindByID(ctx, callerID)
	if err != nil {
		return nil, apperrors.NotFound("caller not found")
	}

	receiver, err := s.users.FindByID(ctx, receiverID)
	if err != nil {
		return nil, apperrors.NotFound("receiver not found")
	}

	conv, err := s.chats.FindOrCreateConversation(ctx, callerID, receiverID)
	if err != nil {
		return nil, err
	}

	// A new attempt invalidates unanswered prior attempts between the pair,
	// and any old ringing row involving the caller gets self-healed.
	if err := s.store.ExpirePairRinging(ctx, callerID, receiverID); err != nil {
		return nil, err
	}
	if err := s.store.ExpireRingingInvolving(ctx, callerID, time.Duration(s.cfg.StaleRingSeconds)*time.Second); err != nil {
		return nil, err
	}

	roomName := s.rooms.CreateRoom(livekit.CallRoomPrefix)

	callerToken, err := s.rooms.GenerateToken(roomName, callerID.String(), caller.DisplayName, "participant")
	if err != nil {
		return nil, apperrors.External("failed to provision media room", err)
	}

	receiverToken, err := s.rooms.GenerateToken(roomName, receiverID.String(), receiver.DisplayName, "participant")
	if err != nil {
		return nil, apperrors.External("failed to provision media room", err)
	}

	c := &Call{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		CallerID:       callerID,
		ReceiverID:     receiverID,
		CallType:       callType,
		Status:         StatusRinging,
		RoomName:       roomName,
		CallerToken:    callerToken,
		ReceiverToken:  receiverToken,
		CreatedAt:      time.Now(),
	}

	if err := s.store.Create(ctx, c); err != nil {
		return nil, err
	}

	avatar := ""
	if caller.AvatarURL != nil {
		avatar = *caller.AvatarURL
	}

	s.bus.Publish(ctx, receiverID, &events.Event{
		Type:        events.CallIncoming,
		CallID:      c.ID.String(),
		FromID:      callerID,
		CallType:    callType,
		RoomName:    roomName,
		Token:       receiverToken,
		DisplayName: caller.DisplayName,
		AvatarURL:   avatar,
	})

	// Receiver has no live connection: fall back to a device push so the
	// call still rings through.
	if s.push != nil && !s.bus.HasClient(receiverID) {
		go func() {
			pushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			err := s.push.SendCallPush(pushCtx, receiverID, &push.CallPushData{
				CallID:     c.ID.String(),
				CallerID:   callerID.String(),
				CallerName: caller.DisplayName,
				CallType:   callType,
				RoomName:   roomName,
				Token:      receiverToken,
			})
			if err != nil {
				s.log.Errorf("call: push for %s failed: %v", c.ID, err)
			}
		}()
	}

	return &CallSession{Call: c, Token: callerToken, WsURL: s.rooms.URL()}, nil
}

// AnswerCall moves a ringing call to ongoing and hands the receiver their
// stored room token. An already-resolved call yields an invalid-state error
// the client treats as a benign race.
func (s *Service) AnswerCall(ctx context.Context, callID, userID uuid.UUID) (*CallSession, error) {
	c, err := s.findCall(ctx, callID)
	if err != nil {
		return nil, err
	}

	if c.ReceiverID != userID {
		return nil, apperrors.NotAuthorized("not the call receiver")
	}

	updated, won, err := s.store.Answer(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, apperrors.InvalidState("call already resolved")
	}

	s.bus.Publish(ctx, updated.CallerID, &events.Event{
		Type:   events.CallAnswered,
		CallID: updated.ID.String(),
		FromID: userID,
	})

	return &CallSession{Call: updated, Token: updated.ReceiverToken, WsURL: s.rooms.URL()}, nil
}

func (s *Service) DeclineCall(ctx context.Context, callID, userID uuid.UUID) (*Call, error) {
	c, err := s.findCall(ctx, callID)
	if err != nil {
		return nil, err
	}

	if c.ReceiverID != userID {
		return nil, apperrors.NotAuthorized("not the call receiver")
	}

	updated, won, err := s.store.Decline(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, apperrors.InvalidState("call already resolved")
	}

	s.bus.Publish(ctx, updated.CallerID, &events.Event{
		Type:   events.CallDeclined,
		CallID: updated.ID.String(),
		FromID: userID,
	})

	s.appendSystemMessageAsync(updated.ConversationID, "Call declined")

	return updated, nil
}

// EndCall closes a call from either side. The terminal status depends on who
// ends an unanswered call: the caller abandoning it makes it missed, the
// receiver hanging up on ringing makes it declined; an ongoing call
// completes with its duration. The store's conditional update guarantees
// exactly one winner under concurrent end attempts; the loser returns the
// settled call without emitting anything.
func (s *Service) EndCall(ctx context.Context, callID, userID uuid.UUID) (*Call, error) {
	c, err := s.findCall(ctx, callID)
	if err != nil {
		return nil, err
	}

	if !c.IsParty(userID) {
		return nil, apperrors.NotAuthorized("not a call participant")
	}

	if IsTerminal(c.Status) {
		return c, nil
	}

	updated, won, err := s.store.ResolveEnd(ctx, callID, userID)
	if err != nil {
		return nil, err
	}
	if !won {
		// lost the race; return the settled row, no side effects
		return s.findCall(ctx, callID)
	}

	peer := updated.OtherParty(userID)

	switch updated.Status {
	case StatusCompleted:
		s.bus.Publish(ctx, peer, &events.Event{
			Type:   events.CallEnded,
			CallID: updated.ID.String(),
			FromID: userID,
		})
		s.appendSystemMessageAsync(updated.ConversationID, fmt.Sprintf("Call ended (%s)", formatDuration(updated.Duration)))
	case StatusMissed:
		s.bus.Publish(ctx, peer, &events.Event{
			Type:   events.CallCancelled,
			CallID: updated.ID.String(),
			FromID: userID,
		})
		s.appendSystemMessageAsync(updated.ConversationID, "Missed call")
	case StatusDeclined:
		s.bus.Publish(ctx, peer, &events.Event{
			Type:   events.CallDeclined,
			CallID: updated.ID.String(),
			FromID: userID,
		})
		s.appendSystemMessageAsync(updated.ConversationID, "Call declined")
	}

	return updated, nil
}

// ExpireStaleRinging sweeps calls nobody answered within the ring timeout.
// Both parties are notified once; notification and bookkeeping failures are
// logged only.
func (s *Service) ExpireStaleRinging(ctx context.Context) {
	expired, err := s.store.ExpireStaleRinging(ctx, time.Duration(s.cfg.RingTimeoutSeconds)*time.Second)
	if err != nil {
		s.log.Errorf("call: ring expiry sweep failed: %v", err)
		return
	}

	for _, c := range expired {
		ev := &events.Event{
			Type:     events.CallMissed,
			CallID:   c.ID.String(),
			FromID:   c.CallerID,
			CallType: c.CallType,
		}
		s.bus.Publish(ctx, c.CallerID, ev)
		s.bus.Publish(ctx, c.ReceiverID, ev)

		s.appendSystemMessageAsync(c.ConversationID, "Missed call")
		s.notifyMissedByEmail(ctx, c)
	}
}

// CleanupOrphaned closes rows stuck ringing or ongoing past their plausible
// lifetime, recovering from crashed or navigated-away clients.
func (s *Service) CleanupOrphaned(ctx context.Context) {
	stuckRinging, err := s.store.ExpireStaleRinging(ctx, 2*time.Minute)
	if err != nil {
		s.log.Errorf("call: orphan ringing cleanup failed: %v", err)
	} else {
		for _, c := range stuckRinging {
			s.log.Infof("call: closed orphaned ringing call %s", c.ID)
		}
	}

	stuckOngoing, err := s.store.FailStuckOngoing(ctx, time.Duration(s.cfg.OngoingTimeoutHours)*time.Hour)
	if err != nil {
		s.log.Errorf("call: orphan ongoing cleanup failed: %v", err)
		return
	}
	for _, c := range stuckOngoing {
		ev := &events.Event{
			Type:   events.CallEnded,
			CallID: c.ID.String(),
			FromID: c.CallerID,
		}
		s.bus.Publish(ctx, c.CallerID, ev)
		s.bus.Publish(ctx, c.ReceiverID, ev)
		s.log.Infof("call: failed orphaned ongoing call %s", c.ID)
	}
}

// Run drives the periodic sweeps until the context is cancelled. Orphan
// cleanup also fires once at startup for crash recovery.
func (s *Service) Run(ctx context.Context) {
	s.CleanupOrphaned(ctx)

	sweep := time.NewTicker(time.Duration(s.cfg.SweepIntervalSeconds) * time.Second)
	orphans := time.NewTicker(time.Hour)
	defer sweep.Stop()
	defer orphans.Stop()

	for {
		select {
		case <-sweep.C:
			s.ExpireStaleRinging(ctx)
		case <-orphans.C:
			s.CleanupOrphaned(ctx)
		case <-ctx.Done():
			return
		}
	}
}

type IncomingCall struct {
	Call       *Call  `json:"call"`
	Token      string `json:"token"`
	WsURL      string `json:"ws_url"`
	CallerName string `json:"caller_name"`
}

// PollIncoming is the pull-side backstop for clients whose push delivery is
// not guaranteed: the newest call currently ringing for the user, or nil.
func (s *Service) PollIncoming(ctx context.Context, userID uuid.UUID) (*IncomingCall, error) {
	c, err := s.store.FindNewestRinging(ctx, userID, time.Duration(s.cfg.StaleRingSeconds)*time.Second)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	callerName := ""
	if caller, err := s.users.FindByID(ctx, c.CallerID); err == nil {
		callerName = caller.DisplayName
	}

	return &IncomingCall{
		Call:       c,
		Token:      c.ReceiverToken,
		WsURL:      s.rooms.URL(),
		CallerName: callerName,
	}, nil
}

// GetCallStatus serves outgoing-side polling while waiting on an answer.
func (s *Service) GetCallStatus(ctx context.Context, callID, userID uuid.UUID) (*Call, error) {
	c, err := s.findCall(ctx, callID)
	if err != nil {
		return nil, err
	}

	if !c.IsParty(userID) {
		return nil, apperrors.NotAuthorized("not a call participant")
	}

	return c, nil
}

// GetActiveCall recovers an ongoing call after a page reload, returning the
// stored token for whichever role the user holds. Nil when there is nothing
// to reconnect to inside the recency window.
func (s *Service) GetActiveCall(ctx context.Context, userID uuid.UUID) (*CallSession, error) {
	c, err := s.store.FindOngoing(ctx, userID, time.Duration(s.cfg.ReconnectWindowHours)*time.Hour)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &CallSession{Call: c, Token: c.TokenFor(userID), WsURL: s.rooms.URL()}, nil
}

func (s *Service) GetCallHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Call, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.ListForUser(ctx, userID, limit, offset)
}

// HandleRoomEvent reacts to debounced media-room membership changes: a
// participant confirmed gone from a live 1:1 call room ends the call on
// their behalf.
func (s *Service) HandleRoomEvent(roomName, identity string) {
	userID, err := uuid.Parse(identity)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := s.store.FindActiveByRoom(ctx, roomName)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.log.Errorf("call: room lookup for %s failed: %v", roomName, err)
		}
		return
	}

	if !c.IsParty(userID) {
		return
	}

	if _, err := s.EndCall(ctx, c.ID, userID); err != nil {
		s.log.Errorf("call: ending %s after room departure failed: %v", c.ID, err)
	}
}

func (s *Service) findCall(ctx context.Context, callID uuid.UUID) (*Call, error) {
	c, err := s.store.FindByID(ctx, callID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("call not found")
		}
		return nil, err
	}
	return c, nil
}

// appendSystemMessageAsync records the call outcome in the conversation
// without holding up the response; a failure is logged, never surfaced.
func (s *Service) appendSystemMessageAsync(conversationID uuid.UUID, body string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.chats.AppendSystemMessage(ctx, conversationID, body); err != nil {
			s.log.Errorf("call: system message for conversation %s failed: %v", conversationID, err)
		}
	}()
}

func (s *Service) notifyMissedByEmail(ctx context.Context, c *Call) {
	if s.mailer == nil {
		return
	}

	receiver, err := s.users.FindByID(ctx, c.ReceiverID)
	if err != nil {
		return
	}
	caller, err := s.users.FindByID(ctx, c.CallerID)
	if err != nil {
		return
	}

	go func() {
		if err := s.mailer.SendCallMissedEmail(receiver.Email, caller.DisplayName); err != nil {
			s.log.Errorf("call: missed-call email for %s failed: %v", c.ID, err)
		}
	}()
}

func formatDuration(seconds int) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
}
