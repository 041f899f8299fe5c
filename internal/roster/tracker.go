package roster

import (
	"sync"
	"time"

	"huddle/internal/livekit"
)

// Tracker holds the ephemeral per-room session state derived from media
// server membership events: who is present, raised hands, transient
// reactions, and the single screen-share slot. Nothing here is persisted;
// state is rebuilt from fresh events after a restart.
//
// The media server is known to emit a spurious participant-left shortly
// after a join when a client's connection blips. A leave therefore only
// schedules removal; the participant is treated as gone when the grace
// window elapses without a rejoin.
type Tracker struct {
	mu          sync.Mutex
	rooms       map[string]*roomState
	leaveGrace  time.Duration
	reactionTTL time.Duration
	onGone      func(room, identity string)
}

type Participant struct {
	Identity     string `json:"identity"`
	Name         string `json:"name"`
	AudioEnabled bool   `json:"audio_enabled"`
	VideoEnabled bool   `json:"video_enabled"`
}

type roomState struct {
	participants   map[string]*Participant
	pendingGone    map[string]*time.Timer
	raisedHands    map[string]struct{}
	reactions      map[string]string
	reactionTimers map[string]*time.Timer
	screenSharer   string
}

type Snapshot struct {
	Participants []Participant     `json:"participants"`
	RaisedHands  []string          `json:"raised_hands"`
	Reactions    map[string]string `json:"reactions"`
	ScreenSharer string            `json:"screen_sharer,omitempty"`
}

type Option func(*Tracker)

func WithLeaveGrace(d time.Duration) Option {
	return func(t *Tracker) { t.leaveGrace = d }
}

func WithReactionTTL(d time.Duration) Option {
	return func(t *Tracker) { t.reactionTTL = d }
}

// OnGone registers a callback fired once a participant's grace window
// elapses without a rejoin. Called outside the tracker lock.
func OnGone(fn func(room, identity string)) Option {
	return func(t *Tracker) { t.onGone = fn }
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		rooms:       make(map[string]*roomState),
		leaveGrace:  3 * time.Second,
		reactionTTL: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) room(name string) *roomState {
	rs, ok := t.rooms[name]
	if !ok {
		rs = &roomState{
			participants:   make(map[string]*Participant),
			pendingGone:    make(map[string]*time.Timer),
			raisedHands:    make(map[string]struct{}),
			reactions:      make(map[string]string),
			reactionTimers: make(map[string]*time.Timer),
		}
		t.rooms[name] = rs
	}
	return rs
}

// HandleJoin adds the participant and cancels any pending removal, which is
// how a reconnect blip gets absorbed.
func (t *Tracker) HandleJoin(room, identity, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rs := t.room(room)

	if timer, ok := rs.pendingGone[identity]; ok {
		timer.Stop()
		delete(rs.pendingGone, identity)
	}

	if p, ok := rs.participants[identity]; ok {
		if name != "" {
			p.Name = name
		}
		return
	}

	rs.participants[identity] = &Participant{
		Identity:     identity,
		Name:         name,
		AudioEnabled: true,
		VideoEnabled: true,
	}
}

// HandleLeave schedules removal after the grace window. Duplicate leaves for
// a participant already pending removal are no-ops.
func (t *Tracker) HandleLeave(room, identity string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rs, ok := t.rooms[room]
	if !ok {
		return
	}
	if _, present := rs.participants[identity]; !present {
		return
	}
	if _, pending := rs.pendingGone[identity]; pending {
		return
	}

	rs.pendingGone[identity] = time.AfterFunc(t.leaveGrace, func() {
		t.finalizeLeave(room, identity)
	})
}

func (t *Tracker) finalizeLeave(room, identity string) {
	t.mu.Lock()
	rs, ok := t.rooms[room]
	if !ok {
		t.mu.Unlock()
		return
	}
	if _, pending := rs.pendingGone[identity]; !pending {
		// rejoined during the grace window
		t.mu.Unlock()
		return
	}
	delete(rs.pendingGone, identity)
	t.removeLocked(rs, identity)
	if len(rs.participants) == 0 && len(rs.pendingGone) == 0 {
		delete(t.rooms, room)
	}
	gone := t.onGone
	t.mu.Unlock()

	if gone != nil {
		gone(room, identity)
	}
}

func (t *Tracker) removeLocked(rs *roomState, identity string) {
	delete(rs.participants, identity)
	delete(rs.raisedHands, identity)
	delete(rs.reactions, identity)
	if timer, ok := rs.reactionTimers[identity]; ok {
		timer.Stop()
		delete(rs.reactionTimers, identity)
	}
	if rs.screenSharer == identity {
		rs.screenSharer = ""
	}
}

// HandleTrackChange folds a track publish or unpublish into the
// participant's media flags and the screen-share slot.
func (t *Tracker) HandleTrackChange(room, identity, source string, published bool) {
	switch source {
	case livekit.TrackMicrophone:
		t.SetMedia(room, identity, &published, nil)
	case livekit.TrackCamera:
		t.SetMedia(room, identity, nil, &published)
	case livekit.TrackScreenShare:
		if published {
			t.SetScreenSharer(room, identity)
		} else {
			t.ClearScreenSharer(room, identity)
		}
	}
}

func (t *Tracker) SetMedia(room, identity string, audio, video *bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rs, ok := t.rooms[room]
	if !ok {
		return
	}
	p, ok := rs.participants[identity]
	if !ok {
		return
	}

	if audio != nil {
		p.AudioEnabled = *audio
	}
	if video != nil {
		p.VideoEnabled = *video
	}
}

func (t *Tracker) SetHandRaised(room, identity string, raised bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rs := t.room(room)
	if raised {
		rs.raisedHands[identity] = struct{}{}
	} else {
		delete(rs.raisedHands, identity)
	}
}

// SetReaction shows a reaction on the sender's tile for the display window,
// then clears it. A newer reaction restarts the window.
func (t *Tracker) SetReaction(room, identity, emoji string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rs := t.room(room)
	rs.reactions[identity] = emoji

	if timer, ok := rs.reactionTimers[identity]; ok {
		timer.Stop()
	}
	rs.reactionTimers[identity] = time.AfterFunc(t.reactionTTL, func() {
		t.clearReaction(room, identity)
	})
}

func (t *Tracker) clearReaction(room, identity string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rs, ok := t.rooms[room]
	if !ok {
		return
	}
	delete(rs.reactions, identity)
	delete(rs.reactionTimers, identity)
}

// SetScreenSharer records the active sharer. One slot; last write wins, the
// media server is the actual arbiter of concurrent shares.
func (t *Tracker) SetScreenSharer(room, identity string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.room(room).screenSharer = identity
}

func (t *Tracker) ClearScreenSharer(room, identity string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rs, ok := t.rooms[room]
	if !ok {
		return
	}
	if rs.screenSharer == identity {
		rs.screenSharer = ""
	}
}

// RoomFinished drops all state for the room and stops outstanding timers.
func (t *Tracker) RoomFinished(room string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rs, ok := t.rooms[room]
	if !ok {
		return
	}
	for _, timer := range rs.pendingGone {
		timer.Stop()
	}
	for _, timer := range rs.reactionTimers {
		timer.Stop()
	}
	delete(t.rooms, room)
}

func (t *Tracker) Snapshot(room string) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		RaisedHands: []string{},
		Reactions:   map[string]string{},
	}

	rs, ok := t.rooms[room]
	if !ok {
		snap.Participants = []Participant{}
		return snap
	}

	snap.Participants = make([]Participant, 0, len(rs.participants))
	for _, p := range rs.participants {
		snap.Participants = append(snap.Participants, *p)
	}
	for identity := range rs.raisedHands {
		snap.RaisedHands = append(snap.RaisedHands, identity)
	}
	for identity, emoji := range rs.reactions {
		snap.Reactions[identity] = emoji
	}
	snap.ScreenSharer = rs.screenSharer

	return snap
}

// Present reports whether the participant is in the roster, counting those
// inside a pending-removal grace window as still present.
func (t *Tracker) Present(room, identity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rs, ok := t.rooms[room]
	if !ok {
		return false
	}
	_, present := rs.participants[identity]
	return present
}
