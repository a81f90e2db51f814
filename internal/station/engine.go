package station

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultReclaimAfter is the idle period after which an ended session may be
// reclaimed.
const DefaultReclaimAfter = 24 * time.Hour

// Option configures an Engine.
type Option func(*options)

type options struct {
	logger       *zap.Logger
	recorder     Recorder
	now          func() time.Time
	reclaimAfter time.Duration
	onDestroy    func(SessionID)
}

// WithLogger sets the engine logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRecorder sets the metrics recorder. Defaults to a no-op recorder.
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithClock overrides the wall clock used for LastUpdatedAt and reclamation.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithReclaimAfter overrides DefaultReclaimAfter.
func WithReclaimAfter(d time.Duration) Option {
	return func(o *options) { o.reclaimAfter = d }
}

// WithDestroyHook registers fn to run after a session is destroyed or
// reclaimed. fn runs without any session lock held.
func WithDestroyHook(fn func(SessionID)) Option {
	return func(o *options) { o.onDestroy = fn }
}

// slot is the registry cell of one session id. Its lock is the session's
// single-writer lock.
type slot[S, M any] struct {
	mu      sync.Mutex
	sess    *Session[S, M]
	removed bool
}

// MemberInfo is the core part of a member in a snapshot.
type MemberInfo struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"displayName"`
}

// Snapshot is a requester-specific view of a session.
type Snapshot struct {
	SessionID SessionID    `json:"sessionId"`
	GameType  GameType     `json:"gameType"`
	CreatorID UserID       `json:"creatorId"`
	Started   bool         `json:"started"`
	Ended     bool         `json:"ended"`
	Members   []MemberInfo `json:"members"`
	State     any          `json:"state"`
}

// Engine runs one game module over any number of sessions. Messages for the
// same session are handled one at a time; different sessions proceed
// independently.
type Engine[S, M any] struct {
	module       Module[S, M]
	sessions     SessionDirectory
	users        UserDirectory
	notifier     Notifier
	logger       *zap.Logger
	recorder     Recorder
	now          func() time.Time
	reclaimAfter time.Duration
	onDestroy    func(SessionID)

	mu    sync.Mutex
	slots map[SessionID]*slot[S, M]
}

// NewEngine creates an engine for module.
//
// Precondition: module, sessions, users and notifier must be non-nil.
// Postcondition: Returns an Engine with an empty session registry.
func NewEngine[S, M any](module Module[S, M], sessions SessionDirectory, users UserDirectory, notifier Notifier, opts ...Option) *Engine[S, M] {
	if module == nil || sessions == nil || users == nil || notifier == nil {
		panic("station.NewEngine: module and collaborators must be non-nil")
	}
	o := options{
		logger:       zap.NewNop(),
		recorder:     nopRecorder{},
		now:          time.Now,
		reclaimAfter: DefaultReclaimAfter,
		onDestroy:    func(SessionID) {},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine[S, M]{
		module:       module,
		sessions:     sessions,
		users:        users,
		notifier:     notifier,
		logger:       o.logger.With(zap.String("game", string(module.GameType()))),
		recorder:     o.recorder,
		now:          o.now,
		reclaimAfter: o.reclaimAfter,
		onDestroy:    o.onDestroy,
		slots:        make(map[SessionID]*slot[S, M]),
	}
}

// GameType returns the module's game type.
func (e *Engine[S, M]) GameType() GameType {
	return e.module.GameType()
}

// RouteMessage is the sole inbound entry point. Core topics drive the round
// lifecycle; every other topic is forwarded to the module. Rejected and
// unknown messages are logged and dropped.
func (e *Engine[S, M]) RouteMessage(ctx context.Context, msg Message) {
	start := time.Now()
	defer func() {
		e.recorder.Routed(e.GameType(), msg.Topic, time.Since(start))
	}()

	switch msg.Topic {
	case TopicRoundInitialize:
		e.initializeSession(ctx, msg)
	case TopicRoundStart:
		e.roundStart(ctx, msg)
	case TopicRoundEnded:
		e.roundEndRequested(msg)
	default:
		e.forward(msg)
	}
}

func (e *Engine[S, M]) lookup(id SessionID) *slot[S, M] {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.slots[id]
}

func (e *Engine[S, M]) acquire(id SessionID) *slot[S, M] {
	e.mu.Lock()
	defer e.mu.Unlock()
	sl, ok := e.slots[id]
	if !ok {
		sl = &slot[S, M]{}
		e.slots[id] = sl
	}
	return sl
}

// load locks and returns the slot holding a live session for id, or nil.
// The caller must unlock the returned slot.
func (e *Engine[S, M]) load(id SessionID) *slot[S, M] {
	sl := e.lookup(id)
	if sl == nil {
		return nil
	}
	sl.mu.Lock()
	if sl.sess == nil {
		sl.mu.Unlock()
		return nil
	}
	return sl
}

func (e *Engine[S, M]) reject(msg Message, reason string) {
	e.logger.Debug("message rejected",
		zap.Int64("session_id", int64(msg.SessionID)),
		zap.Int64("user_id", int64(msg.SenderID)),
		zap.String("topic", msg.Topic),
		zap.String("reason", reason),
	)
	e.recorder.Rejected(e.GameType(), reason)
}

// build resolves the roster from the directories and returns a session that is
// not yet published.
func (e *Engine[S, M]) build(ctx context.Context, id SessionID) (*Session[S, M], error) {
	info, err := e.sessions.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolving session %d: %w", id, err)
	}
	if info.GameType != e.GameType() {
		return nil, fmt.Errorf("session %d is %q, not %q: %w", id, info.GameType, e.GameType(), ErrUnknownGameType)
	}
	if len(info.Participants) == 0 {
		return nil, fmt.Errorf("session %d has no participants: %w", id, ErrNotParticipant)
	}

	s := &Session[S, M]{
		ID:        id,
		GameType:  info.GameType,
		CreatorID: info.CreatorID,
		Roster:    make([]UserID, 0, len(info.Participants)),
		Members:   make(map[UserID]*Member[M], len(info.Participants)),
		State:     e.module.NewSessionState(),
		engine:    e,
		timers:    make(map[string]*deferredCall),
		logger:    e.logger.With(zap.Int64("session_id", int64(id))),
	}
	for _, uid := range info.Participants {
		if _, dup := s.Members[uid]; dup {
			continue
		}
		u, err := e.users.GetUser(ctx, uid)
		if err != nil {
			return nil, fmt.Errorf("resolving participant %d of session %d: %w", uid, id, err)
		}
		s.Roster = append(s.Roster, uid)
		s.Members[uid] = &Member[M]{ID: uid, DisplayName: u.DisplayName, State: e.module.NewMemberState()}
	}
	return s, nil
}

// initializeSession builds fresh session data and publishes it, replacing any
// previous instance. Directory lookups happen before the session lock is
// taken so that handlers never observe a partially built session. The new
// session is stored before OnSessionStart runs.
//
// Postcondition: on success the registry holds a new session in the not-started
// state and every deferred callback of the replaced session is cancelled; on
// failure the registry is unchanged.
func (e *Engine[S, M]) initializeSession(ctx context.Context, msg Message) bool {
	s, err := e.build(ctx, msg.SessionID)
	if err != nil {
		level := e.logger.Error
		if errors.Is(err, ErrUnknownGameType) {
			level = e.logger.Warn
		}
		level("session initialize aborted",
			zap.Int64("session_id", int64(msg.SessionID)),
			zap.Int64("user_id", int64(msg.SenderID)),
			zap.Error(err),
		)
		e.recorder.Rejected(e.GameType(), "initialize failed")
		return false
	}
	if !s.IsMember(msg.SenderID) {
		e.reject(msg, "sender not a participant")
		return false
	}

	for {
		sl := e.acquire(msg.SessionID)
		sl.mu.Lock()
		if sl.removed {
			sl.mu.Unlock()
			continue
		}
		if prev := sl.sess; prev != nil {
			if prev.Started && !msg.IsCreator {
				sl.mu.Unlock()
				e.reject(msg, "re-initialize requires creator")
				return false
			}
			prev.cancelAllLocked()
		}
		s.slot = sl
		s.Touch()
		sl.sess = s
		e.module.OnSessionStart(s)
		sl.mu.Unlock()
		break
	}

	s.logger.Info("session initialized",
		zap.Int64("user_id", int64(msg.SenderID)),
		zap.Int("participants", len(s.Roster)),
	)
	e.recorder.SessionsActive(e.GameType(), e.ActiveSessions())
	return true
}

// roundStart starts the round, lazily initializing an unknown session first.
func (e *Engine[S, M]) roundStart(ctx context.Context, msg Message) {
	sl := e.load(msg.SessionID)
	if sl == nil {
		if !e.initializeSession(ctx, msg) {
			return
		}
		if sl = e.load(msg.SessionID); sl == nil {
			e.reject(msg, "session vanished")
			return
		}
	}
	defer sl.mu.Unlock()

	s := sl.sess
	if !s.IsMember(msg.SenderID) {
		e.reject(msg, "sender not a participant")
		return
	}
	if s.Started {
		e.reject(msg, "round already started")
		return
	}
	s.Started = true
	s.Ended = false
	e.module.OnRoundStart(s)
	s.Broadcast(TopicRoundStarted, map[string]any{"sessionId": s.ID})
	s.Touch()
	s.logger.Info("round started", zap.Int64("user_id", int64(msg.SenderID)))
}

func (e *Engine[S, M]) roundEndRequested(msg Message) {
	sl := e.load(msg.SessionID)
	if sl == nil {
		e.reject(msg, "session not found")
		return
	}
	defer sl.mu.Unlock()
	if !msg.IsCreator || !sl.sess.IsMember(msg.SenderID) {
		e.reject(msg, "round end requires creator")
		return
	}
	e.endRoundLocked(sl.sess)
}

// endRoundLocked marks the round ended, cancels deferred callbacks, notifies
// participants and runs OnRoundEnd. Calls for a round that is not running
// are no-ops so concurrent end triggers fire once.
//
// Caller must hold the session slot lock.
func (e *Engine[S, M]) endRoundLocked(s *Session[S, M]) {
	if !s.Started || s.Ended {
		return
	}
	s.Ended = true
	s.cancelAllLocked()
	s.Broadcast(TopicRoundEnded, map[string]any{"sessionId": s.ID})
	e.module.OnRoundEnd(s)
	s.Touch()
	s.logger.Info("round ended")
}

func (e *Engine[S, M]) forward(msg Message) {
	sl := e.load(msg.SessionID)
	if sl == nil {
		e.reject(msg, "session not found")
		return
	}
	defer sl.mu.Unlock()
	s := sl.sess
	if !s.IsMember(msg.SenderID) {
		e.reject(msg, "sender not a participant")
		return
	}
	if !strings.HasPrefix(msg.Topic, string(e.GameType())+"/") || !e.module.RouteMessage(s, msg) {
		s.logger.Warn("unknown topic dropped",
			zap.Int64("user_id", int64(msg.SenderID)),
			zap.String("topic", msg.Topic),
		)
		e.recorder.Rejected(e.GameType(), "unknown topic")
	}
}

// Snapshot returns the requester's view of the session. It reports false when
// the session is unknown or requester is not a participant.
func (e *Engine[S, M]) Snapshot(id SessionID, requester UserID) (*Snapshot, bool) {
	sl := e.load(id)
	if sl == nil {
		return nil, false
	}
	defer sl.mu.Unlock()
	s := sl.sess
	if !s.IsMember(requester) {
		return nil, false
	}
	snap := &Snapshot{
		SessionID: s.ID,
		GameType:  s.GameType,
		CreatorID: s.CreatorID,
		Started:   s.Started,
		Ended:     s.Ended,
		Members:   make([]MemberInfo, 0, len(s.Roster)),
		State:     e.module.OnSnapshot(s, requester),
	}
	for _, m := range s.OrderedMembers() {
		snap.Members = append(snap.Members, MemberInfo{ID: m.ID, DisplayName: m.DisplayName})
	}
	return snap, true
}

// CanReclaim reports whether the session has ended and been idle for longer
// than the reclaim period.
func (e *Engine[S, M]) CanReclaim(id SessionID) bool {
	sl := e.load(id)
	if sl == nil {
		return false
	}
	defer sl.mu.Unlock()
	return e.reclaimableLocked(sl.sess)
}

func (e *Engine[S, M]) reclaimableLocked(s *Session[S, M]) bool {
	return s.Ended && e.now().Sub(s.LastUpdatedAt) > e.reclaimAfter
}

// Destroy removes the session and cancels its deferred callbacks.
func (e *Engine[S, M]) Destroy(id SessionID) {
	e.mu.Lock()
	sl, ok := e.slots[id]
	delete(e.slots, id)
	e.mu.Unlock()
	if !ok {
		return
	}
	sl.mu.Lock()
	if sl.sess != nil {
		sl.sess.cancelAllLocked()
		sl.sess.logger.Info("session destroyed")
	}
	sl.sess = nil
	sl.removed = true
	sl.mu.Unlock()
	e.recorder.SessionsActive(e.GameType(), e.ActiveSessions())
	e.onDestroy(id)
}

// Reclaim destroys every reclaimable session and returns how many were removed.
func (e *Engine[S, M]) Reclaim() int {
	e.mu.Lock()
	candidates := make(map[SessionID]*slot[S, M], len(e.slots))
	for id, sl := range e.slots {
		candidates[id] = sl
	}
	e.mu.Unlock()

	n := 0
	for id, sl := range candidates {
		sl.mu.Lock()
		if sl.sess == nil || !e.reclaimableLocked(sl.sess) {
			sl.mu.Unlock()
			continue
		}
		sl.sess.cancelAllLocked()
		sl.sess = nil
		sl.removed = true
		sl.mu.Unlock()

		e.mu.Lock()
		if e.slots[id] == sl {
			delete(e.slots, id)
		}
		e.mu.Unlock()
		e.onDestroy(id)
		n++
	}
	if n > 0 {
		e.logger.Info("sessions reclaimed", zap.Int("count", n))
		e.recorder.SessionsActive(e.GameType(), e.ActiveSessions())
	}
	return n
}

// ActiveSessions returns the number of live sessions.
func (e *Engine[S, M]) ActiveSessions() int {
	e.mu.Lock()
	slots := make([]*slot[S, M], 0, len(e.slots))
	for _, sl := range e.slots {
		slots = append(slots, sl)
	}
	e.mu.Unlock()

	n := 0
	for _, sl := range slots {
		sl.mu.Lock()
		if sl.sess != nil {
			n++
		}
		sl.mu.Unlock()
	}
	return n
}

// Inspect runs fn against the live session under its lock. It reports false
// when the session is unknown. Intended for tests and diagnostics.
func (e *Engine[S, M]) Inspect(id SessionID, fn func(*Session[S, M])) bool {
	sl := e.load(id)
	if sl == nil {
		return false
	}
	defer sl.mu.Unlock()
	fn(sl.sess)
	return true
}
