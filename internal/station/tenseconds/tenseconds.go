// Package tenseconds implements the timed-reaction game: every participant
// stops a hidden counter and the one closest to the burst threshold without
// passing it wins.
package tenseconds

import (
	"encoding/json"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gamestation/internal/station"
)

// GameType is the identifier of the timed-reaction game.
const GameType station.GameType = "ten-seconds"

const (
	// DefaultStopAfter is how long a round runs before it is force-ended.
	DefaultStopAfter = 15 * time.Second
	// DefaultBurst is the largest stop value that still earns a rank.
	DefaultBurst = 10 * time.Second

	forceEndTimer = "force-end"
)

// Topics handled or emitted by the module.
var (
	TopicStop   = station.Topic(GameType, "stop")
	TopicResult = station.Topic(GameType, "result")
)

// SessionState is the per-session state.
type SessionState struct {
	StoppedCount int
}

// MemberState is the per-member state. StopAt is nil until the member stops.
type MemberState struct {
	StopAt *float64
}

// Session is a timed-reaction session.
type Session = station.Session[*SessionState, *MemberState]

// Result is one participant's outcome. Rank is nil for participants that
// never stopped or stopped past the burst threshold.
type Result struct {
	ID          station.UserID `json:"id"`
	DisplayName string         `json:"displayName"`
	StopAt      *float64       `json:"stopAt"`
	Rank        *int           `json:"rank"`
}

// ResultPayload is broadcast on TopicResult when the round ends.
type ResultPayload struct {
	SessionID station.SessionID `json:"sessionId"`
	Results   []Result          `json:"results"`
}

// Module implements station.Module for the timed-reaction game.
type Module struct {
	stopAfter time.Duration
	burst     float64
}

// Option configures a Module.
type Option func(*Module)

// WithStopAfter overrides DefaultStopAfter.
func WithStopAfter(d time.Duration) Option {
	return func(m *Module) { m.stopAfter = d }
}

// WithBurst overrides DefaultBurst.
func WithBurst(d time.Duration) Option {
	return func(m *Module) { m.burst = d.Seconds() }
}

// New returns a Module.
//
// Postcondition: Returns a Module using DefaultStopAfter and DefaultBurst unless overridden.
func New(opts ...Option) *Module {
	m := &Module{stopAfter: DefaultStopAfter, burst: DefaultBurst.Seconds()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GameType implements station.Module.
func (m *Module) GameType() station.GameType { return GameType }

// NewSessionState implements station.Module.
func (m *Module) NewSessionState() *SessionState { return &SessionState{} }

// NewMemberState implements station.Module.
func (m *Module) NewMemberState() *MemberState { return &MemberState{} }

// OnSessionStart implements station.Module.
func (m *Module) OnSessionStart(*Session) {}

// OnRoundStart schedules the forced round end.
func (m *Module) OnRoundStart(s *Session) {
	s.After(forceEndTimer, m.stopAfter, func(s *Session) {
		s.Logger().Info("round force-ended", zap.Int("stopped", s.State.StoppedCount))
		s.EndRound()
	})
}

// OnRoundEnd ranks the participants and broadcasts the results.
func (m *Module) OnRoundEnd(s *Session) {
	s.Broadcast(TopicResult, ResultPayload{SessionID: s.ID, Results: m.Rank(s)})
}

// RouteMessage implements station.Module.
func (m *Module) RouteMessage(s *Session, msg station.Message) bool {
	switch msg.Action() {
	case "stop", "stop-counter":
		m.stop(s, msg)
		return true
	default:
		return false
	}
}

func (m *Module) stop(s *Session, msg station.Message) {
	if !s.Started || s.Ended {
		s.Reject("round not running", zap.Int64("user_id", int64(msg.SenderID)))
		return
	}
	member := s.Member(msg.SenderID)
	if member.State.StopAt != nil {
		s.Reject("already stopped", zap.Int64("user_id", int64(msg.SenderID)))
		return
	}
	var at *float64
	if err := json.Unmarshal(msg.Payload, &at); err != nil || at == nil {
		s.Reject("missing stop value", zap.Int64("user_id", int64(msg.SenderID)))
		return
	}
	if *at < 0 {
		s.Reject("invalid stop value", zap.Int64("user_id", int64(msg.SenderID)), zap.Float64("stop_at", *at))
		return
	}

	member.State.StopAt = at
	s.State.StoppedCount++
	s.Touch()
	s.Logger().Debug("counter stopped", zap.Int64("user_id", int64(msg.SenderID)), zap.Float64("stop_at", *at))

	if s.State.StoppedCount == len(s.Members) {
		s.Cancel(forceEndTimer)
		s.Logger().Debug("all participants stopped, ending round")
		s.EndRound()
	}
}

// Rank returns the results in rank order followed by unranked participants in
// roster order. Ties keep roster order.
func (m *Module) Rank(s *Session) []Result {
	members := s.OrderedMembers()
	var ranked, unranked []Result
	for _, mem := range members {
		r := Result{ID: mem.ID, DisplayName: mem.DisplayName}
		if mem.State.StopAt != nil {
			v := *mem.State.StopAt
			r.StopAt = &v
		}
		if r.StopAt != nil && *r.StopAt <= m.burst {
			ranked = append(ranked, r)
		} else {
			unranked = append(unranked, r)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return *ranked[i].StopAt > *ranked[j].StopAt })
	for i := range ranked {
		rank := i + 1
		ranked[i].Rank = &rank
	}
	return append(ranked, unranked...)
}

// Snapshot is the requester view of a timed-reaction session.
type Snapshot struct {
	Stopped bool     `json:"stopped"`
	StopAt  *float64 `json:"stopAt"`
	// StoppedIDs lists who has stopped, without their values.
	StoppedIDs []station.UserID `json:"stoppedIds"`
	// Results is only populated once the round has ended.
	Results []Result `json:"results,omitempty"`
}

// OnSnapshot hides other participants' values until the round ends.
func (m *Module) OnSnapshot(s *Session, requester station.UserID) any {
	me := s.Member(requester)
	snap := Snapshot{Stopped: me.State.StopAt != nil, StopAt: me.State.StopAt, StoppedIDs: []station.UserID{}}
	for _, mem := range s.OrderedMembers() {
		if mem.State.StopAt != nil {
			snap.StoppedIDs = append(snap.StoppedIDs, mem.ID)
		}
	}
	if s.Ended {
		snap.Results = m.Rank(s)
	}
	return snap
}
