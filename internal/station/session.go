package station

import (
	"time"

	"go.uber.org/zap"
)

// Member is a participant's per-session record.
type Member[M any] struct {
	ID          UserID
	DisplayName string
	State       M
}

// Session is the live data of one session. It is owned by the engine and is
// only valid for the duration of a hook call.
type Session[S, M any] struct {
	ID            SessionID
	GameType      GameType
	CreatorID     UserID
	Started       bool
	Ended         bool
	LastUpdatedAt time.Time
	// Roster lists participants in directory order.
	Roster  []UserID
	Members map[UserID]*Member[M]
	State   S

	engine *Engine[S, M]
	slot   *slot[S, M]
	timers map[string]*deferredCall
	logger *zap.Logger
}

// Member returns the member record for id, or nil if id is not on the roster.
func (s *Session[S, M]) Member(id UserID) *Member[M] {
	return s.Members[id]
}

// IsMember reports whether id is on the roster.
func (s *Session[S, M]) IsMember(id UserID) bool {
	_, ok := s.Members[id]
	return ok
}

// OrderedMembers returns member records in roster order.
func (s *Session[S, M]) OrderedMembers() []*Member[M] {
	out := make([]*Member[M], 0, len(s.Roster))
	for _, id := range s.Roster {
		if m, ok := s.Members[id]; ok {
			out = append(out, m)
		}
	}
	return out
}

// Broadcast sends topic to every participant.
func (s *Session[S, M]) Broadcast(topic string, payload any) {
	s.engine.notifier.Broadcast(s.ID, topic, payload)
}

// Multicast sends topic to every participant except exclude.
func (s *Session[S, M]) Multicast(exclude UserID, topic string, payload any) {
	s.engine.notifier.Multicast(exclude, s.ID, topic, payload)
}

// Unicast sends topic to a single participant.
func (s *Session[S, M]) Unicast(userID UserID, topic string, payload any) {
	s.engine.notifier.Unicast(userID, s.ID, topic, payload)
}

// Touch refreshes LastUpdatedAt. Modules call it after every accepted mutation.
func (s *Session[S, M]) Touch() {
	s.LastUpdatedAt = s.engine.now()
}

// EndRound terminates the round early. It is a no-op if the round is not
// running.
//
// Postcondition: Ended is true and all deferred callbacks are cancelled.
func (s *Session[S, M]) EndRound() {
	s.engine.endRoundLocked(s)
}

// Logger returns the session-scoped logger.
func (s *Session[S, M]) Logger() *zap.Logger {
	return s.logger
}

// Reject records a guard rejection. The message is dropped without surfacing
// an error to the sender.
func (s *Session[S, M]) Reject(reason string, fields ...zap.Field) {
	s.logger.Debug("message rejected", append([]zap.Field{zap.String("reason", reason)}, fields...)...)
	s.engine.recorder.Rejected(s.GameType, reason)
}
