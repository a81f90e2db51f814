package station

// Module is the extension contract every game implements. S is the
// per-session game state and M the per-member game state; both are rebuilt
// from NewSessionState and NewMemberState on every initialize.
//
// All hooks run while the engine holds the session's single-writer lock.
// Hooks must not block and must not retain the session beyond the call.
type Module[S, M any] interface {
	// GameType returns the identifier this module is registered under.
	GameType() GameType
	// NewSessionState returns a fresh per-session state with defined defaults.
	NewSessionState() S
	// NewMemberState returns a fresh per-member state with defined defaults.
	NewMemberState() M
	// OnSessionStart runs once the session has been built from the directories.
	OnSessionStart(s *Session[S, M])
	// OnRoundStart runs when the round-start transition is accepted.
	OnRoundStart(s *Session[S, M])
	// OnRoundEnd runs after the round has been marked ended.
	OnRoundEnd(s *Session[S, M])
	// RouteMessage handles a non-core topic. It returns false when the topic
	// is not one the module understands.
	RouteMessage(s *Session[S, M], msg Message) bool
	// OnSnapshot returns the requester-specific view of module state.
	OnSnapshot(s *Session[S, M], requester UserID) any
}
