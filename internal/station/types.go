// Package station implements the game station engine: a generic per-session
// runtime that owns session lifecycle, routes player messages to pluggable game
// modules and serialises every mutation of a session's state.
package station

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// SessionID identifies a game session owned by the external session directory.
type SessionID int64

// UserID identifies a participant owned by the external user directory.
type UserID int64

// GameType names a game module, e.g. "mafia".
type GameType string

// Core topics handled by the engine itself rather than by a module.
const (
	TopicRoundInitialize = "round/initialize"
	TopicRoundStart      = "round/start"
	TopicRoundEnded      = "round/ended"
)

// Core outbound topics.
const (
	TopicRoundStarted = "round/started"
	TopicSnapshot     = "session/snapshot"
)

var (
	// ErrSessionNotFound is returned when a session cannot be resolved.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUserNotFound is returned when a user cannot be resolved.
	ErrUserNotFound = errors.New("user not found")
	// ErrNotParticipant is returned when a user is not on a session's roster.
	ErrNotParticipant = errors.New("user is not a session participant")
	// ErrUnknownGameType is returned when no station serves a game type.
	ErrUnknownGameType = errors.New("unknown game type")
)

// Message is the single inbound envelope delivered to a station.
type Message struct {
	SessionID SessionID
	SenderID  UserID
	IsCreator bool
	Topic     string
	Payload   json.RawMessage
}

// Action returns the part of the topic after the game type namespace.
// A topic without a namespace is returned unchanged.
func (m Message) Action() string {
	if i := strings.IndexByte(m.Topic, '/'); i >= 0 {
		return m.Topic[i+1:]
	}
	return m.Topic
}

// Topic builds a namespaced topic "<gameType>/<action>".
func Topic(game GameType, action string) string {
	return string(game) + "/" + action
}

// SessionInfo is the external session entity as seen by the engine.
type SessionInfo struct {
	ID           SessionID
	CreatorID    UserID
	Participants []UserID
	GameType     GameType
}

// User is the external user entity as seen by the engine.
type User struct {
	ID          UserID
	DisplayName string
}

// SessionDirectory resolves sessions from the external session store.
type SessionDirectory interface {
	// GetSession returns the session or an error wrapping ErrSessionNotFound.
	GetSession(ctx context.Context, id SessionID) (*SessionInfo, error)
	// GetActiveSessions returns every session the user currently participates in.
	GetActiveSessions(ctx context.Context, userID UserID) ([]SessionInfo, error)
}

// UserDirectory resolves users from the external user store.
type UserDirectory interface {
	// GetUser returns the user or an error wrapping ErrUserNotFound.
	GetUser(ctx context.Context, id UserID) (*User, error)
}

// Notifier delivers outbound messages to session participants. Every method is
// best-effort and never reports delivery failures back to the engine.
type Notifier interface {
	Broadcast(sessionID SessionID, topic string, payload any)
	Multicast(exclude UserID, sessionID SessionID, topic string, payload any)
	Unicast(userID UserID, sessionID SessionID, topic string, payload any)
}

// Recorder receives engine measurements. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Routed(game GameType, topic string, elapsed time.Duration)
	Rejected(game GameType, reason string)
	SessionsActive(game GameType, n int)
}

type nopRecorder struct{}

func (nopRecorder) Routed(GameType, string, time.Duration) {}
func (nopRecorder) Rejected(GameType, string)              {}
func (nopRecorder) SessionsActive(GameType, int)           {}
