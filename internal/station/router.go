package station

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Station is the game-type independent face of an Engine.
type Station interface {
	GameType() GameType
	RouteMessage(ctx context.Context, msg Message)
	Snapshot(id SessionID, requester UserID) (*Snapshot, bool)
	CanReclaim(id SessionID) bool
	Reclaim() int
	Destroy(id SessionID)
	ActiveSessions() int
}

var _ Station = (*Engine[struct{}, struct{}])(nil)

// Router maps game types to the station responsible for them.
// All methods are safe for concurrent use.
type Router struct {
	mu       sync.RWMutex
	stations map[GameType]Station
	logger   *zap.Logger
}

// NewRouter creates a Router serving stations.
//
// Precondition: logger must be non-nil; no two stations share a game type.
// Postcondition: Returns a Router or an error naming the duplicated game type.
func NewRouter(logger *zap.Logger, stations ...Station) (*Router, error) {
	r := &Router{stations: make(map[GameType]Station, len(stations)), logger: logger}
	for _, st := range stations {
		if err := r.Register(st); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds st to the router.
//
// Postcondition: Returns an error if a station for the same game type exists.
func (r *Router) Register(st Station) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.stations[st.GameType()]; exists {
		return fmt.Errorf("station for %q already registered", st.GameType())
	}
	r.stations[st.GameType()] = st
	return nil
}

// Station returns the station for game.
//
// Postcondition: Returns an error wrapping ErrUnknownGameType if none exists.
func (r *Router) Station(game GameType) (Station, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.stations[game]
	if !ok {
		return nil, fmt.Errorf("%q: %w", game, ErrUnknownGameType)
	}
	return st, nil
}

// Stations returns every registered station ordered by game type.
func (r *Router) Stations() []Station {
	r.mu.RLock()
	out := make([]Station, 0, len(r.stations))
	for _, st := range r.stations {
		out = append(out, st)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].GameType() < out[j].GameType() })
	return out
}

// Dispatch routes msg to the station serving game.
//
// Postcondition: Returns an error wrapping ErrUnknownGameType when no station
// serves game; the message is then dropped.
func (r *Router) Dispatch(ctx context.Context, game GameType, msg Message) error {
	st, err := r.Station(game)
	if err != nil {
		r.logger.Warn("no station for message",
			zap.String("game", string(game)),
			zap.Int64("session_id", int64(msg.SessionID)),
			zap.String("topic", msg.Topic),
		)
		return err
	}
	st.RouteMessage(ctx, msg)
	return nil
}

// Destroy removes the session from every station. Used when the external
// session is deleted.
func (r *Router) Destroy(id SessionID) {
	for _, st := range r.Stations() {
		st.Destroy(id)
	}
}
