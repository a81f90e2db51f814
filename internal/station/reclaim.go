package station

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Reclaimer periodically removes ended, idle sessions from every station of a
// router. Reclamation is best-effort: a session is only removed once its
// station reports it reclaimable at poll time.
type Reclaimer struct {
	router   *Router
	interval time.Duration
	logger   *zap.Logger
}

// NewReclaimer returns a Reclaimer polling router every interval.
//
// Precondition: router and logger must be non-nil; interval must be > 0.
func NewReclaimer(router *Router, interval time.Duration, logger *zap.Logger) *Reclaimer {
	if interval <= 0 {
		panic("station.NewReclaimer: interval must be > 0")
	}
	return &Reclaimer{router: router, interval: interval, logger: logger}
}

// Sweep runs one reclamation pass and returns the number of sessions removed.
func (r *Reclaimer) Sweep() int {
	total := 0
	for _, st := range r.router.Stations() {
		total += st.Reclaim()
	}
	if total > 0 {
		r.logger.Info("reclaimed idle sessions", zap.Int("count", total))
	}
	return total
}

// Run sweeps every interval until ctx is cancelled.
//
// Postcondition: returns ctx.Err() once ctx is done.
func (r *Reclaimer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sweep()
		}
	}
}
