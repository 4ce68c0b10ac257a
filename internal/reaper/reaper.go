package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Expirer finishes waiting teams with no member activity since cutoff.
type Expirer interface {
	ExpireIdle(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

// Reaper periodically finishes abandoned lobbies so their join codes become
// available again.
type Reaper struct {
	store       Expirer
	interval    time.Duration
	idleTimeout time.Duration
	now         func() time.Time
}

// New creates a new Reaper.
func New(store Expirer, interval, idleTimeout time.Duration) *Reaper {
	return &Reaper{
		store:       store,
		interval:    interval,
		idleTimeout: idleTimeout,
		now:         time.Now,
	}
}

// Start begins the expiry loop. It blocks until ctx is cancelled.
func (r *Reaper) Start(ctx context.Context) {
	slog.Info("reaper started", "interval", r.interval.String(), "idleTimeout", r.idleTimeout.String())
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reaper stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	cutoff := r.now().Add(-r.idleTimeout)

	expired, err := r.store.ExpireIdle(ctx, cutoff)
	if err != nil {
		slog.Error("reaper: failed to expire idle teams", "error", err)
		return
	}

	for _, id := range expired {
		slog.Info("reaper: idle team finished", "teamId", id)
	}
}
