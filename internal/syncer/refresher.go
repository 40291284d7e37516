package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PeriodicRefresher calls a function on a fixed interval. At most one
// loop runs at a time: Start on a running refresher is a no-op, and Stop
// waits for the loop to exit.
type PeriodicRefresher struct {
	interval time.Duration
	fn       func(context.Context)
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPeriodicRefresher creates a stopped refresher.
func NewPeriodicRefresher(interval time.Duration, fn func(context.Context), logger *slog.Logger) *PeriodicRefresher {
	return &PeriodicRefresher{interval: interval, fn: fn, logger: logger}
}

// Start launches the loop. It reports whether a new loop was started.
func (r *PeriodicRefresher) Start(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return false
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.loop(ctx, r.done)

	r.logger.Debug("periodic refresh started", slog.Duration("interval", r.interval))

	return true
}

// Stop ends the loop and waits for it. Stopping a stopped refresher is a
// no-op.
func (r *PeriodicRefresher) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done

	r.logger.Debug("periodic refresh stopped")
}

// Running reports whether the loop is active.
func (r *PeriodicRefresher) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.cancel != nil
}

func (r *PeriodicRefresher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.fn(ctx)
		}
	}
}
