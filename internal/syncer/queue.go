package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/shelfsync/shelfsync/internal/models"
)

// minQueueTick bounds how often the queue checks for settled intents.
const minQueueTick = 10 * time.Millisecond

// Intent asks for a sync of one domain.
type Intent struct {
	Domain models.Domain
	Reason Trigger
	At     time.Time
}

// Queue coalesces sync intents. Intents for the same domain collapse
// into the latest one, and an intent is handed to the consumer only once
// no newer intent for its domain has arrived for the debounce window.
// A single consumer drains the queue serially.
type Queue struct {
	debounce time.Duration
	now      func() time.Time

	mu      sync.Mutex
	pending map[models.Domain]Intent
}

// NewQueue creates a queue with the given debounce window.
func NewQueue(debounce time.Duration) *Queue {
	return &Queue{
		debounce: debounce,
		now:      time.Now,
		pending:  make(map[models.Domain]Intent),
	}
}

// Enqueue records an intent, replacing any pending one for the domain.
func (q *Queue) Enqueue(d models.Domain, reason Trigger) {
	q.mu.Lock()
	q.pending[d] = Intent{Domain: d, Reason: reason, At: q.now()}
	q.mu.Unlock()
}

// Len returns the number of domains with a pending intent.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pending)
}

// settled removes and returns the intents that have been quiet for the
// debounce window.
func (q *Queue) settled() []Intent {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()

	var ready []Intent

	for d, in := range q.pending {
		if now.Sub(in.At) < q.debounce {
			continue
		}

		ready = append(ready, in)
		delete(q.pending, d)
	}

	return ready
}

// Run drains the queue until ctx is cancelled, calling handle for each
// settled intent one at a time.
func (q *Queue) Run(ctx context.Context, handle func(context.Context, Intent)) {
	tick := q.debounce / 2
	if tick < minQueueTick {
		tick = minQueueTick
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			for _, in := range q.settled() {
				if ctx.Err() != nil {
					return
				}

				handle(ctx, in)
			}
		}
	}
}
