package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	apperrors "github.com/shelfsync/shelfsync/internal/errors"
	"github.com/shelfsync/shelfsync/internal/models"
)

// Registry holds one Syncer per domain and routes queued intents to them.
type Registry struct {
	queue  *Queue
	logger *slog.Logger

	mu      sync.RWMutex
	syncers map[models.Domain]*Syncer
}

// NewRegistry creates an empty registry fed by queue.
func NewRegistry(queue *Queue, logger *slog.Logger) *Registry {
	return &Registry{
		queue:   queue,
		logger:  logger,
		syncers: make(map[models.Domain]*Syncer),
	}
}

// Register adds a syncer, replacing any previous one for its domain.
func (r *Registry) Register(s *Syncer) {
	r.mu.Lock()
	r.syncers[s.Domain()] = s
	r.mu.Unlock()
}

// Get returns the syncer for a domain.
func (r *Registry) Get(d models.Domain) (*Syncer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.syncers[d]
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownDomain, d)
	}

	return s, nil
}

// All returns the registered syncers in domain order.
func (r *Registry) All() []*Syncer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []*Syncer

	for _, d := range models.Domains() {
		if s, ok := r.syncers[d]; ok {
			all = append(all, s)
		}
	}

	return all
}

// Enqueue raises a sync intent for a mutated domain. It is suitable as
// Options.OnMutate.
func (r *Registry) Enqueue(d models.Domain) {
	r.queue.Enqueue(d, TriggerMutation)
}

// HandleIntent runs the sync an intent asks for. An intent that lands on
// an attempt already in flight is queued again.
func (r *Registry) HandleIntent(ctx context.Context, in Intent) {
	s, err := r.Get(in.Domain)
	if err != nil {
		r.logger.Warn("dropping intent", slog.String("error", err.Error()))
		return
	}

	res, err := s.Sync(ctx, in.Reason)
	if errors.Is(err, apperrors.ErrSyncInProgress) {
		r.queue.Enqueue(in.Domain, in.Reason)
		return
	}

	r.logger.Debug("queued sync finished",
		slog.String("domain", string(in.Domain)),
		slog.String("action", string(res.Action)),
	)
}
