package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/shelfsync/shelfsync/internal/errors"
	"github.com/shelfsync/shelfsync/internal/models"
)

// Shares tracks read-only collections published by other users. Each
// share is refreshed independently; a failed fetch only changes that
// share's status and keeps its cached items. A PeriodicRefresher runs
// while at least one share is tracked.
type Shares struct {
	loader    ShareLoader
	store     ShareStore
	refresher *PeriodicRefresher
	logger    *slog.Logger
	now       func() time.Time

	// lifecycle orders tracking changes with refresher start/stop so the
	// refresher runs exactly while the set is non-empty. It is never held
	// by the refresh loop itself.
	lifecycle sync.Mutex

	mu     sync.Mutex
	ctx    context.Context
	shares map[string]models.Share
}

// NewShares creates a share tracker. Call Start to load persisted shares.
func NewShares(loader ShareLoader, store ShareStore, interval time.Duration, logger *slog.Logger) *Shares {
	s := &Shares{
		loader: loader,
		store:  store,
		logger: logger.With(slog.String("component", "shares")),
		now:    time.Now,
		ctx:    context.Background(),
		shares: make(map[string]models.Share),
	}

	s.refresher = NewPeriodicRefresher(interval, s.Refresh, s.logger)

	return s
}

// Start loads the persisted shares and starts periodic refresh when any
// exist. ctx bounds the refresher's lifetime.
func (s *Shares) Start(ctx context.Context) error {
	all, err := s.store.AllShares()
	if err != nil {
		return fmt.Errorf("loading shares: %w", err)
	}

	s.mu.Lock()
	s.ctx = ctx
	for _, sh := range all {
		s.shares[sh.ID] = sh
	}
	n := len(s.shares)
	s.mu.Unlock()

	if n > 0 {
		s.refresher.Start(ctx)
	}

	s.logger.Info("shares loaded", slog.Int("count", n))

	return nil
}

// Close stops periodic refresh.
func (s *Shares) Close() {
	s.refresher.Stop()
}

// Running reports whether periodic refresh is active.
func (s *Shares) Running() bool {
	return s.refresher.Running()
}

// Add tracks a share and fetches it once. A share with the same ID is
// replaced. The returned share carries the fetch outcome.
func (s *Shares) Add(ctx context.Context, sh models.Share) (models.Share, error) {
	if sh.ShareID == "" {
		return models.Share{}, fmt.Errorf("share id is required")
	}

	if sh.ID == "" {
		sh.ID = uuid.NewString()
	}

	sh.Status = models.ShareStatusPending
	sh.Items = nil
	sh.LastModified = ""
	sh.Error = ""

	s.lifecycle.Lock()

	if err := s.store.SaveShare(sh); err != nil {
		s.lifecycle.Unlock()
		return models.Share{}, fmt.Errorf("saving share: %w", err)
	}

	s.mu.Lock()
	s.shares[sh.ID] = sh
	base := s.ctx
	s.mu.Unlock()

	s.refresher.Start(base)
	s.lifecycle.Unlock()

	s.logger.Info("share added", slog.String("share", sh.ID), slog.String("owner", sh.Owner))

	return s.refreshOne(ctx, sh), nil
}

// Remove stops tracking a share. It reports whether the share existed.
func (s *Shares) Remove(id string) (bool, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	_, ok := s.shares[id]
	delete(s.shares, id)
	empty := len(s.shares) == 0
	s.mu.Unlock()

	if !ok {
		return false, nil
	}

	if err := s.store.DeleteShare(id); err != nil {
		return true, fmt.Errorf("deleting share: %w", err)
	}

	if empty {
		s.refresher.Stop()
	}

	s.logger.Info("share removed", slog.String("share", id))

	return true, nil
}

// Get returns a tracked share.
func (s *Shares) Get(id string) (models.Share, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.shares[id]

	return sh, ok
}

// List returns the tracked shares ordered by ID.
func (s *Shares) List() []models.Share {
	s.mu.Lock()
	list := make([]models.Share, 0, len(s.shares))
	for _, sh := range s.shares {
		list = append(list, sh)
	}
	s.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	return list
}

// Refresh fetches every tracked share once.
func (s *Shares) Refresh(ctx context.Context) {
	for _, sh := range s.List() {
		if ctx.Err() != nil {
			return
		}

		s.refreshOne(ctx, sh)
	}
}

// refreshOne fetches one share and records the outcome, unless the share
// was removed while the fetch was in flight.
func (s *Shares) refreshOne(ctx context.Context, sh models.Share) models.Share {
	doc, err := s.loader.LoadShared(ctx, sh.ShareID)

	sh.LastChecked = models.Timestamp(s.now())

	switch {
	case err != nil:
		sh.Status = shareStatus(err)
		sh.Error = err.Error()
		s.logger.Warn("share refresh failed",
			slog.String("share", sh.ID),
			slog.String("status", string(sh.Status)),
			slog.String("error", err.Error()),
		)

	case doc == nil:
		sh.Status = models.ShareStatusNotFound
		sh.Error = apperrors.ErrNotFound.Error()

	default:
		sh.Status = models.ShareStatusOK
		sh.Error = ""

		if doc.LastModified != sh.LastModified || sh.Items == nil {
			sh.Items = doc.Items
			sh.LastModified = doc.LastModified
			s.logger.Debug("share updated", slog.String("share", sh.ID), slog.Int("items", len(doc.Items)))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.shares[sh.ID]; !ok {
		return sh
	}

	s.shares[sh.ID] = sh

	if err := s.store.SaveShare(sh); err != nil {
		s.logger.Warn("persisting share failed", slog.String("share", sh.ID), slog.String("error", err.Error()))
	}

	return sh
}

func shareStatus(err error) models.ShareStatus {
	switch {
	case errors.Is(err, apperrors.ErrUnauthorized), errors.Is(err, apperrors.ErrNotAuthenticated):
		return models.ShareStatusUnauthorized
	case errors.Is(err, apperrors.ErrNotFound):
		return models.ShareStatusNotFound
	}

	return models.ShareStatusError
}
