package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/shelfsync/shelfsync/internal/errors"
	"github.com/shelfsync/shelfsync/internal/models"
	"github.com/shelfsync/shelfsync/internal/state"
)

// DefaultBackupLimit is how many backups each domain keeps when no limit
// is configured.
const DefaultBackupLimit = 10

// Backup reasons recorded before each destructive resolution.
const (
	reasonChoseLocal = "user chose local - cloud data backed up"
	reasonChoseCloud = "user chose cloud - local data backed up"
	reasonMerge      = "merge - cloud data backed up"
)

// Action is the outcome of one sync attempt.
type Action string

const (
	ActionUploadedToCloud        Action = "uploaded-to-cloud"
	ActionDownloadedFromCloud    Action = "downloaded-from-cloud"
	ActionAutoMerged             Action = "auto-merged"
	ActionUpToDate               Action = "up-to-date"
	ActionRequiresUserResolution Action = "requires-user-resolution"
	ActionNotAuthenticated       Action = "not-authenticated"
	ActionError                  Action = "error"
)

// Trigger says what started a sync attempt.
type Trigger string

const (
	TriggerStartup  Trigger = "startup"
	TriggerManual   Trigger = "manual"
	TriggerMutation Trigger = "mutation"
)

// Result reports a sync attempt. Items is the replica after the attempt.
// Conflict is set only for ActionRequiresUserResolution.
type Result struct {
	Success  bool          `json:"success"`
	Items    []models.Item `json:"items"`
	Action   Action        `json:"action"`
	Conflict *SyncConflict `json:"conflict,omitempty"`
}

// Event is published after every sync attempt, resolution and restore.
type Event struct {
	Domain models.Domain `json:"domain"`
	Action Action        `json:"action"`
	Items  int           `json:"items"`
	Error  string        `json:"error,omitempty"`
	At     string        `json:"at"`
}

// Status is a snapshot of a domain's sync metadata.
type Status struct {
	Domain          models.Domain `json:"domain"`
	Dirty           bool          `json:"dirty"`
	LastLocalEdit   string        `json:"last_local_edit"`
	LastSync        string        `json:"last_sync"`
	Busy            bool          `json:"busy"`
	PendingConflict bool          `json:"pending_conflict"`
}

// Options configures a Syncer.
type Options struct {
	Domain         models.Domain
	Document       string
	BackupDocument string
	BackupLimit    int

	// OnMutate is called after every local mutation, typically to
	// enqueue a sync intent.
	OnMutate func(models.Domain)

	// OnEvent receives sync outcomes.
	OnEvent func(Event)

	// Now defaults to time.Now.
	Now func() time.Time
}

// Syncer runs the sync state machine for one domain. Sync attempts and
// resolutions are serialized: a second attempt while one is in flight
// fails with ErrSyncInProgress. Local mutations wait for an in-flight
// attempt to finish.
type Syncer struct {
	domain         models.Domain
	document       string
	backupDocument string
	backupLimit    int

	gateway Gateway
	store   Store
	logger  *slog.Logger

	onMutate func(models.Domain)
	onEvent  func(Event)
	now      func() time.Time

	busy atomic.Bool

	// writeMu serializes every write to the replica.
	writeMu sync.Mutex

	mu      sync.Mutex
	pending *SyncConflict
}

// New creates a Syncer for one domain.
func New(gw Gateway, store Store, opts Options, logger *slog.Logger) *Syncer {
	if opts.BackupLimit < 1 {
		opts.BackupLimit = DefaultBackupLimit
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Syncer{
		domain:         opts.Domain,
		document:       opts.Document,
		backupDocument: opts.BackupDocument,
		backupLimit:    opts.BackupLimit,
		gateway:        gw,
		store:          store,
		logger:         logger.With(slog.String("domain", string(opts.Domain))),
		onMutate:       opts.OnMutate,
		onEvent:        opts.OnEvent,
		now:            opts.Now,
	}
}

// Domain returns the domain this syncer reconciles.
func (s *Syncer) Domain() models.Domain {
	return s.domain
}

func (s *Syncer) timestamp() string {
	return models.Timestamp(s.now())
}

func (s *Syncer) begin() error {
	if !s.busy.CompareAndSwap(false, true) {
		return apperrors.ErrSyncInProgress
	}

	s.writeMu.Lock()

	return nil
}

func (s *Syncer) end() {
	s.writeMu.Unlock()
	s.busy.Store(false)
}

// Pending returns the conflict awaiting a decision, or nil.
func (s *Syncer) Pending() *SyncConflict {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pending
}

func (s *Syncer) setPending(c *SyncConflict) {
	s.mu.Lock()
	s.pending = c
	s.mu.Unlock()
}

func (s *Syncer) emit(action Action, items int, err error) {
	if s.onEvent == nil {
		return
	}

	ev := Event{Domain: s.domain, Action: action, Items: items, At: s.timestamp()}
	if err != nil {
		ev.Error = err.Error()
	}

	s.onEvent(ev)
}

// replica is the local side of one sync attempt.
type replica struct {
	items    []models.Item
	lastEdit string
	lastSync string
	dirty    bool
}

func (r replica) document() models.Document {
	return models.Document{Items: r.items, LastModified: r.lastEdit}
}

func (s *Syncer) readReplica() (replica, error) {
	var (
		r   replica
		err error
	)

	if r.items, err = s.store.ReadCollection(s.domain); err != nil {
		return r, fmt.Errorf("reading local collection: %w", err)
	}

	if r.lastEdit, err = s.store.ReadTimestamp(s.domain, state.KeyLastLocalEdit); err != nil {
		return r, fmt.Errorf("reading last local edit: %w", err)
	}

	if r.lastSync, err = s.store.ReadTimestamp(s.domain, state.KeyLastSync); err != nil {
		return r, fmt.Errorf("reading last sync: %w", err)
	}

	if r.dirty, err = s.store.ReadFlag(s.domain, state.KeyDirty); err != nil {
		return r, fmt.Errorf("reading dirty flag: %w", err)
	}

	return r, nil
}

// Sync runs one attempt of the state machine. Outcomes that need no
// retry, including a conflict, are reported through Result.Action with a
// nil error. The error is non-nil for ActionError and when the remote
// rejects the credential.
//
// While a conflict awaits a decision, startup and mutation triggers
// return it again without contacting the remote. A manual trigger
// re-detects.
func (s *Syncer) Sync(ctx context.Context, trigger Trigger) (Result, error) {
	if err := s.begin(); err != nil {
		return Result{Action: ActionError}, err
	}
	defer s.end()

	logger := s.logger.With(slog.String("trigger", string(trigger)))

	if trigger != TriggerManual {
		if p := s.Pending(); p != nil {
			logger.Debug("conflict awaiting decision, skipping sync")

			items, err := s.store.ReadCollection(s.domain)
			if err != nil {
				return Result{Action: ActionError}, fmt.Errorf("reading local collection: %w", err)
			}

			return Result{Items: items, Action: ActionRequiresUserResolution, Conflict: p}, nil
		}
	}

	res, err := s.run(ctx, logger)
	if res.Success {
		s.setPending(nil)
	}

	if err != nil && res.Action == ActionError {
		logger.Warn("sync failed", slog.String("error", err.Error()))
	}

	s.emit(res.Action, len(res.Items), err)

	return res, err
}

func (s *Syncer) run(ctx context.Context, logger *slog.Logger) (Result, error) {
	if !s.gateway.Authenticated() {
		logger.Info("not authenticated, skipping sync")
		return Result{Action: ActionNotAuthenticated}, nil
	}

	local, err := s.readReplica()
	if err != nil {
		return Result{Action: ActionError}, err
	}

	fail := func(err error) (Result, error) {
		if isAuthError(err) {
			logger.Warn("remote rejected credential", slog.String("error", err.Error()))
			return Result{Items: local.items, Action: ActionNotAuthenticated}, err
		}

		return Result{Items: local.items, Action: ActionError}, err
	}

	// Once the replica has synced, an unmoved remote timestamp means
	// nobody else wrote since: local edits can go straight up and a clean
	// replica is already current. Only a moved remote needs analysis.
	if local.lastSync != "" {
		remoteTS, err := s.gateway.LastModified(ctx, s.document)
		if err != nil {
			return fail(err)
		}

		if remoteTS == local.lastSync {
			if !local.dirty {
				logger.Debug("up to date", slog.String("last_sync", local.lastSync))
				return Result{Success: true, Items: local.items, Action: ActionUpToDate}, nil
			}

			logger.Info("remote unchanged since last sync, uploading local edits",
				slog.Int("items", len(local.items)))

			res, err := s.upload(ctx, local.items)
			if err != nil {
				res.Items = local.items
			}

			return res, err
		}
	}

	remote, err := s.gateway.LoadDocument(ctx, s.document)
	if err != nil {
		return fail(err)
	}

	if remote == nil {
		logger.Info("no remote document, uploading initial copy", slog.Int("items", len(local.items)))
		return s.upload(ctx, local.items)
	}

	if !local.dirty && local.lastSync != "" {
		logger.Info("remote changed, adopting", slog.String("remote_ts", remote.LastModified))
		return s.adopt(*remote)
	}

	analysis := Analyze(local.items, remote.Items)

	if c := buildConflict(s.domain, local.document(), *remote, local.dirty, analysis, s.timestamp()); c != nil {
		s.setPending(c)
		logger.Info("conflict detected, waiting for user decision",
			slog.String("kind", string(c.Kind)),
			slog.Int("records", len(c.Records)),
		)

		return Result{Items: local.items, Action: ActionRequiresUserResolution, Conflict: c}, nil
	}

	switch {
	case len(remote.Items) == 0 && len(local.items) > 0:
		return s.upload(ctx, local.items)

	case len(local.items) == 0 && len(remote.Items) > 0:
		return s.adopt(*remote)

	case len(analysis.LocalOnly) == 0 && len(analysis.CloudOnly) == 0:
		// Same content on both sides; only the metadata needs to catch up.
		if err := s.store.CommitSync(s.domain, local.items, remote.LastModified, remote.LastModified); err != nil {
			return Result{Items: local.items, Action: ActionError}, fmt.Errorf("persisting sync state: %w", err)
		}

		return Result{Success: true, Items: local.items, Action: ActionAutoMerged}, nil
	}

	merged := AutoMerge(local.items, remote.Items)
	logger.Info("auto-merging",
		slog.Int("local_only", len(analysis.LocalOnly)),
		slog.Int("cloud_only", len(analysis.CloudOnly)),
		slog.Int("merged", len(merged)),
	)

	res, err := s.upload(ctx, merged)
	if err != nil {
		res.Items = local.items
		return res, err
	}

	res.Action = ActionAutoMerged

	return res, nil
}

func isAuthError(err error) bool {
	return errors.Is(err, apperrors.ErrUnauthorized) || errors.Is(err, apperrors.ErrNotAuthenticated)
}

// upload writes items as the remote document and only then records them
// locally as synced.
func (s *Syncer) upload(ctx context.Context, items []models.Item) (Result, error) {
	ts := s.timestamp()

	if err := s.gateway.SaveDocument(ctx, s.document, models.Document{Items: items, LastModified: ts}); err != nil {
		if isAuthError(err) {
			return Result{Action: ActionNotAuthenticated}, err
		}

		return Result{Action: ActionError}, fmt.Errorf("uploading %s: %w", s.document, err)
	}

	if err := s.store.CommitSync(s.domain, items, ts, ts); err != nil {
		return Result{Action: ActionError}, fmt.Errorf("persisting sync state: %w", err)
	}

	return Result{Success: true, Items: items, Action: ActionUploadedToCloud}, nil
}

// adopt replaces the replica with the remote document.
func (s *Syncer) adopt(remote models.Document) (Result, error) {
	if err := s.store.CommitSync(s.domain, remote.Items, remote.LastModified, remote.LastModified); err != nil {
		return Result{Action: ActionError}, fmt.Errorf("persisting remote collection: %w", err)
	}

	return Result{Success: true, Items: remote.Items, Action: ActionDownloadedFromCloud}, nil
}

// DetectConflict compares the replica with the remote document without
// changing either. The conflict found, if any, becomes the pending one.
func (s *Syncer) DetectConflict(ctx context.Context) (*SyncConflict, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.end()

	if !s.gateway.Authenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	local, err := s.readReplica()
	if err != nil {
		return nil, err
	}

	if local.lastSync != "" {
		remoteTS, err := s.gateway.LastModified(ctx, s.document)
		if err != nil {
			return nil, err
		}

		if remoteTS == local.lastSync {
			s.setPending(nil)
			return nil, nil
		}
	}

	remote, err := s.gateway.LoadDocument(ctx, s.document)
	if err != nil {
		return nil, err
	}

	if remote == nil {
		s.setPending(nil)
		return nil, nil
	}

	c := buildConflict(s.domain, local.document(), *remote, local.dirty, Analyze(local.items, remote.Items), s.timestamp())
	s.setPending(c)

	return c, nil
}

// ResolveConflict applies the user's decision to the pending conflict and
// returns the replica afterwards.
//
// The remote write for local and merge happens before the replica is
// marked clean; if it fails nothing local changes and the conflict stays
// pending so the caller can retry. Cancel changes nothing and drops the
// pending conflict, so the next sync detects it again.
func (s *Syncer) ResolveConflict(ctx context.Context, choice Choice) ([]models.Item, error) {
	if _, err := ParseChoice(string(choice)); err != nil {
		return nil, err
	}

	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.end()

	c := s.Pending()
	if c == nil {
		return nil, apperrors.ErrNoPendingConflict
	}

	logger := s.logger.With(slog.String("choice", string(choice)))

	if choice == ChoiceCancel {
		s.setPending(nil)
		logger.Info("conflict resolution cancelled")

		return s.store.ReadCollection(s.domain)
	}

	lastEdit, err := s.store.ReadTimestamp(s.domain, state.KeyLastLocalEdit)
	if err != nil {
		return nil, fmt.Errorf("reading last local edit: %w", err)
	}

	if lastEdit != c.Local.LastModified {
		s.setPending(nil)
		return nil, apperrors.ErrStaleConflict
	}

	var items []models.Item

	switch choice {
	case ChoiceLocal:
		items, err = s.pushResolution(ctx, c.Local.Items, c.Cloud.Items, reasonChoseLocal)
	case ChoiceMerge:
		items, err = s.pushResolution(ctx, c.Merged(), c.Cloud.Items, reasonMerge)
	case ChoiceCloud:
		items = c.Cloud.Items
		if _, err = s.backup(ctx, c.Local.Items, reasonChoseCloud); err == nil {
			err = s.store.CommitSync(s.domain, items, c.Cloud.LastModified, c.Cloud.LastModified)
		}
	}

	if err != nil {
		logger.Warn("conflict resolution failed", slog.String("error", err.Error()))
		s.emit(ActionError, len(c.Local.Items), err)

		return nil, err
	}

	s.setPending(nil)
	logger.Info("conflict resolved", slog.Int("items", len(items)))
	s.emit(resolutionAction(choice), len(items), nil)

	return items, nil
}

func resolutionAction(choice Choice) Action {
	switch choice {
	case ChoiceCloud:
		return ActionDownloadedFromCloud
	case ChoiceMerge:
		return ActionAutoMerged
	}

	return ActionUploadedToCloud
}

// pushResolution backs up the cloud side, uploads items and then marks
// the replica clean.
func (s *Syncer) pushResolution(ctx context.Context, items, cloudItems []models.Item, reason string) ([]models.Item, error) {
	if _, err := s.backup(ctx, cloudItems, reason); err != nil {
		return nil, err
	}

	ts := s.timestamp()
	if err := s.gateway.SaveDocument(ctx, s.document, models.Document{Items: items, LastModified: ts}); err != nil {
		return nil, fmt.Errorf("uploading resolution: %w", err)
	}

	if err := s.store.CommitSync(s.domain, items, ts, ts); err != nil {
		return nil, fmt.Errorf("persisting resolution: %w", err)
	}

	return items, nil
}

// CreateBackup snapshots items and returns the backup ID.
func (s *Syncer) CreateBackup(ctx context.Context, items []models.Item, reason string) (string, error) {
	return s.backup(ctx, items, reason)
}

// backup stores a snapshot locally and mirrors the backup list to the
// remote. The mirror is best effort.
func (s *Syncer) backup(ctx context.Context, items []models.Item, reason string) (string, error) {
	if items == nil {
		items = []models.Item{}
	}

	b := models.Backup{
		ID:        uuid.NewString(),
		Domain:    s.domain,
		Timestamp: s.timestamp(),
		Items:     items,
		Reason:    reason,
	}

	if err := s.store.AddBackup(s.domain, b, s.backupLimit); err != nil {
		return "", fmt.Errorf("storing backup: %w", err)
	}

	s.logger.Info("backup created",
		slog.String("backup_id", b.ID),
		slog.String("reason", reason),
		slog.Int("items", len(items)),
	)

	if s.backupDocument == "" || !s.gateway.Authenticated() {
		return b.ID, nil
	}

	all, err := s.store.Backups(s.domain)
	if err == nil {
		err = s.gateway.SaveBackups(ctx, s.backupDocument, all)
	}

	if err != nil {
		s.logger.Warn("mirroring backups failed", slog.String("error", err.Error()))
	}

	return b.ID, nil
}

// Backups lists the domain's backups, oldest first.
func (s *Syncer) Backups() ([]models.Backup, error) {
	return s.store.Backups(s.domain)
}

// RestoreFromBackup replaces the replica with a backup's items as a local
// edit, so the next sync publishes it. Returns nil when the backup does
// not exist.
func (s *Syncer) RestoreFromBackup(id string) ([]models.Item, error) {
	b, err := s.store.Backup(s.domain, id)
	if err != nil {
		return nil, fmt.Errorf("reading backup: %w", err)
	}

	if b == nil {
		return nil, nil
	}

	if err := s.mutate(func([]models.Item) ([]models.Item, error) { return b.Items, nil }); err != nil {
		return nil, err
	}

	s.logger.Info("restored backup", slog.String("backup_id", id), slog.Int("items", len(b.Items)))
	s.emit(ActionDownloadedFromCloud, len(b.Items), nil)

	return b.Items, nil
}

// Items returns the replica's items.
func (s *Syncer) Items() ([]models.Item, error) {
	return s.store.ReadCollection(s.domain)
}

// Upsert inserts or replaces an item. Items without an ID get a new one.
// LastModified is set to now.
func (s *Syncer) Upsert(it models.Item) (models.Item, error) {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}

	it.LastModified = s.timestamp()

	err := s.mutate(func(items []models.Item) ([]models.Item, error) {
		for i := range items {
			if items[i].ID == it.ID {
				items[i] = it
				return items, nil
			}
		}

		return append(items, it), nil
	})

	return it, err
}

// Remove deletes an item by ID. It reports whether the item existed.
func (s *Syncer) Remove(id string) (bool, error) {
	found := false

	err := s.mutate(func(items []models.Item) ([]models.Item, error) {
		kept := items[:0]
		for _, it := range items {
			if it.ID == id {
				found = true
				continue
			}

			kept = append(kept, it)
		}

		return kept, nil
	})

	return found, err
}

// mutate applies a local edit: the replica is rewritten, stamped, marked
// dirty and a sync intent is raised.
func (s *Syncer) mutate(edit func([]models.Item) ([]models.Item, error)) error {
	s.writeMu.Lock()

	items, err := s.store.ReadCollection(s.domain)
	if err == nil {
		items, err = edit(items)
	}

	if err == nil {
		err = s.store.WriteCollection(s.domain, items, s.timestamp())
	}

	if err == nil {
		err = s.store.WriteFlag(s.domain, state.KeyDirty, true)
	}

	s.writeMu.Unlock()

	if err != nil {
		return fmt.Errorf("updating local collection: %w", err)
	}

	if s.onMutate != nil {
		s.onMutate(s.domain)
	}

	return nil
}

// Status reports the domain's sync metadata.
func (s *Syncer) Status() (Status, error) {
	st := Status{
		Domain:          s.domain,
		Busy:            s.busy.Load(),
		PendingConflict: s.Pending() != nil,
	}

	var err error

	if st.Dirty, err = s.store.ReadFlag(s.domain, state.KeyDirty); err != nil {
		return st, err
	}

	if st.LastLocalEdit, err = s.store.ReadTimestamp(s.domain, state.KeyLastLocalEdit); err != nil {
		return st, err
	}

	st.LastSync, err = s.store.ReadTimestamp(s.domain, state.KeyLastSync)

	return st, err
}
