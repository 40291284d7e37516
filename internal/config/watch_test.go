package config

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shelfsync/shelfsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitFor polls until cond returns true or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(20 * time.Millisecond)
	}

	t.Fatal("timed out waiting for condition")
}

type sharesRecorder struct {
	mu    sync.Mutex
	calls [][]models.Share
}

func (r *sharesRecorder) record(shares []models.Share) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, shares)
}

func (r *sharesRecorder) last() []models.Share {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.calls) == 0 {
		return nil
	}

	return r.calls[len(r.calls)-1]
}

func watchShares(t *testing.T, path string) *sharesRecorder {
	t.Helper()

	rec := &sharesRecorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	go func() {
		errCh <- WatchShares(ctx, path, logger, rec.record)
	}()

	// Give fsnotify a moment to set up watches.
	time.Sleep(50 * time.Millisecond)

	t.Cleanup(func() {
		cancel()

		err := <-errCh
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("watcher error: %v", err)
		}
	})

	return rec
}

func TestWatchShares_ReloadsOnWrite(t *testing.T) {
	path := writeShares(t, "shares:\n  - {id: sam, share_id: abc}\n")
	rec := watchShares(t, path)

	require.NoError(t, os.WriteFile(path, []byte("shares:\n  - {id: sam, share_id: abc}\n  - {id: robin, share_id: def}\n"), 0o600))

	waitFor(t, 2*time.Second, func() bool { return len(rec.last()) == 2 })
	assert.Equal(t, "robin", rec.last()[1].ID)
}

func TestWatchShares_SkipsInvalidFile(t *testing.T) {
	path := writeShares(t, "shares:\n  - {id: sam, share_id: abc}\n")
	rec := watchShares(t, path)

	require.NoError(t, os.WriteFile(path, []byte("shares: ["), 0o600))
	time.Sleep(400 * time.Millisecond)
	assert.Nil(t, rec.last())

	require.NoError(t, os.WriteFile(path, []byte("shares:\n  - {id: robin, share_id: def}\n"), 0o600))
	waitFor(t, 2*time.Second, func() bool { return len(rec.last()) == 1 })
}

func TestWatchShares_IgnoresSiblings(t *testing.T) {
	path := writeShares(t, "shares: []\n")
	rec := watchShares(t, path)

	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other.yaml"), []byte("x"), 0o600))
	time.Sleep(400 * time.Millisecond)
	assert.Nil(t, rec.last())
}

func TestWatchShares_MissingDirectory(t *testing.T) {
	err := WatchShares(context.Background(), filepath.Join(t.TempDir(), "absent", "shares.yaml"),
		slog.New(slog.NewTextHandler(io.Discard, nil)), func([]models.Share) {})
	assert.ErrorContains(t, err, "watching shares file")
}
