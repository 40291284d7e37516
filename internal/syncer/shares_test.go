package syncer

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	apperrors "github.com/shelfsync/shelfsync/internal/errors"
	"github.com/shelfsync/shelfsync/internal/models"
	"github.com/shelfsync/shelfsync/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestShares(t *testing.T) (*Shares, *MockShareLoader, *state.State) {
	t.Helper()

	ctrl := gomock.NewController(t)
	loader := NewMockShareLoader(ctrl)

	st, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	s := NewShares(loader, st, time.Hour, slog.Default())
	t.Cleanup(s.Close)

	return s, loader, st
}

func TestShares_AddFetchesAndStartsRefresh(t *testing.T) {
	s, loader, st := newTestShares(t)

	loader.EXPECT().LoadShared(gomock.Any(), "abc").
		Return(&models.Document{Items: []models.Item{item("1")}, LastModified: "t1"}, nil)

	sh, err := s.Add(t.Context(), models.Share{Owner: "sam", ShareID: "abc"})
	require.NoError(t, err)

	assert.NotEmpty(t, sh.ID)
	assert.Equal(t, models.ShareStatusOK, sh.Status)
	assert.Equal(t, "t1", sh.LastModified)
	assert.NotEmpty(t, sh.LastChecked)
	assert.Equal(t, []string{"1"}, ids(sh.Items))
	assert.True(t, s.Running())

	persisted, err := st.AllShares()
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, models.ShareStatusOK, persisted[0].Status)
}

func TestShares_RemoveLastStopsRefresh(t *testing.T) {
	s, loader, st := newTestShares(t)

	loader.EXPECT().LoadShared(gomock.Any(), gomock.Any()).
		Return(&models.Document{Items: []models.Item{}}, nil).Times(2)

	a, err := s.Add(t.Context(), models.Share{Owner: "a", ShareID: "1"})
	require.NoError(t, err)
	b, err := s.Add(t.Context(), models.Share{Owner: "b", ShareID: "2"})
	require.NoError(t, err)

	found, err := s.Remove(a.ID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, s.Running())

	found, err = s.Remove(b.ID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, s.Running())

	found, err = s.Remove(b.ID)
	require.NoError(t, err)
	assert.False(t, found)

	persisted, err := st.AllShares()
	require.NoError(t, err)
	assert.Empty(t, persisted)
	assert.Empty(t, s.List())
}

func TestShares_FailureStatuses(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ShareStatus
	}{
		{"denied", fmt.Errorf("%w: 403", apperrors.ErrUnauthorized), models.ShareStatusUnauthorized},
		{"no credential", apperrors.ErrNotAuthenticated, models.ShareStatusUnauthorized},
		{"missing", fmt.Errorf("share x: %w", apperrors.ErrNotFound), models.ShareStatusNotFound},
		{"other", fmt.Errorf("%w: 502", apperrors.ErrGateway), models.ShareStatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, loader, _ := newTestShares(t)

			loader.EXPECT().LoadShared(gomock.Any(), "x").Return(nil, tt.err)

			sh, err := s.Add(t.Context(), models.Share{ShareID: "x"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, sh.Status)
			assert.NotEmpty(t, sh.Error)
		})
	}
}

func TestShares_RefreshKeepsCacheOnFailure(t *testing.T) {
	s, loader, _ := newTestShares(t)

	gomock.InOrder(
		loader.EXPECT().LoadShared(gomock.Any(), "x").
			Return(&models.Document{Items: []models.Item{item("1"), item("2")}, LastModified: "t1"}, nil),
		loader.EXPECT().LoadShared(gomock.Any(), "x").
			Return(nil, fmt.Errorf("%w: timeout", apperrors.ErrGateway)),
	)

	sh, err := s.Add(t.Context(), models.Share{ShareID: "x"})
	require.NoError(t, err)

	s.Refresh(t.Context())

	got, ok := s.Get(sh.ID)
	require.True(t, ok)
	assert.Equal(t, models.ShareStatusError, got.Status)
	assert.Equal(t, []string{"1", "2"}, ids(got.Items))
}

func TestShares_RefreshUnchangedKeepsItems(t *testing.T) {
	s, loader, _ := newTestShares(t)

	gomock.InOrder(
		loader.EXPECT().LoadShared(gomock.Any(), "x").
			Return(&models.Document{Items: []models.Item{item("1")}, LastModified: "t1"}, nil),
		loader.EXPECT().LoadShared(gomock.Any(), "x").
			Return(&models.Document{Items: []models.Item{item("9")}, LastModified: "t1"}, nil),
		loader.EXPECT().LoadShared(gomock.Any(), "x").
			Return(&models.Document{Items: []models.Item{item("2")}, LastModified: "t2"}, nil),
	)

	sh, err := s.Add(t.Context(), models.Share{ShareID: "x"})
	require.NoError(t, err)

	s.Refresh(t.Context())
	got, _ := s.Get(sh.ID)
	assert.Equal(t, []string{"1"}, ids(got.Items))

	s.Refresh(t.Context())
	got, _ = s.Get(sh.ID)
	assert.Equal(t, []string{"2"}, ids(got.Items))
	assert.Equal(t, "t2", got.LastModified)
}

func TestShares_StartLoadsPersisted(t *testing.T) {
	s, _, st := newTestShares(t)

	require.NoError(t, st.SaveShare(models.Share{ID: "s1", ShareID: "abc", Status: models.ShareStatusOK}))

	require.NoError(t, s.Start(t.Context()))

	assert.True(t, s.Running())
	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, "abc", list[0].ShareID)
}

func TestShares_StartEmptyDoesNotRefresh(t *testing.T) {
	s, _, _ := newTestShares(t)

	require.NoError(t, s.Start(t.Context()))
	assert.False(t, s.Running())
}

func TestShares_AddRequiresShareID(t *testing.T) {
	s, _, _ := newTestShares(t)

	_, err := s.Add(t.Context(), models.Share{Owner: "x"})
	assert.Error(t, err)
	assert.False(t, s.Running())
}

func TestShares_ConcurrentAddRemoveKeepsRefreshWhileTracked(t *testing.T) {
	s, loader, _ := newTestShares(t)

	loader.EXPECT().LoadShared(gomock.Any(), gomock.Any()).
		Return(&models.Document{Items: []models.Item{}}, nil).AnyTimes()

	var wg sync.WaitGroup

	for i := range 40 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			sh, err := s.Add(t.Context(), models.Share{ShareID: fmt.Sprint(i)})
			if err != nil {
				t.Error(err)
				return
			}

			if i%2 == 1 {
				if _, err := s.Remove(sh.ID); err != nil {
					t.Error(err)
				}
			}
		}()
	}

	wg.Wait()

	require.Len(t, s.List(), 20)
	assert.True(t, s.Running())

	for _, sh := range s.List() {
		_, err := s.Remove(sh.ID)
		require.NoError(t, err)
	}

	assert.False(t, s.Running())
}
