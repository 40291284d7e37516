package state

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	apperrors "github.com/shelfsync/shelfsync/internal/errors"
	"github.com/shelfsync/shelfsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *State {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := LoadAt(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func item(id string, rating int) models.Item {
	return models.NewItem(id, "2024-01-01T00:00:00.000Z", map[string]any{"rating": rating})
}

// --- LoadAt / Close ---

func TestLoadAt_CreatesDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "state.db")
	s, err := LoadAt(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestLoadAt_ReopensExistingDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	s1, err := LoadAt(dbPath)
	require.NoError(t, err)
	require.NoError(t, s1.WriteCollection(models.DomainMedia, []models.Item{item("1", 8)}, "ts1"))
	require.NoError(t, s1.SetToken("persist-me"))
	require.NoError(t, s1.Close())

	s2, err := LoadAt(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	items, err := s2.ReadCollection(models.DomainMedia)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "persist-me", s2.Token())
}

// --- Token ---

func TestToken_EmptyByDefault(t *testing.T) {
	s := testDB(t)
	assert.Equal(t, "", s.Token())
}

func TestSetToken_Overwrite(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.SetToken("old"))
	require.NoError(t, s.SetToken("new"))
	assert.Equal(t, "new", s.Token())
}

// --- Collection ---

func TestReadCollection_EmptyByDefault(t *testing.T) {
	s := testDB(t)
	items, err := s.ReadCollection(models.DomainMedia)
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestReadCollection_UnknownDomain(t *testing.T) {
	s := testDB(t)
	_, err := s.ReadCollection(models.Domain("books"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUnknownDomain))
}

func TestWriteCollection_SetsLastLocalEdit(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.WriteCollection(models.DomainMedia, []models.Item{item("1", 8), item("2", 5)}, "2024-02-02T00:00:00.000Z"))

	items, err := s.ReadCollection(models.DomainMedia)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.True(t, items[0].Equal(item("1", 8)))

	ts, err := s.ReadTimestamp(models.DomainMedia, KeyLastLocalEdit)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-02T00:00:00.000Z", ts)
}

func TestWriteCollection_NilStoresEmpty(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.WriteCollection(models.DomainMedia, []models.Item{item("1", 8)}, "ts1"))
	require.NoError(t, s.WriteCollection(models.DomainMedia, nil, "ts2"))

	items, err := s.ReadCollection(models.DomainMedia)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDomains_AreIsolated(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.WriteCollection(models.DomainMedia, []models.Item{item("m", 1)}, "ts"))
	require.NoError(t, s.WriteFlag(models.DomainMedia, KeyDirty, true))

	places, err := s.ReadCollection(models.DomainPlaces)
	require.NoError(t, err)
	assert.Empty(t, places)

	dirty, err := s.ReadFlag(models.DomainPlaces, KeyDirty)
	require.NoError(t, err)
	assert.False(t, dirty)
}

// --- Flags / timestamps ---

func TestFlag_DefaultFalse(t *testing.T) {
	s := testDB(t)
	dirty, err := s.ReadFlag(models.DomainMedia, KeyDirty)
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestFlag_RoundTrip(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.WriteFlag(models.DomainMedia, KeyDirty, true))

	dirty, err := s.ReadFlag(models.DomainMedia, KeyDirty)
	require.NoError(t, err)
	assert.True(t, dirty)

	require.NoError(t, s.WriteFlag(models.DomainMedia, KeyDirty, false))
	dirty, err = s.ReadFlag(models.DomainMedia, KeyDirty)
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestTimestamp_RoundTrip(t *testing.T) {
	s := testDB(t)
	ts, err := s.ReadTimestamp(models.DomainPlaces, KeyLastSync)
	require.NoError(t, err)
	assert.Equal(t, "", ts)

	require.NoError(t, s.WriteTimestamp(models.DomainPlaces, KeyLastSync, "2024-05-05T00:00:00.000Z"))
	ts, err = s.ReadTimestamp(models.DomainPlaces, KeyLastSync)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-05T00:00:00.000Z", ts)
}

// --- CommitSync ---

func TestCommitSync_WritesEverythingAndClearsDirty(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.WriteFlag(models.DomainMedia, KeyDirty, true))

	require.NoError(t, s.CommitSync(models.DomainMedia, []models.Item{item("1", 8)}, "edit", "synced"))

	items, err := s.ReadCollection(models.DomainMedia)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	dirty, _ := s.ReadFlag(models.DomainMedia, KeyDirty)
	assert.False(t, dirty)

	edit, _ := s.ReadTimestamp(models.DomainMedia, KeyLastLocalEdit)
	assert.Equal(t, "edit", edit)

	synced, _ := s.ReadTimestamp(models.DomainMedia, KeyLastSync)
	assert.Equal(t, "synced", synced)
}

// --- Backups ---

func TestAddBackup_RingBufferEvictsOldest(t *testing.T) {
	s := testDB(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.AddBackup(models.DomainMedia, models.Backup{
			ID:     fmt.Sprintf("b%d", i),
			Domain: models.DomainMedia,
			Reason: "test",
		}, 3))
	}

	backups, err := s.Backups(models.DomainMedia)
	require.NoError(t, err)
	require.Len(t, backups, 3)
	assert.Equal(t, "b2", backups[0].ID)
	assert.Equal(t, "b4", backups[2].ID)
}

func TestAddBackup_RejectsZeroLimit(t *testing.T) {
	s := testDB(t)
	err := s.AddBackup(models.DomainMedia, models.Backup{ID: "x"}, 0)
	require.Error(t, err)
}

func TestBackup_LookupByID(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.AddBackup(models.DomainPlaces, models.Backup{
		ID:    "keep",
		Items: []models.Item{item("1", 3)},
	}, 10))

	b, err := s.Backup(models.DomainPlaces, "keep")
	require.NoError(t, err)
	require.NotNil(t, b)
	require.Len(t, b.Items, 1)

	missing, err := s.Backup(models.DomainPlaces, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	other, err := s.Backup(models.DomainMedia, "keep")
	require.NoError(t, err)
	assert.Nil(t, other)
}

// --- Shares ---

func TestShares_CRUD(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.SaveShare(models.Share{ID: "a", Owner: "sam", ShareID: "s-1", Status: models.ShareStatusOK}))
	require.NoError(t, s.SaveShare(models.Share{ID: "b", Owner: "kim", ShareID: "s-2"}))

	shares, err := s.AllShares()
	require.NoError(t, err)
	require.Len(t, shares, 2)
	assert.Equal(t, "a", shares[0].ID)
	assert.Equal(t, models.ShareStatusOK, shares[0].Status)

	require.NoError(t, s.DeleteShare("a"))
	shares, err = s.AllShares()
	require.NoError(t, err)
	require.Len(t, shares, 1)
	assert.Equal(t, "kim", shares[0].Owner)
}
