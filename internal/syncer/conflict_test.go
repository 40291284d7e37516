package syncer

import (
	"testing"

	apperrors "github.com/shelfsync/shelfsync/internal/errors"
	"github.com/shelfsync/shelfsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChoice(t *testing.T) {
	for _, s := range []string{"local", "cloud", "merge", "cancel"} {
		c, err := ParseChoice(s)
		require.NoError(t, err)
		assert.Equal(t, Choice(s), c)
	}

	_, err := ParseChoice("both")
	assert.ErrorIs(t, err, apperrors.ErrInvalidChoice)
}

func TestBuildConflict_NoneWhenMergeable(t *testing.T) {
	local := models.Document{Items: []models.Item{item("a")}}
	cloud := models.Document{Items: []models.Item{item("b")}}

	c := buildConflict(models.DomainMedia, local, cloud, true, Analyze(local.Items, cloud.Items), "now")

	assert.Nil(t, c)
}

func TestBuildConflict_Real(t *testing.T) {
	local := models.Document{Items: []models.Item{item("a", "v", 1), item("b")}, LastModified: "l"}
	cloud := models.Document{Items: []models.Item{item("a", "v", 2), item("c")}, LastModified: "c"}

	c := buildConflict(models.DomainMedia, local, cloud, true, Analyze(local.Items, cloud.Items), "now")

	require.NotNil(t, c)
	assert.Equal(t, KindReal, c.Kind)
	assert.Equal(t, models.DomainMedia, c.Domain)
	assert.Len(t, c.Records, 1)
	assert.Equal(t, []string{"b"}, ids(c.LocalAdditions))
	assert.Equal(t, []string{"c"}, ids(c.CloudAdditions))
	assert.Equal(t, "l", c.Local.LastModified)
	assert.Equal(t, "c", c.Cloud.LastModified)
	assert.Equal(t, "now", c.DetectedAt)
}

func TestBuildConflict_Deletion(t *testing.T) {
	local := models.Document{Items: []models.Item{}}
	cloud := models.Document{Items: []models.Item{item("a"), item("b")}}

	c := buildConflict(models.DomainPlaces, local, cloud, true, Analyze(local.Items, cloud.Items), "now")

	require.NotNil(t, c)
	assert.Equal(t, KindDeletion, c.Kind)
	require.Len(t, c.Records, 2)

	for _, rec := range c.Records {
		assert.Equal(t, ClassificationDeletedLocally, rec.Classification)
		assert.Nil(t, rec.Local)
		require.NotNil(t, rec.Cloud)
		assert.Equal(t, rec.ID, rec.Cloud.ID)
	}

	assert.NotEqual(t, c.Records[0].Cloud.ID, c.Records[1].Cloud.ID)
}

func TestBuildConflict_EmptyCleanLocalIsNotDeletion(t *testing.T) {
	cloud := models.Document{Items: []models.Item{item("a")}}

	c := buildConflict(models.DomainMedia, models.Document{}, cloud, false, Analyze(nil, cloud.Items), "now")

	assert.Nil(t, c)
}

func TestSyncConflict_Merged(t *testing.T) {
	local := []models.Item{
		item("same", "v", 1),
		item("richer-local", "rating", 5, "notes", "n"),
		item("tie", "title", "local"),
		item("only-local"),
	}
	cloud := []models.Item{
		item("same", "v", 1),
		item("richer-local", "rating", 5),
		item("tie", "title", "cloud"),
		item("only-cloud"),
	}

	c := buildConflict(models.DomainMedia,
		models.Document{Items: local}, models.Document{Items: cloud},
		true, Analyze(local, cloud), "now")
	require.NotNil(t, c)

	merged := c.Merged()

	assert.Equal(t, []string{"only-cloud", "only-local", "richer-local", "same", "tie"}, ids(merged))

	byID := indexByID(merged)
	assert.Equal(t, "n", byID["richer-local"].Field("notes"))
	assert.Equal(t, "cloud", byID["tie"].Field("title"))
}

func TestSyncConflict_MergedDeletionKeepsCloud(t *testing.T) {
	cloud := []models.Item{item("a"), item("b")}

	c := buildConflict(models.DomainMedia, models.Document{}, models.Document{Items: cloud}, true, Analyze(nil, cloud), "now")
	require.NotNil(t, c)

	assert.Equal(t, []string{"a", "b"}, ids(c.Merged()))
}
