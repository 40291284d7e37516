package syncer

import (
	"strings"

	"github.com/shelfsync/shelfsync/internal/models"
	"github.com/tidwall/gjson"
)

// Completeness weights. An item scores the sum of the weights of the
// optional fields it has filled in.
const (
	weightRating     = 2
	weightNotes      = 2
	weightCompleted  = 1
	weightStarted    = 1
	weightGenres     = 1
	weightDirector   = 1
	weightPlatform   = 1
	weightEpisodeSet = 1
)

// Field names the completeness score inspects.
const (
	fieldRating          = "rating"
	fieldNotes           = "notes"
	fieldDateCompleted   = "dateCompleted"
	fieldDateStarted     = "dateStarted"
	fieldGenres          = "genres"
	fieldDirector        = "director"
	fieldPlatform        = "platform"
	fieldEpisodesWatched = "episodesWatched"
	fieldTotalEpisodes   = "totalEpisodes"
)

// CompletenessScore rates how filled-in an item is. Empty strings, zero,
// false and null count as absent.
func CompletenessScore(it models.Item) int {
	raw, err := it.Canonical()
	if err != nil {
		return 0
	}

	doc := gjson.ParseBytes(raw)
	score := 0

	if filled(doc.Get(fieldRating)) {
		score += weightRating
	}

	if filled(doc.Get(fieldNotes)) {
		score += weightNotes
	}

	if filled(doc.Get(fieldDateCompleted)) {
		score += weightCompleted
	}

	if filled(doc.Get(fieldDateStarted)) {
		score += weightStarted
	}

	if genres := doc.Get(fieldGenres); genres.IsArray() && len(genres.Array()) > 0 {
		score += weightGenres
	}

	if filled(doc.Get(fieldDirector)) {
		score += weightDirector
	}

	if filled(doc.Get(fieldPlatform)) {
		score += weightPlatform
	}

	if present(doc.Get(fieldEpisodesWatched)) && present(doc.Get(fieldTotalEpisodes)) {
		score += weightEpisodeSet
	}

	return score
}

func present(r gjson.Result) bool {
	return r.Exists() && r.Type != gjson.Null
}

func filled(r gjson.Result) bool {
	switch r.Type {
	case gjson.String:
		return strings.TrimSpace(r.Str) != ""
	case gjson.Number:
		return r.Num != 0
	case gjson.True, gjson.JSON:
		return true
	}

	return false
}

// AutoMerge unions two collections by ID. Cloud items are placed first;
// a local item replaces a cloud item with the same ID only when its
// completeness score is strictly higher. Call it only when Analyze found
// no conflicts for the pair. The result is ordered by ID.
func AutoMerge(local, cloud []models.Item) []models.Item {
	merged := make(map[string]models.Item, len(local)+len(cloud))

	for _, it := range cloud {
		if _, ok := merged[it.ID]; !ok {
			merged[it.ID] = it
		}
	}

	for _, it := range local {
		existing, ok := merged[it.ID]
		if !ok || CompletenessScore(it) > CompletenessScore(existing) {
			merged[it.ID] = it
		}
	}

	return sortedItems(merged)
}

func sortedItems(m map[string]models.Item) []models.Item {
	out := make([]models.Item, 0, len(m))
	for _, id := range sortedIDs(m) {
		out = append(out, m[id])
	}

	return out
}
