package syncer

import (
	"fmt"

	apperrors "github.com/shelfsync/shelfsync/internal/errors"
	"github.com/shelfsync/shelfsync/internal/models"
)

// ConflictKind distinguishes edited items from a locally cleared replica.
type ConflictKind string

const (
	KindReal     ConflictKind = "real-conflict"
	KindDeletion ConflictKind = "deletion-conflict"
)

// SyncConflict is everything a user needs to decide between the local
// and cloud collections. It is never persisted.
type SyncConflict struct {
	Domain         models.Domain    `json:"domain"`
	Kind           ConflictKind     `json:"kind"`
	Records        []ConflictRecord `json:"records"`
	Local          models.Document  `json:"local"`
	Cloud          models.Document  `json:"cloud"`
	LocalAdditions []models.Item    `json:"local_additions"`
	CloudAdditions []models.Item    `json:"cloud_additions"`
	Identical      []models.Item    `json:"identical"`
	DetectedAt     string           `json:"detected_at"`
}

// Choice is the user's answer to a conflict.
type Choice string

const (
	ChoiceLocal  Choice = "local"
	ChoiceCloud  Choice = "cloud"
	ChoiceMerge  Choice = "merge"
	ChoiceCancel Choice = "cancel"
)

// ParseChoice validates a resolution choice.
func ParseChoice(s string) (Choice, error) {
	switch Choice(s) {
	case ChoiceLocal, ChoiceCloud, ChoiceMerge, ChoiceCancel:
		return Choice(s), nil
	}

	return "", fmt.Errorf("%w: %q", apperrors.ErrInvalidChoice, s)
}

// buildConflict returns the conflict for a local/cloud pair, or nil when
// the pair can be merged automatically.
func buildConflict(d models.Domain, local, cloud models.Document, dirty bool, a Analysis, detectedAt string) *SyncConflict {
	c := &SyncConflict{
		Domain:         d,
		Local:          local,
		Cloud:          cloud,
		LocalAdditions: a.LocalOnly,
		CloudAdditions: a.CloudOnly,
		Identical:      a.Identical,
		DetectedAt:     detectedAt,
	}

	switch {
	case a.HasConflicts():
		c.Kind = KindReal
		c.Records = a.Conflicts

	case len(local.Items) == 0 && dirty && len(cloud.Items) > 0:
		c.Kind = KindDeletion
		for _, it := range a.CloudOnly {
			c.Records = append(c.Records, ConflictRecord{
				ID:             it.ID,
				Cloud:          &it,
				Classification: ClassificationDeletedLocally,
			})
		}

	default:
		return nil
	}

	return c
}

// Merged is the result of the merge choice: both sides' additions and
// identical items, plus for each conflicting ID the more complete value.
// Ties keep the cloud value. Items cleared locally are kept.
func (c *SyncConflict) Merged() []models.Item {
	merged := make(map[string]models.Item)

	for _, group := range [][]models.Item{c.Identical, c.CloudAdditions, c.LocalAdditions} {
		for _, it := range group {
			merged[it.ID] = it
		}
	}

	for _, rec := range c.Records {
		switch {
		case rec.Local != nil && rec.Cloud != nil:
			winner := *rec.Cloud
			if CompletenessScore(*rec.Local) > CompletenessScore(winner) {
				winner = *rec.Local
			}

			merged[rec.ID] = winner
		case rec.Cloud != nil:
			merged[rec.ID] = *rec.Cloud
		case rec.Local != nil:
			merged[rec.ID] = *rec.Local
		}
	}

	return sortedItems(merged)
}
