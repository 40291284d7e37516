// Package syncer reconciles each domain's local replica with its remote
// document. It classifies differences, merges when that is safe, and
// hands genuine conflicts to the user for a decision.
package syncer

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/shelfsync/shelfsync/internal/models"
)

// Classification describes why an ID is in conflict.
type Classification string

const (
	// ClassificationModified means both sides hold the ID with different
	// field values.
	ClassificationModified Classification = "modified"

	// ClassificationDeletedLocally means the local replica was cleared
	// while the cloud still holds the item.
	ClassificationDeletedLocally Classification = "deleted-locally"
)

// ConflictRecord is one conflicting ID. Local or Cloud is nil when the
// item is missing on that side. Diff is a patch from the local to the
// cloud value, for display.
type ConflictRecord struct {
	ID             string         `json:"id"`
	Local          *models.Item   `json:"local,omitempty"`
	Cloud          *models.Item   `json:"cloud,omitempty"`
	Classification Classification `json:"classification"`
	Diff           string         `json:"diff,omitempty"`
}

// Analysis assigns every ID in either collection to exactly one class.
// Each list is ordered by ID.
type Analysis struct {
	Conflicts []ConflictRecord
	LocalOnly []models.Item
	CloudOnly []models.Item
	Identical []models.Item
}

// HasConflicts reports whether any ID needs a decision.
func (a Analysis) HasConflicts() bool {
	return len(a.Conflicts) > 0
}

// Analyze compares two collections by ID. The result depends only on the
// contents of the inputs, not their order. If an ID repeats within one
// collection, the first occurrence is used.
func Analyze(local, cloud []models.Item) Analysis {
	localByID := indexByID(local)
	cloudByID := indexByID(cloud)

	var a Analysis

	for _, id := range sortedIDs(localByID) {
		l := localByID[id]

		c, ok := cloudByID[id]
		if !ok {
			a.LocalOnly = append(a.LocalOnly, l)
			continue
		}

		if l.Equal(c) {
			a.Identical = append(a.Identical, l)
			continue
		}

		a.Conflicts = append(a.Conflicts, ConflictRecord{
			ID:             id,
			Local:          &l,
			Cloud:          &c,
			Classification: ClassificationModified,
			Diff:           itemDiff(l, c),
		})
	}

	for _, id := range sortedIDs(cloudByID) {
		if _, ok := localByID[id]; !ok {
			a.CloudOnly = append(a.CloudOnly, cloudByID[id])
		}
	}

	return a
}

func indexByID(items []models.Item) map[string]models.Item {
	m := make(map[string]models.Item, len(items))
	for _, it := range items {
		if _, dup := m[it.ID]; dup {
			continue
		}

		m[it.ID] = it
	}

	return m
}

func sortedIDs(m map[string]models.Item) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// itemDiff renders a line diff between the indented canonical JSON of
// both values: removed lines start with "-", added lines with "+" and
// unchanged lines with a space. Returns "" if either value cannot be
// encoded.
func itemDiff(local, cloud models.Item) string {
	a, err := prettyItem(local)
	if err != nil {
		return ""
	}

	b, err := prettyItem(cloud)
	if err != nil {
		return ""
	}

	dmp := diffmatchpatch.New()

	ca, cb, lines := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(ca, cb, false), lines)

	var out strings.Builder

	for _, d := range diffs {
		prefix := " "

		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		}

		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}

			out.WriteString(prefix)
			out.WriteString(line)

			if !strings.HasSuffix(line, "\n") {
				out.WriteString("\n")
			}
		}
	}

	return out.String()
}

func prettyItem(it models.Item) (string, error) {
	raw, err := it.Canonical()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return "", err
	}

	return buf.String(), nil
}
