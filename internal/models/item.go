// Package models defines types shared across internal packages.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/shelfsync/shelfsync/internal/errors"
)

// TimestampLayout is the ISO-8601 layout used for every collection and
// item timestamp: UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Timestamp formats t in TimestampLayout.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Domain names an independent sync domain. Each domain has its own
// replica, metadata and remote document.
type Domain string

const (
	DomainMedia  Domain = "media"
	DomainPlaces Domain = "places"
)

// Domains returns every known sync domain.
func Domains() []Domain {
	return []Domain{DomainMedia, DomainPlaces}
}

// ParseDomain validates a domain name.
func ParseDomain(s string) (Domain, error) {
	switch Domain(s) {
	case DomainMedia, DomainPlaces:
		return Domain(s), nil
	}

	return "", fmt.Errorf("%w: %q", apperrors.ErrUnknownDomain, s)
}

// Item is one tracked record. ID and LastModified are the only fields the
// sync engine interprets; everything else is carried in Fields. On the
// wire an item is a flat JSON object.
type Item struct {
	ID           string
	LastModified string
	Fields       map[string]any
}

// NewItem builds an item with a copy of fields.
func NewItem(id, lastModified string, fields map[string]any) Item {
	it := Item{ID: id, LastModified: lastModified, Fields: make(map[string]any, len(fields))}
	for k, v := range fields {
		it.Fields[k] = v
	}

	return it
}

// Field returns the named field, or nil.
func (it Item) Field(key string) any {
	return it.Fields[key]
}

// MarshalJSON flattens the item into a single object.
func (it Item) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(it.Fields)+2)
	for k, v := range it.Fields {
		m[k] = v
	}

	m["id"] = it.ID
	if it.LastModified != "" {
		m["lastModified"] = it.LastModified
	}

	return json.Marshal(m)
}

// UnmarshalJSON reads a flat object. Numbers are kept as json.Number so
// values survive a round trip unchanged.
func (it *Item) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return err
	}

	if m == nil {
		return fmt.Errorf("item must be a JSON object")
	}

	id, err := scalarString(m["id"])
	if err != nil {
		return fmt.Errorf("item id: %w", err)
	}

	if id == "" {
		return fmt.Errorf("item id is required")
	}

	lastModified, err := scalarString(m["lastModified"])
	if err != nil {
		return fmt.Errorf("item lastModified: %w", err)
	}

	delete(m, "id")
	delete(m, "lastModified")

	*it = Item{ID: id, LastModified: lastModified, Fields: m}

	return nil
}

func scalarString(v any) (string, error) {
	switch s := v.(type) {
	case nil:
		return "", nil
	case string:
		return s, nil
	case json.Number:
		return s.String(), nil
	}

	return "", fmt.Errorf("unexpected type %T", v)
}

// Canonical returns the item's JSON encoding with object keys sorted at
// every level, so two items with the same content always encode to the
// same bytes regardless of field insertion order.
func (it Item) Canonical() ([]byte, error) {
	return json.Marshal(it)
}

// Equal reports whether two items are structurally identical: every
// field, including ID and LastModified, compared independent of order.
func (it Item) Equal(other Item) bool {
	a, err := it.Canonical()
	if err != nil {
		return false
	}

	b, err := other.Canonical()
	if err != nil {
		return false
	}

	return bytes.Equal(a, b)
}

// Document is a collection snapshot paired with the time its owner last
// changed it. It is also the shape of the remote JSON document.
type Document struct {
	Items        []Item `json:"items"`
	LastModified string `json:"lastModified"`
}

// Len returns the number of items in the document.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}

	return len(d.Items)
}
