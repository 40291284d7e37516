package models

// Backup is an immutable snapshot taken before a destructive conflict
// resolution.
type Backup struct {
	ID        string `json:"id"`
	Domain    Domain `json:"domain"`
	Timestamp string `json:"timestamp"`
	Items     []Item `json:"items"`
	Reason    string `json:"reason"`
}

// ShareStatus is the last observed state of a joined user's share.
type ShareStatus string

const (
	ShareStatusPending      ShareStatus = "pending"
	ShareStatusOK           ShareStatus = "ok"
	ShareStatusError        ShareStatus = "error"
	ShareStatusUnauthorized ShareStatus = "unauthorized"
	ShareStatusNotFound     ShareStatus = "not-found"
)

// Share is a read-only collection published by another user and tracked
// locally. Items are a cached copy of the last successful fetch.
type Share struct {
	ID           string      `json:"id" yaml:"id"`
	Owner        string      `json:"owner" yaml:"owner"`
	ShareID      string      `json:"share_id" yaml:"share_id"`
	Status       ShareStatus `json:"status" yaml:"-"`
	Items        []Item      `json:"items,omitempty" yaml:"-"`
	LastModified string      `json:"last_modified,omitempty" yaml:"-"`
	LastChecked  string      `json:"last_checked,omitempty" yaml:"-"`
	Error        string      `json:"error,omitempty" yaml:"-"`
}
