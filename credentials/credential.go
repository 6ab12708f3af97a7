// Package credentials mirrors externally issued API credentials locally and matches
// raw secret values against them.
package credentials

import (
	"context"
	"time"
)

// Status of a credential as reported by the issuer.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Descriptor is the issuer's redacted view of a credential. It never carries the secret.
type Descriptor struct {
	ExternalID  string `json:"id"`
	Name        string `json:"name,omitempty"`
	Hint        string `json:"partial_key_hint,omitempty"` // e.g. "sk-ant-ab...7890"
	Status      Status `json:"status,omitempty"`
	WorkspaceID string `json:"workspace_id,omitempty"`
}

// Record is the local mirror entry of one credential. Records are never deleted;
// a credential the issuer retired is kept with StatusInactive.
type Record struct {
	ExternalID        string     `json:"external_id"`
	Name              string     `json:"name,omitempty"`
	Hint              string     `json:"hint,omitempty"`
	SealedValue       string     `json:"-"` // vault envelope, empty when the raw value was never seen
	Status            Status     `json:"status"`
	LinkedWorkspaceID string     `json:"linked_workspace_id,omitempty"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty"`
	LastSyncedAt      *time.Time `json:"last_synced_at,omitempty"`
}

// HasValue reports whether the mirror holds the sealed secret.
func (r *Record) HasValue() bool {
	return r.SealedValue != ""
}

func recordFromDescriptor(d Descriptor) *Record {
	status := d.Status
	if status == "" {
		status = StatusActive
	}
	return &Record{
		ExternalID:        d.ExternalID,
		Name:              d.Name,
		Hint:              d.Hint,
		Status:            status,
		LinkedWorkspaceID: d.WorkspaceID,
	}
}

// merge applies the non-empty fields of update onto existing. The sealed value and
// timestamps are only replaced when update carries them.
func merge(existing, update *Record) *Record {
	if existing == nil {
		cp := *update
		if cp.Status == "" {
			cp.Status = StatusActive
		}
		return &cp
	}
	out := *existing
	if update.Name != "" {
		out.Name = update.Name
	}
	if update.Hint != "" {
		out.Hint = update.Hint
	}
	if update.Status != "" {
		out.Status = update.Status
	}
	if update.LinkedWorkspaceID != "" {
		out.LinkedWorkspaceID = update.LinkedWorkspaceID
	}
	if update.SealedValue != "" {
		out.SealedValue = update.SealedValue
	}
	if update.LastUsedAt != nil {
		out.LastUsedAt = update.LastUsedAt
	}
	if update.LastSyncedAt != nil {
		out.LastSyncedAt = update.LastSyncedAt
	}
	return &out
}

// MergeFunc combines the stored record, nil when there is none, with an update.
type MergeFunc func(existing, update *Record) *Record

// Repo is the local mirror store, keyed by ExternalID.
type Repo interface {
	// Get returns the record, or (nil, nil) when there is none
	Get(ctx context.Context, externalID string) (*Record, error)
	// Put stores rec as given, reporting whether it was newly created
	Put(ctx context.Context, rec *Record) (created bool, err error)
	// Upsert reads the stored record, applies merge and writes the result as one
	// atomic step, so concurrent upserts of the same id never lose each other's fields
	Upsert(ctx context.Context, rec *Record, merge MergeFunc) (created bool, err error)
	List(ctx context.Context) ([]*Record, error)
}

// Lister fetches descriptors from the issuer.
type Lister interface {
	List(ctx context.Context) ([]Descriptor, error)
}

// Sealer seals raw values before they reach the mirror. *vault.Sealer implements it.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Unseal(envelope string) (string, error)
}
