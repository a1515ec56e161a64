// Package store is the durable persistence collaborator: write-through of
// audit entries and governance events to SQL, restore-on-start, and
// retention pruning. The in-memory trail in pkg/audit stays authoritative;
// the store is a mirror for durability and offline inspection.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/wardenlabs/warden/pkg/contracts"
)

// ErrNotFound is returned for lookups of absent rows.
var ErrNotFound = errors.New("store: not found")

// Store persists audit entries and governance events. Entries are
// append-only and never pruned; events are pruned by retention policy.
type Store interface {
	SaveEntry(ctx context.Context, entry contracts.AuditEntry) error
	LoadEntries(ctx context.Context) ([]contracts.AuditEntry, error)
	MaxSequence(ctx context.Context) (uint64, error)

	SaveEvent(ctx context.Context, ev contracts.Event) error
	PruneEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}

func marshalEntry(entry contracts.AuditEntry) ([]byte, error) {
	return json.Marshal(entry)
}

func unmarshalEntry(body []byte) (contracts.AuditEntry, error) {
	var entry contracts.AuditEntry
	err := json.Unmarshal(body, &entry)
	return entry, err
}

func marshalDetails(details map[string]any) ([]byte, error) {
	if details == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(details)
}
