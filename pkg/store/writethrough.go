package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/wardenlabs/warden/pkg/audit"
	"github.com/wardenlabs/warden/pkg/contracts"
	"github.com/wardenlabs/warden/pkg/events"
)

// Recorder subscribes to the whole event taxonomy and writes every event
// through to the store. Persistence failures are logged, never surfaced;
// the kernel does not block on its mirror.
type Recorder struct {
	store  Store
	logger *slog.Logger
	subs   []*events.Subscription
}

// AttachRecorder wires a recorder to the bus. Call Close to detach.
func AttachRecorder(bus *events.Bus, s Store) *Recorder {
	r := &Recorder{
		store:  s,
		logger: slog.Default().With("component", "store"),
	}
	r.subs = bus.SubscribeAll(func(ev contracts.Event) {
		if err := r.store.SaveEvent(context.Background(), ev); err != nil {
			r.logger.Error("event write-through failed", "event_id", ev.ID, "kind", ev.Kind, "error", err)
		}
	})
	return r
}

// Close detaches the recorder from the bus.
func (r *Recorder) Close() {
	for _, sub := range r.subs {
		sub.Unsubscribe()
	}
	r.subs = nil
}

// SyncTrail persists every trail entry beyond the store's high-water mark.
// Called periodically or at shutdown; idempotent.
func SyncTrail(ctx context.Context, s Store, trail *audit.Trail) (int, error) {
	max, err := s.MaxSequence(ctx)
	if err != nil {
		return 0, err
	}
	written := 0
	for _, entry := range trail.All() {
		if entry.Sequence <= max {
			continue
		}
		if err := s.SaveEntry(ctx, entry); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// PruneExpired deletes events older than the configured retention window.
// Audit entries are append-only and never pruned.
func PruneExpired(ctx context.Context, s Store, cfg contracts.GovernanceConfig, now time.Time) (int64, error) {
	if cfg.AuditRetentionDays <= 0 {
		return 0, nil
	}
	cutoff := now.AddDate(0, 0, -cfg.AuditRetentionDays)
	return s.PruneEventsBefore(ctx, cutoff)
}
