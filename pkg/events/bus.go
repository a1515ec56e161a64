// Package events implements the governance event fan-out: a typed registry
// of handlers keyed by event kind, with deregistration handles and panic
// isolation per handler.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wardenlabs/warden/pkg/contracts"
)

// Handler consumes one event. Handlers receive the event by value; a
// panicking handler is logged and never prevents siblings from running.
type Handler func(contracts.Event)

// Subscription is the deregistration handle returned by Subscribe.
type Subscription struct {
	id   int
	kind contracts.EventKind
	bus  *Bus
}

// Unsubscribe removes the handler. Safe to call while a dispatch is in
// progress and safe to call twice.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s.kind, s.id)
}

// Bus is a mutex-guarded handler registry. Dispatch iterates a snapshot so
// registration and deregistration are safe during delivery.
type Bus struct {
	mu       sync.Mutex
	nextID   int
	handlers map[contracts.EventKind]map[int]Handler
	logger   *slog.Logger
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[contracts.EventKind]map[int]Handler),
		logger:   slog.Default().With("component", "events"),
	}
}

// Subscribe registers h for one event kind.
func (b *Bus) Subscribe(kind contracts.EventKind, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	if b.handlers[kind] == nil {
		b.handlers[kind] = make(map[int]Handler)
	}
	b.handlers[kind][b.nextID] = h
	return &Subscription{id: b.nextID, kind: kind, bus: b}
}

// SubscribeAll registers h for every kind in the taxonomy and returns one
// handle per kind. Used by persistence and observability collaborators.
func (b *Bus) SubscribeAll(h Handler) []*Subscription {
	kinds := []contracts.EventKind{
		contracts.EventActionRequested,
		contracts.EventActionApproved,
		contracts.EventActionRejected,
		contracts.EventActionExecuted,
		contracts.EventActionFailed,
		contracts.EventClearanceViolation,
		contracts.EventApprovalTimeout,
		contracts.EventAuditTamperDetected,
	}
	subs := make([]*Subscription, 0, len(kinds))
	for _, k := range kinds {
		subs = append(subs, b.Subscribe(k, h))
	}
	return subs
}

func (b *Bus) remove(kind contracts.EventKind, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m := b.handlers[kind]; m != nil {
		delete(m, id)
	}
}

// Publish delivers ev to every handler registered for its kind.
func (b *Bus) Publish(ev contracts.Event) {
	b.mu.Lock()
	snapshot := make([]Handler, 0, len(b.handlers[ev.Kind]))
	for _, h := range b.handlers[ev.Kind] {
		snapshot = append(snapshot, h)
	}
	b.mu.Unlock()

	for _, h := range snapshot {
		b.deliver(h, ev)
	}
}

func (b *Bus) deliver(h Handler, ev contracts.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"kind", ev.Kind, "event_id", ev.ID, "panic", r)
		}
	}()
	h(ev)
}

// New builds an event with a fresh id.
func New(kind contracts.EventKind, sev contracts.Severity, now time.Time, actionID string, details map[string]any) contracts.Event {
	return contracts.Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		Severity:  sev,
		Timestamp: now.UTC(),
		ActionID:  actionID,
		Details:   details,
	}
}
