package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wardenlabs/warden/pkg/contracts"
	"github.com/wardenlabs/warden/pkg/events"
)

// EventMetrics counts governance events by kind and severity.
type EventMetrics struct {
	counter metric.Int64Counter
	subs    []*events.Subscription
}

// AttachEventMetrics subscribes a counter to the whole event taxonomy.
// Call Close to detach.
func AttachEventMetrics(bus *events.Bus, meter metric.Meter) (*EventMetrics, error) {
	counter, err := meter.Int64Counter("warden.events.total",
		metric.WithDescription("Governance events by kind and severity"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}
	m := &EventMetrics{counter: counter}
	m.subs = bus.SubscribeAll(func(ev contracts.Event) {
		m.counter.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("warden.event_kind", string(ev.Kind)),
			attribute.String("warden.severity", string(ev.Severity)),
		))
	})
	return m, nil
}

// Close detaches the counter from the bus.
func (m *EventMetrics) Close() {
	for _, sub := range m.subs {
		sub.Unsubscribe()
	}
	m.subs = nil
}
