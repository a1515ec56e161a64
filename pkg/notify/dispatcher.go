package notify

import (
	"context"
	"log/slog"

	"github.com/wardenlabs/warden/pkg/contracts"
	"github.com/wardenlabs/warden/pkg/events"
)

// Dispatcher fans approval-request events out to the configured channels.
// Delivery failures are logged and dropped; notification is best-effort by
// contract.
type Dispatcher struct {
	notifier Notifier
	channels []string
	logger   *slog.Logger
	sub      *events.Subscription
}

// AttachDispatcher subscribes to action-requested events on the bus. Call
// Close to detach.
func AttachDispatcher(bus *events.Bus, n Notifier, channels []string) *Dispatcher {
	d := &Dispatcher{
		notifier: n,
		channels: append([]string(nil), channels...),
		logger:   slog.Default().With("component", "notify"),
	}
	d.sub = bus.Subscribe(contracts.EventActionRequested, d.deliver)
	return d
}

func (d *Dispatcher) deliver(ev contracts.Event) {
	for _, channel := range d.channels {
		if err := d.notifier.Notify(context.Background(), channel, ev); err != nil {
			d.logger.Warn("notification delivery failed",
				"channel", channel, "event_id", ev.ID, "error", err)
		}
	}
}

// Close detaches the dispatcher from the bus.
func (d *Dispatcher) Close() {
	if d.sub != nil {
		d.sub.Unsubscribe()
		d.sub = nil
	}
}
