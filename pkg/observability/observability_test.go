package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/wardenlabs/warden/pkg/contracts"
	"github.com/wardenlabs/warden/pkg/events"
	"github.com/wardenlabs/warden/pkg/missionctl"
)

// The provider plugs into mission control's execute path.
var _ missionctl.Instrumentor = (*Provider)(nil)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "warden-kernel", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.True(t, cfg.Enabled)
	assert.False(t, cfg.Insecure)
}

func TestDisabledProviderIsUsable(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	assert.NotNil(t, p.Tracer())
	assert.NotNil(t, p.Meter())

	// Instrumentation on a disabled provider is a no-op, not a panic.
	_, done := p.TrackExecution(context.Background(), "query-status")
	done(nil)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestEventMetricsCounts(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

	bus := events.NewBus()
	m, err := AttachEventMetrics(bus, meter)
	require.NoError(t, err)

	now := time.Now()
	bus.Publish(events.New(contracts.EventActionExecuted, contracts.SeverityInfo, now, "a-1", nil))
	bus.Publish(events.New(contracts.EventActionExecuted, contracts.SeverityInfo, now, "a-2", nil))
	bus.Publish(events.New(contracts.EventClearanceViolation, contracts.SeverityCritical, now, "a-3", nil))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	total := int64(0)
	require.Len(t, rm.ScopeMetrics, 1)
	for _, metricEntry := range rm.ScopeMetrics[0].Metrics {
		if metricEntry.Name != "warden.events.total" {
			continue
		}
		sum, ok := metricEntry.Data.(metricdata.Sum[int64])
		require.True(t, ok)
		for _, dp := range sum.DataPoints {
			total += dp.Value
		}
	}
	assert.EqualValues(t, 3, total)

	m.Close()
	bus.Publish(events.New(contracts.EventActionExecuted, contracts.SeverityInfo, now, "a-4", nil))
	require.NoError(t, reader.Collect(context.Background(), &rm))
}
