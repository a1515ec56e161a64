package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVirtualAdvanceFiresInDeadlineOrder(t *testing.T) {
	v := NewVirtual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	var order []string
	v.AfterFunc(2*time.Minute, func() { order = append(order, "later") })
	v.AfterFunc(1*time.Minute, func() { order = append(order, "sooner") })

	v.Advance(30 * time.Second)
	assert.Empty(t, order)
	assert.Equal(t, 2, v.PendingTimers())

	v.Advance(2 * time.Minute)
	assert.Equal(t, []string{"sooner", "later"}, order)
	assert.Zero(t, v.PendingTimers())
}

func TestVirtualStop(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))
	fired := false
	timer := v.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second stop reports already stopped")

	v.Advance(2 * time.Second)
	assert.False(t, fired)
}

func TestVirtualCallbackMaySchedule(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))
	fired := false
	v.AfterFunc(time.Second, func() {
		v.AfterFunc(time.Second, func() { fired = true })
	})

	v.Advance(time.Second)
	assert.False(t, fired)
	v.Advance(time.Second)
	assert.True(t, fired)
}

func TestWallClockNow(t *testing.T) {
	before := time.Now()
	now := Wall().Now()
	assert.False(t, now.Before(before))
}
