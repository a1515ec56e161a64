package clock

import (
	"sort"
	"sync"
	"time"
)

// Virtual is a manually advanced Clock for deterministic tests. Timers fire
// inline, in deadline order, during Advance.
type Virtual struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	timers map[int]*virtualTimer
}

type virtualTimer struct {
	id       int
	deadline time.Time
	f        func()
	owner    *Virtual
}

// NewVirtual creates a virtual clock starting at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start, timers: make(map[int]*virtualTimer)}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *Virtual) AfterFunc(d time.Duration, f func()) Timer {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextID++
	t := &virtualTimer{id: v.nextID, deadline: v.now.Add(d), f: f, owner: v}
	v.timers[t.id] = t
	return t
}

func (t *virtualTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	if _, ok := t.owner.timers[t.id]; !ok {
		return false
	}
	delete(t.owner.timers, t.id)
	return true
}

// Advance moves the clock forward, firing due timers in deadline order.
// Callbacks run without the clock lock held, so they may schedule or stop
// other timers.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	v.now = v.now.Add(d)
	deadline := v.now

	var due []*virtualTimer
	for _, t := range v.timers {
		if !t.deadline.After(deadline) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].id < due[j].id
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, t := range due {
		delete(v.timers, t.id)
	}
	v.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

// PendingTimers returns the number of scheduled, unfired timers.
func (v *Virtual) PendingTimers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.timers)
}
