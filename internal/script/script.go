// Package script replays timed commands against a running simulation.
// Steps are keyed on simulated time, so a script behaves the same in
// real-time and accelerated runs.
package script

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/tanknet-simulator/timectrl"
)

// Step is one scripted command, sent once At of simulated time has
// passed since the run started. Command is a raw command payload in the
// same JSON shape controllers publish.
type Step struct {
	At      time.Duration `yaml:"at" validate:"gte=0"`
	Command string        `yaml:"command" validate:"required,json"`
}

type event struct {
	id        string
	when      time.Time
	f         func()
	cancelled bool
}

// Scheduler runs callbacks once its clock reaches their scheduled time.
type Scheduler struct {
	clock timectrl.SimClock

	mu      sync.Mutex
	counter uint64
	events  []*event // earliest first
	index   map[string]*event
}

// NewScheduler reads time from clock, usually the TimeController.
func NewScheduler(clock timectrl.SimClock) *Scheduler {
	return &Scheduler{
		clock: clock,
		index: make(map[string]*event),
	}
}

// Schedule registers f to run at simulated time at and returns an ID for
// Cancel. Callbacks with equal times run in registration order.
func (s *Scheduler) Schedule(at time.Time, f func()) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	ev := &event{id: fmt.Sprintf("step-%d", s.counter), when: at, f: f}

	idx := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].when.After(at)
	})
	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev
	s.index[ev.id] = ev
	return ev.id
}

// Cancel drops a pending callback. Unknown or already-run IDs are ignored.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev, ok := s.index[id]; ok {
		ev.cancelled = true
		delete(s.index, id)
	}
}

// Pending counts callbacks that have neither run nor been cancelled.
func (s *Scheduler) Pending() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// RunDue runs every callback scheduled at or before the clock's current
// time. Callbacks run outside the scheduler lock and may schedule more.
func (s *Scheduler) RunDue() {
	if s == nil {
		return
	}
	for {
		ev := s.popDue()
		if ev == nil {
			return
		}
		if ev.f != nil {
			ev.f()
		}
	}
}

func (s *Scheduler) popDue() *event {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	for len(s.events) > 0 {
		ev := s.events[0]
		if ev.cancelled {
			s.events = s.events[1:]
			continue
		}
		if ev.when.After(now) {
			return nil
		}
		s.events = s.events[1:]
		delete(s.index, ev.id)
		return ev
	}
	return nil
}

// Load schedules every step relative to start. send receives the raw
// command payload.
func Load(s *Scheduler, start time.Time, steps []Step, send func(payload []byte)) {
	for _, step := range steps {
		payload := []byte(step.Command)
		s.Schedule(start.Add(step.At), func() { send(payload) })
	}
}
