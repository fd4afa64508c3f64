// Package reset schedules the once-daily lobby reset. The scheduler waits
// until the next local midnight, triggers the broadcaster, and reschedules
// from the new current time. There is no catch-up: resets that would have
// fired while the process was down are simply missed, and a fresh start
// always targets the next upcoming midnight.
package reset

import (
	"log"
	"sync"
	"time"
)

// Clock abstracts the wall clock so tests can drive the scheduler without
// real delays.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock returns a Clock backed by the time package.
func SystemClock() Clock {
	return systemClock{}
}

// Broadcaster is the slice of the lobby broadcaster the scheduler needs.
type Broadcaster interface {
	// ResetAll broadcasts the reset frame if any channel is open and
	// reports whether a broadcast happened.
	ResetAll() bool
}

// Scheduler fires the daily reset at each local midnight until stopped.
type Scheduler struct {
	clock Clock
	b     Broadcaster

	stop     chan struct{}
	stopOnce sync.Once
}

// NewScheduler creates a Scheduler. A nil clock defaults to the system
// clock.
func NewScheduler(b Broadcaster, clock Clock) *Scheduler {
	if clock == nil {
		clock = SystemClock()
	}
	return &Scheduler{
		clock: clock,
		b:     b,
		stop:  make(chan struct{}),
	}
}

// Start launches the scheduling loop in a background goroutine.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop halts the scheduling loop. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Scheduler) run() {
	for {
		now := s.clock.Now()
		next := NextMidnight(now)
		delay := next.Sub(now)
		log.Printf("reset: next daily reset scheduled for %s (in %s)",
			next.Format(time.RFC3339), delay.Round(time.Second))

		select {
		case <-s.stop:
			log.Printf("reset: scheduler stopped")
			return
		case <-s.clock.After(delay):
			s.b.ResetAll()
		}
	}
}

// NextMidnight returns the first midnight strictly after now, in now's
// location.
func NextMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
}
