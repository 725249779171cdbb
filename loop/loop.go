// Package loop implements the single-threaded cooperative scheduler that
// drives a sender session.
//
// Every callback (timer, idle or invoked function) runs on the goroutine
// calling Run, to completion, before the next one is dispatched. There is no
// preemption, so two callbacks never observe each other mid-flight.
package loop

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrAlreadyRunning is returned when Run is called on a running loop.
var ErrAlreadyRunning = errors.New("loop is already running")

// SourceID identifies a registered timeout.
type SourceID uint64

type timeout struct {
	id       SourceID
	interval time.Duration
	next     time.Time
	fn       func() bool
}

// Loop is a cooperative main loop.
type Loop struct {
	mu       sync.Mutex
	tp       TimeProvider
	timeouts map[SourceID]*timeout
	nextID   SourceID
	idle     []func()
	invoked  []func()
	wake     chan struct{}

	running bool
	quit    bool
	err     error
}

// New creates an idle loop using the system clock.
func New() *Loop {
	return &Loop{
		tp:       RealTimeProvider{},
		timeouts: make(map[SourceID]*timeout),
		wake:     make(chan struct{}, 1),
	}
}

// SetTimeProvider replaces the clock. Used by tests driving Iterate.
func (l *Loop) SetTimeProvider(tp TimeProvider) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tp == nil {
		tp = RealTimeProvider{}
	}
	l.tp = tp
}

// AddTimeout calls fn every interval until fn returns false or the source is
// removed.
//
// Parameters:
//   - interval: Period between calls, must be positive
//   - fn: Callback; returning false removes the source
//
// Returns:
//   - SourceID: Identifier accepted by Remove
func (l *Loop) AddTimeout(interval time.Duration, fn func() bool) SourceID {
	if interval <= 0 {
		interval = time.Millisecond
	}

	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.timeouts[id] = &timeout{
		id:       id,
		interval: interval,
		next:     l.tp.Now().Add(interval),
		fn:       fn,
	}
	l.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "Loop.AddTimeout",
		"source_id": id,
		"interval":  interval,
	}).Debug("Timeout source added")

	l.signal()
	return id
}

// Remove unregisters a timeout. It reports whether the source existed.
func (l *Loop) Remove(id SourceID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.timeouts[id]; !ok {
		return false
	}
	delete(l.timeouts, id)
	return true
}

// Idle schedules fn to run once, after the current callback completes.
func (l *Loop) Idle(fn func()) {
	l.mu.Lock()
	l.idle = append(l.idle, fn)
	l.mu.Unlock()
	l.signal()
}

// Invoke schedules fn on the loop thread. Safe from any goroutine.
func (l *Loop) Invoke(fn func()) {
	l.mu.Lock()
	l.invoked = append(l.invoked, fn)
	l.mu.Unlock()
	l.signal()
}

// Quit stops the loop after the current callback. The first non-nil err is
// returned from Run.
func (l *Loop) Quit(err error) {
	l.mu.Lock()
	if !l.quit {
		l.quit = true
		l.err = err
	} else if l.err == nil && err != nil {
		l.err = err
	}
	l.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Loop.Quit",
		"error":    err,
	}).Debug("Loop quit requested")

	l.signal()
}

// Quitting reports whether Quit has been called.
func (l *Loop) Quitting() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.quit
}

// IsRunning reports whether Run is executing.
func (l *Loop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run dispatches callbacks until Quit is called or ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrAlreadyRunning
	}
	l.running = true
	l.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Loop.Run",
	}).Info("Main loop started")

	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	for {
		l.Iterate()

		if done, err := l.finished(); done {
			logrus.WithFields(logrus.Fields{
				"function": "Loop.Run",
				"error":    err,
			}).Info("Main loop stopped")
			return err
		}

		wait, hasTimer := l.nextDeadline()
		var timerC <-chan time.Time
		var timer *time.Timer
		if hasTimer {
			timer = l.clock().NewTimer(wait)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logrus.WithFields(logrus.Fields{
				"function": "Loop.Run",
				"reason":   ctx.Err(),
			}).Info("Main loop cancelled")
			return ctx.Err()
		case <-l.wake:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// Iterate performs one non-blocking dispatch cycle: pending invoked and idle
// functions first, then every due timeout. It returns the number of
// callbacks run.
func (l *Loop) Iterate() int {
	ran := l.dispatchPending()
	if l.Quitting() {
		return ran
	}

	for _, t := range l.dueTimeouts() {
		l.mu.Lock()
		_, alive := l.timeouts[t.id]
		l.mu.Unlock()
		if !alive {
			continue
		}

		keep := t.fn()
		ran++

		l.mu.Lock()
		if cur, ok := l.timeouts[t.id]; ok {
			if keep {
				cur.next = l.tp.Now().Add(cur.interval)
			} else {
				delete(l.timeouts, t.id)
			}
		}
		l.mu.Unlock()

		ran += l.dispatchPending()
		if l.Quitting() {
			break
		}
	}
	return ran
}

func (l *Loop) dispatchPending() int {
	ran := 0
	for {
		l.mu.Lock()
		var fn func()
		switch {
		case len(l.invoked) > 0:
			fn = l.invoked[0]
			l.invoked = l.invoked[1:]
		case len(l.idle) > 0:
			fn = l.idle[0]
			l.idle = l.idle[1:]
		}
		quit := l.quit
		l.mu.Unlock()

		if fn == nil || quit {
			return ran
		}
		fn()
		ran++
	}
}

func (l *Loop) dueTimeouts() []*timeout {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.tp.Now()
	var due []*timeout
	for _, t := range l.timeouts {
		if !t.next.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].next.Equal(due[j].next) {
			return due[i].id < due[j].id
		}
		return due[i].next.Before(due[j].next)
	})
	return due
}

func (l *Loop) nextDeadline() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.idle) > 0 || len(l.invoked) > 0 {
		return 0, true
	}
	if len(l.timeouts) == 0 {
		return 0, false
	}

	now := l.tp.Now()
	var earliest time.Time
	for _, t := range l.timeouts {
		if earliest.IsZero() || t.next.Before(earliest) {
			earliest = t.next
		}
	}
	wait := earliest.Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

func (l *Loop) finished() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.quit, l.err
}

func (l *Loop) clock() TimeProvider {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tp
}
