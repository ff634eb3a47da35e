package osd

import (
	"math"
	"sync"
	"time"
)

// Infinite is the timeout that never expires.
const Infinite time.Duration = math.MaxInt64

// Event is a signalable wake primitive.
//
// A manual-reset event stays signalled until Reset and releases every
// waiter. An auto-reset event releases exactly one waiter per Set and then
// returns to the unsignalled state; a Set with nobody waiting is kept until
// the next Wait consumes it.
type Event struct {
	manual bool

	// manual: ch is closed while signalled.
	mu  sync.Mutex
	ch  chan struct{}
	set bool

	// auto: one buffered token.
	token chan struct{}
}

// NewEvent allocates an event. It never returns nil; callers still treat nil
// as an allocation failure so the allocator can be substituted.
func NewEvent(manual, signalled bool) *Event {
	e := &Event{manual: manual}
	if manual {
		e.ch = make(chan struct{})
		if signalled {
			e.set = true
			close(e.ch)
		}
		return e
	}
	e.token = make(chan struct{}, 1)
	if signalled {
		e.token <- struct{}{}
	}
	return e
}

// Set signals the event.
func (e *Event) Set() {
	if !e.manual {
		select {
		case e.token <- struct{}{}:
		default:
		}
		return
	}
	e.mu.Lock()
	if !e.set {
		e.set = true
		close(e.ch)
	}
	e.mu.Unlock()
}

// Reset returns the event to the unsignalled state.
func (e *Event) Reset() {
	if !e.manual {
		select {
		case <-e.token:
		default:
		}
		return
	}
	e.mu.Lock()
	if e.set {
		e.set = false
		e.ch = make(chan struct{})
	}
	e.mu.Unlock()
}

// IsSet reports whether a manual-reset event is signalled, or whether an
// auto-reset event holds an unconsumed signal.
func (e *Event) IsSet() bool {
	if !e.manual {
		return len(e.token) != 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// Wait blocks until the event is signalled or timeout elapses, and reports
// whether it was signalled. A zero timeout polls.
func (e *Event) Wait(timeout time.Duration) bool {
	var ch <-chan struct{}
	if e.manual {
		e.mu.Lock()
		if e.set {
			e.mu.Unlock()
			return true
		}
		ch = e.ch
		e.mu.Unlock()
	} else {
		ch = e.token
	}

	if timeout <= 0 {
		select {
		case <-ch:
			return true
		default:
			return false
		}
	}

	if timeout == Infinite {
		<-ch
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}
