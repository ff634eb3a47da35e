package workq

import (
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sys/cpu"

	"github.com/tahsin716/workq/internal/osd"
)

// WorkerState represents the current state of a worker
type WorkerState int32

const (
	// StateIdle: no pending work, blocked on the wake event.
	StateIdle WorkerState = iota
	// StateActive: draining the pending list.
	StateActive
	// StateSpinning: polling briefly for new items before sleeping.
	StateSpinning
	// StateExiting: the queue is being destroyed.
	StateExiting
)

// String returns the state name used in WorkerStats.
func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateActive:
		return "ACTIVE"
	case StateSpinning:
		return "SPINNING"
	case StateExiting:
		return "EXITING"
	default:
		return "UNKNOWN"
	}
}

// thread is the record of one worker, or of the goroutines helping out
// through Wait and inline submission (the last record).
type thread struct {
	queue *Queue
	id    int
	wake  *osd.Event // auto reset; nil for the helper record

	active atomic.Bool
	state  atomic.Int32 // WorkerState

	// Metrics
	executed atomic.Uint64
	failed   atomic.Uint64
	runTime  atomic.Int64 // ns
	spinTime atomic.Int64 // ns
	waitTime atomic.Int64 // ns

	_ cpu.CacheLinePad
}

func (t *thread) setState(s WorkerState) {
	t.state.Store(int32(s))
}

func (t *thread) getState() WorkerState {
	return WorkerState(t.state.Load())
}

// run is the worker loop. Its only suspension points are the wake event
// wait in StateIdle and the poll in StateSpinning.
func (t *thread) run(pin bool) {
	if pin {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	q := t.queue
	q.log.V(2).Info("worker started", "worker", t.id)

	state := StateIdle
	for {
		t.setState(state)

		switch state {
		case StateIdle:
			// only sleep when there is nothing pending
			if !q.exiting.Load() && q.items.Load() == 0 {
				start := time.Now()
				t.wake.Wait(osd.Infinite)
				t.waitTime.Add(int64(time.Since(start)))
			}
			if q.exiting.Load() {
				state = StateExiting
				continue
			}

			t.active.Store(true)
			q.liveThreads.Add(1)
			state = StateActive

		case StateActive:
			q.process(t)
			state = StateSpinning

		case StateSpinning:
			if t.spin() {
				q.metrics.spinLoops.Add(1)
				state = StateActive
				continue
			}

			t.active.Store(false)
			q.liveThreads.Add(-1)
			state = StateIdle

		case StateExiting:
			q.log.V(2).Info("worker stopped", "worker", t.id, "executed", t.executed.Load())
			return
		}
	}
}

// spin polls for new items for up to the spin window and reports whether
// any arrived.
func (t *thread) spin() bool {
	q := t.queue
	start := time.Now()
	deadline := start.Add(q.config.SpinWindow)
	for q.items.Load() == 0 && !q.exiting.Load() && time.Now().Before(deadline) {
		osd.Yield()
	}
	t.spinTime.Add(int64(time.Since(start)))
	return q.items.Load() != 0 && !q.exiting.Load()
}
