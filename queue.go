package workq

import (
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sys/cpu"

	"github.com/tahsin716/workq/internal/osd"
)

// Infinite is the timeout that never expires.
const Infinite = osd.Infinite

// pendingList is the queue of submitted items. Every method takes the
// Ticket of the scalable lock as proof the caller holds it.
type pendingList struct {
	head *Item
	tail **Item // next append goes here; &head when empty
}

func (p *pendingList) init() {
	p.head = nil
	p.tail = &p.head
}

// splice appends a privately built chain in O(1).
func (p *pendingList) splice(_ Ticket, first *Item, lastNext **Item) {
	*p.tail = first
	p.tail = lastNext
}

// pop removes the head, or returns nil when empty.
func (p *pendingList) pop(_ Ticket) *Item {
	it := p.head
	if it != nil {
		p.head = it.next
		if p.head == nil {
			p.tail = &p.head
		}
	}
	return it
}

// Queue executes submitted items on a fixed set of workers.
//
// All exported methods are safe for concurrent use. Destroy must only be
// called once the application has waited for every item it needs.
type Queue struct {
	// guarded by lock
	lock    ScalableLock
	pending pendingList

	_ cpu.CacheLinePad

	// atomic
	items       atomic.Int32 // pending or executing
	liveThreads atomic.Int32
	waiters     atomic.Int32
	exiting     atomic.Bool
	free        freeList
	metrics     queueMetrics

	_ cpu.CacheLinePad

	// immutable after New
	flags   Flags
	config  Config
	log     logr.Logger
	threads []thread // workers, then the helper record
	workers int
	done    *osd.Event
	arena   *arena

	wg          sync.WaitGroup
	destroyOnce sync.Once
}

// queueMetrics tracks queue-wide statistics
type queueMetrics struct {
	itemsQueued atomic.Uint64
	setEvents   atomic.Uint64
	extraItems  atomic.Uint64
	spinLoops   atomic.Uint64
	abandoned   atomic.Uint64
}

// New creates a work queue. The number of workers follows from flags and
// the available parallelism (see Config.Processors).
//
// Example:
//
//	q, err := workq.New(workq.FlagMulti)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer q.Destroy()
func New(flags Flags, opts ...Option) (*Queue, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.newEvent == nil {
		cfg.newEvent = osd.NewEvent
	}

	processors := cfg.Processors
	if processors == 0 {
		processors = osd.NumProcessors()
	}

	q := &Queue{
		flags:   flags,
		config:  cfg,
		log:     cfg.Logger.WithName("workq"),
		workers: workerCount(flags, processors),
	}
	q.pending.init()
	q.lock.Init()
	q.arena = newArena(q, cfg.MaxItems)

	// manual reset, signalled
	if q.done = cfg.newEvent(true, true); q.done == nil {
		q.teardown()
		return nil, ErrAllocation
	}

	// +1 for the calling goroutine
	q.threads = make([]thread, q.workers+1)
	for i := range q.threads {
		q.threads[i].queue = q
		q.threads[i].id = i
	}

	pin := cfg.PinWorkerThreads || flags&FlagIO != 0
	for i := 0; i < q.workers; i++ {
		t := &q.threads[i]

		// auto reset, not signalled
		if t.wake = cfg.newEvent(false, false); t.wake == nil {
			q.teardown()
			return nil, ErrAllocation
		}

		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			t.run(pin)
		}()
	}

	q.log.V(1).Info("queue created",
		"flags", flags, "processors", processors, "workers", q.workers,
		"spinWindow", cfg.SpinWindow, "maxItems", cfg.MaxItems)
	return q, nil
}

// Destroy stops every worker, waits for them to exit and drops all items.
// Items still pending are never executed. Calling Destroy more than once is
// safe.
func (q *Queue) Destroy() {
	q.teardown()
}

// teardown releases everything New acquired; it tolerates a queue that was
// only partially constructed.
func (q *Queue) teardown() {
	q.destroyOnce.Do(func() {
		q.exiting.Store(true)
		for i := 0; i < q.workers && i < len(q.threads); i++ {
			if wake := q.threads[i].wake; wake != nil {
				wake.Set()
			}
		}
		q.wg.Wait()

		for i := range q.threads {
			q.threads[i].wake = nil
		}
		q.done = nil

		tk := q.lock.Acquire()
		abandoned := 0
		for it := q.pending.pop(tk); it != nil; it = q.pending.pop(tk) {
			abandoned++
		}
		q.lock.Release(tk)
		if abandoned > 0 {
			q.items.Add(-int32(abandoned))
			q.metrics.abandoned.Add(uint64(abandoned))
			q.log.Info("destroyed queue with pending items", "abandoned", abandoned)
		}

		q.free.clear()
		q.arena.reset()
		q.log.V(1).Info("queue destroyed")
	})
}

// Items returns the number of items pending or executing. The value is
// advisory and may change as soon as it is returned.
func (q *Queue) Items() int {
	return int(q.items.Load())
}

// Workers returns the number of worker goroutines.
func (q *Queue) Workers() int {
	return q.workers
}

// Flags returns the creation flags.
func (q *Queue) Flags() Flags {
	return q.flags
}

// Wait blocks until the queue has no pending items or timeout elapses, and
// reports whether the queue emptied.
//
// On a FlagMulti queue the caller drains items itself and always returns
// true; called from inside a callback it returns once nothing is left to
// start. A queue without workers runs items during submission, so Wait
// returns at once.
func (q *Queue) Wait(timeout time.Duration) bool {
	if q.workers == 0 {
		return true
	}
	if q.items.Load() == 0 {
		return true
	}

	// help out rather than doing nothing
	if q.flags&FlagMulti != 0 {
		q.process(&q.threads[q.workers])
		return true
	}

	// reset the done event and double-check before sleeping
	q.done.Reset()
	q.waiters.Add(1)
	if q.items.Load() != 0 {
		q.done.Wait(timeout)
	}
	q.waiters.Add(-1)

	return q.items.Load() == 0
}

// Submit queues a single item. See SubmitBatch.
func (q *Queue) Submit(callback Callback, param any, flags ItemFlags) (*Item, error) {
	return q.SubmitBatch(callback, 1, func(int) any { return param }, flags)
}

// SubmitBatch queues count items running callback, item i receiving
// param(i) (nil when param is nil). The whole batch is published under a
// single lock acquisition.
//
// It returns the first item of the batch; the rest follow via Next. For
// ItemAutoRelease batches, or when count is 0, it returns nil. On a queue
// without workers the items have all completed when SubmitBatch returns,
// unless it is called from inside a callback, where it returns once the
// pending list is empty.
func (q *Queue) SubmitBatch(callback Callback, count int, param ParamFunc, flags ItemFlags) (*Item, error) {
	if callback == nil {
		return nil, ErrNilCallback
	}
	if q.exiting.Load() {
		return nil, ErrQueueDestroyed
	}
	if count <= 0 {
		return nil, nil
	}

	// build the batch privately
	var first *Item
	tail := &first
	var prev *Item
	for i := 0; i < count; i++ {
		it := q.free.pop(q.arena)
		if it == nil {
			if it = q.arena.alloc(); it == nil {
				q.recycle(first)
				return nil, ErrAllocation
			}
		}

		var p any
		if param != nil {
			p = param(i)
		}
		it.reset(callback, p, flags)
		if prev != nil {
			prev.batch = it
		}
		prev = it

		*tail = it
		tail = &it.next
	}

	// count first so a racing drainer can never take the count below zero
	q.items.Add(int32(count))
	q.metrics.itemsQueued.Add(uint64(count))

	// publish the whole thing within the critical section
	tk := q.lock.Acquire()
	q.pending.splice(tk, first, tail)
	q.lock.Release(tk)

	q.wakeWorkers(count)

	// no workers: run the queue now on this goroutine
	if q.workers == 0 {
		q.process(&q.threads[0])
	}

	if flags&ItemAutoRelease != 0 {
		return nil, nil
	}
	return first, nil
}

// SubmitStrided queues count items running fn, item i receiving
// &params[i*stride]. A stride of 0 hands every item &params[0].
func SubmitStrided[T any](q *Queue, fn func(*T) any, count int, params []T, stride int, flags ItemFlags) (*Item, error) {
	if fn == nil {
		return nil, ErrNilCallback
	}
	if count > 0 && (stride < 0 || len(params) == 0 || (stride > 0 && count-1 > (len(params)-1)/stride)) {
		return nil, ErrInvalidParams
	}
	return q.SubmitBatch(
		func(p any) any { return fn(p.(*T)) },
		count,
		func(i int) any { return &params[i*stride] },
		flags,
	)
}

// wakeWorkers signals inactive workers, at most one per new item. It is a
// latency heuristic: a worker that goes idle during the scan still finds
// the items when it re-checks the pending count.
func (q *Queue) wakeWorkers(count int) {
	if int(q.liveThreads.Load()) >= q.workers {
		return
	}
	for i := 0; i < q.workers; i++ {
		t := &q.threads[i]
		if t.active.Load() {
			continue
		}
		// a signal still pending wakes the worker anyway
		if !t.wake.IsSet() {
			t.wake.Set()
			q.metrics.setEvents.Add(1)
		}
		if count--; count == 0 {
			return
		}
	}
}

// recycle returns an unpublished chain to the free-list.
func (q *Queue) recycle(first *Item) {
	for it := first; it != nil; {
		next := it.next
		it.callback = nil
		it.param = nil
		q.free.push(it)
		it = next
	}
}

// process drains the pending list on behalf of t until the pending count
// reaches zero or the queue starts exiting, then wakes any queue waiter.
//
// A helper drain started from inside a callback stops as soon as the
// pending list is empty: the count then includes the caller's own item,
// which cannot finish before the drain returns.
func (q *Queue) process(t *thread) {
	start := time.Now()
	drained := 0
	helper := t.id == q.workers
	nested, checked := false, false

	for q.items.Load() != 0 && !q.exiting.Load() {
		tk := q.lock.Acquire()
		it := q.pending.pop(tk)
		q.lock.Release(tk)

		// popped by someone else and still executing
		if it == nil {
			if helper && !checked {
				nested, checked = inCallback(), true
			}
			if nested {
				break
			}
			osd.Yield()
			continue
		}

		q.execute(t, it)
		if drained++; drained > 1 {
			q.metrics.extraItems.Add(1)
		}
	}

	if q.waiters.Load() != 0 && q.items.Load() == 0 {
		q.done.Set()
		q.metrics.setEvents.Add(1)
	}

	t.runTime.Add(int64(time.Since(start)))
}

// execute runs one item and completes it. Once done is stored the item may
// be released and resubmitted, so nothing after that reads it.
func (q *Queue) execute(t *thread, it *Item) {
	autoRelease := it.flags&ItemAutoRelease != 0

	it.result = q.call(t, it)
	it.callback = nil
	it.param = nil

	q.items.Add(-1)
	t.executed.Add(1)

	if autoRelease {
		// no handle exists, nobody else can touch it
		it.done.Store(true)
		q.free.push(it)
		return
	}

	ev := it.event.Swap(completing)
	it.done.Store(true)
	if ev != nil {
		ev.Set()
		q.metrics.setEvents.Add(1)
	}
}

// call invokes the callback with panic recovery.
func (q *Queue) call(t *thread, it *Item) (result any) {
	defer func() {
		if r := recover(); r != nil {
			t.failed.Add(1)
			perr := newPanicError(r)
			q.log.Error(perr, "work item callback panicked", "worker", t.id)
			if q.config.PanicHandler != nil {
				q.config.PanicHandler(r)
			}
			result = perr
		}
	}()
	return invokeCallback(it.callback, it.param)
}

// invokeCallback is the frame inCallback looks for.
//
//go:noinline
func invokeCallback(cb Callback, param any) any {
	return cb(param)
}

var invokeCallbackName = runtime.FuncForPC(reflect.ValueOf(invokeCallback).Pointer()).Name()

// inCallback reports whether the calling goroutine is running inside an
// item callback.
func inCallback() bool {
	pcs := make([]uintptr, 64)
	for {
		n := runtime.Callers(2, pcs)
		if n < len(pcs) {
			pcs = pcs[:n]
			break
		}
		pcs = make([]uintptr, 2*len(pcs))
	}

	frames := runtime.CallersFrames(pcs)
	for {
		f, more := frames.Next()
		if f.Function == invokeCallbackName {
			return true
		}
		if !more {
			return false
		}
	}
}
