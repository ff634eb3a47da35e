package workq

import (
	"sync/atomic"
	"time"

	"github.com/tahsin716/workq/internal/osd"
)

// Callback is the work performed by an item. Its return value becomes the
// item's result.
type Callback func(param any) any

// ParamFunc yields the parameter of the i-th item of a batch.
type ParamFunc func(i int) any

// Item is one submitted unit of work.
//
// Items belong to their queue: Release returns an item to the queue's
// free-list, never to the heap. Result may only be read after Wait or Done
// reports completion.
type Item struct {
	// next links the pending list; guarded by the queue lock.
	next *Item

	// nextFree links the free-list as index+1; 0 terminates.
	nextFree atomic.Uint32

	// immutable once the arena materializes the item
	queue *Queue
	index uint32

	// written by the submitter before the item is published
	batch    *Item
	callback Callback
	param    any
	flags    ItemFlags

	// written by the executing worker before done is set
	result any

	event atomic.Pointer[osd.Event]
	done  atomic.Bool
}

// completing takes the place of an item's event while the executing worker
// publishes completion. It is never waited on or signalled.
var completing = &osd.Event{}

// reset readies a recycled or fresh item for a new submission. Events are
// never carried over, so a late signal for the previous submission cannot
// reach a waiter of this one.
func (it *Item) reset(cb Callback, param any, flags ItemFlags) {
	it.next = nil
	it.batch = nil
	it.callback = cb
	it.param = param
	it.result = nil
	it.flags = flags
	it.done.Store(false)
	it.event.Store(nil)
}

// Done reports whether the item has completed.
func (it *Item) Done() bool {
	return it.done.Load()
}

// Result returns the callback's return value. Before completion the value
// is undefined.
func (it *Item) Result() any {
	return it.result
}

// Next returns the next item of the same submission, or nil for the last.
// The link is only valid until the item is released.
func (it *Item) Next() *Item {
	return it.batch
}

// Wait blocks until the item completes or timeout elapses, and reports
// whether it completed. Waiting on a completed item returns true at once.
func (it *Item) Wait(timeout time.Duration) bool {
	if it.done.Load() {
		return true
	}

	ev := it.event.Load()
	for ev == nil {
		fresh := it.queue.config.newEvent(true, false)
		if fresh == nil {
			break
		}
		if it.event.CompareAndSwap(nil, fresh) {
			ev = fresh
		} else {
			ev = it.event.Load()
		}
	}

	var deadline time.Time
	if timeout != osd.Infinite {
		deadline = time.Now().Add(timeout)
	}

	// no event, or completion is being published: poll the flag
	if ev == nil || ev == completing {
		for !it.done.Load() {
			if timeout != osd.Infinite && !time.Now().Before(deadline) {
				break
			}
			osd.Yield()
		}
		return it.done.Load()
	}

	for !it.done.Load() {
		remaining := osd.Infinite
		if timeout != osd.Infinite {
			if remaining = time.Until(deadline); remaining <= 0 {
				break
			}
		}
		ev.Wait(remaining)
	}
	return it.done.Load()
}

// Release returns the item to its queue's free-list after making sure it
// is not executing. If the item does not complete within the release wait,
// ErrTimeout is returned and the item is not recycled.
func (it *Item) Release() error {
	if !it.Wait(releaseTimeout) {
		return ErrTimeout
	}
	it.queue.free.push(it)
	return nil
}

// WaitBatch waits for every item of the submission starting at it.
func (it *Item) WaitBatch(timeout time.Duration) bool {
	var deadline time.Time
	if timeout != osd.Infinite {
		deadline = time.Now().Add(timeout)
	}
	for cur := it; cur != nil; cur = cur.batch {
		remaining := osd.Infinite
		if timeout != osd.Infinite {
			remaining = max(time.Until(deadline), 0)
		}
		if !cur.Wait(remaining) {
			return false
		}
	}
	return true
}

// ReleaseBatch releases every item of the submission starting at it,
// returning the first error encountered.
func (it *Item) ReleaseBatch() error {
	var first error
	for cur := it; cur != nil; {
		next := cur.batch
		if err := cur.Release(); err != nil && first == nil {
			first = err
		}
		cur = next
	}
	return first
}
