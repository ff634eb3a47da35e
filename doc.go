// Package workq provides a low-latency work queue that runs independent
// callbacks on a small, fixed pool of worker goroutines.
//
// It is meant for offloading CPU-bound units of work (rendering slices,
// mixing audio blocks) from a main loop: submission is O(1) in the locked
// region whatever the batch size, items are recycled through a lock-free
// free-list, and idle workers spin briefly before sleeping so a burst of
// submissions rarely pays for a full wake-up.
//
// # Key Features
//
//   - Array-based scalable spin lock protecting the pending list
//   - Lock-free, ABA-safe free-list of recycled items
//   - Batch submission with strided parameters
//   - Spin-then-block workers with an explicit state machine
//   - Helper mode: Wait drains the queue on the caller instead of sleeping
//   - Per-queue and per-worker statistics
//
// # Quick Start
//
//	q, err := workq.New(workq.FlagMulti)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer q.Destroy()
//
//	rows := make([]Row, height)
//	_, err = workq.SubmitStrided(q, renderRow, len(rows), rows, 1, workq.ItemAutoRelease)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	q.Wait(workq.Infinite)
//
// # Worker Count
//
// The number of workers is derived from the creation flags and the number
// of logical processors (overridable with the WORKQ_PROCESSORS environment
// variable or WithProcessors):
//
//   - one processor: one worker for FlagIO queues, otherwise none, and
//     submissions run inline on the submitting goroutine
//   - n processors: n-1 workers for FlagMulti queues, otherwise one
//   - never more than MaxWorkers
//
// # Items
//
// Submit and SubmitBatch return the first item of the submission. Wait on
// it, read its Result, then Release it so the queue can reuse it:
//
//	it, err := q.Submit(mix, block, 0)
//	if err != nil {
//	    return err
//	}
//	if it.Wait(time.Second) {
//	    out := it.Result()
//	    _ = out
//	}
//	_ = it.Release()
//
// With ItemAutoRelease the queue recycles items itself and the submitter
// gets no handle; use Queue.Wait to know when they are done.
//
// # Contracts
//
// For speed, some misuse is not detected: reading a Result before the item
// completes, releasing an item twice, and destroying a queue that still
// has work the application needs all have undefined results.
//
// # Thread Safety
//
// All exported methods except Destroy are safe for concurrent use. Any
// goroutine, including a callback running on a worker, may submit.
package workq
