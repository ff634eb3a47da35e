package workq

import "time"

// Stats contains statistics about queue operation. All counters are
// snapshots taken at the time Stats() is called and may be slightly
// inconsistent during concurrent operations due to lock-free reads.
//
// Example:
//
//	stats := q.Stats()
//	fmt.Printf("queued=%d spin hits=%d\n", stats.ItemsQueued, stats.SpinLoops)
type Stats struct {
	// Workers is the number of worker goroutines. Fixed at creation.
	Workers int

	// Pending is the number of items pending or executing.
	Pending int

	// LiveWorkers is the number of workers currently out of StateIdle.
	LiveWorkers int

	// ItemsQueued is the total number of items submitted since creation.
	ItemsQueued uint64

	// ItemsAllocated is the number of items ever allocated from the arena.
	// Recycled items do not count again.
	ItemsAllocated int

	// SetEvents is the number of wake and completion signals sent.
	SetEvents uint64

	// ExtraItems counts items drained in a pass after its first item; a
	// high value means workers rarely sleep between items.
	ExtraItems uint64

	// SpinLoops counts spin windows that found new work before the worker
	// went to sleep.
	SpinLoops uint64

	// Abandoned is the number of pending items dropped by Destroy.
	Abandoned uint64

	// WorkerStats has one entry per worker followed by the helper record,
	// which accounts for work done by submitters and Wait callers.
	WorkerStats []WorkerStats
}

// WorkerStats contains statistics for one worker record.
type WorkerStats struct {
	// WorkerID is the record index. The helper record has the last index.
	WorkerID int

	// Helper is true for the record shared by submitting and waiting
	// goroutines.
	Helper bool

	// ItemsExecuted is the number of items this record executed, including
	// those whose callback panicked.
	ItemsExecuted uint64

	// ItemsFailed is the number of callbacks that panicked.
	ItemsFailed uint64

	// RunTime, SpinTime and WaitTime split the record's time between
	// draining, polling and sleeping.
	RunTime  time.Duration
	SpinTime time.Duration
	WaitTime time.Duration

	// State is the current state: "IDLE", "ACTIVE", "SPINNING" or
	// "EXITING". Always "IDLE" for the helper record.
	State string
}

// Stats returns a snapshot of queue statistics. It stays valid after
// Destroy, reporting the final counters.
func (q *Queue) Stats() Stats {
	threads := q.threads

	workerStats := make([]WorkerStats, len(threads))
	for i := range threads {
		t := &threads[i]
		workerStats[i] = WorkerStats{
			WorkerID:      i,
			Helper:        i == q.workers,
			ItemsExecuted: t.executed.Load(),
			ItemsFailed:   t.failed.Load(),
			RunTime:       time.Duration(t.runTime.Load()),
			SpinTime:      time.Duration(t.spinTime.Load()),
			WaitTime:      time.Duration(t.waitTime.Load()),
			State:         t.getState().String(),
		}
	}

	return Stats{
		Workers:        q.workers,
		Pending:        int(q.items.Load()),
		LiveWorkers:    int(q.liveThreads.Load()),
		ItemsQueued:    q.metrics.itemsQueued.Load(),
		ItemsAllocated: q.arena.allocated(),
		SetEvents:      q.metrics.setEvents.Load(),
		ExtraItems:     q.metrics.extraItems.Load(),
		SpinLoops:      q.metrics.spinLoops.Load(),
		Abandoned:      q.metrics.abandoned.Load(),
		WorkerStats:    workerStats,
	}
}
