package workq

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerState_String(t *testing.T) {
	tests := []struct {
		state WorkerState
		want  string
	}{
		{StateIdle, "IDLE"},
		{StateActive, "ACTIVE"},
		{StateSpinning, "SPINNING"},
		{StateExiting, "EXITING"},
		{WorkerState(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestWorkers_GoIdleAfterSpinWindow(t *testing.T) {
	q := newTestQueue(t, FlagMulti, WithProcessors(4), WithSpinWindow(time.Millisecond))

	_, err := q.SubmitBatch(func(any) any { return nil }, 32, nil, ItemAutoRelease)
	require.NoError(t, err)
	require.True(t, q.Wait(Infinite))

	require.Eventually(t, func() bool {
		stats := q.Stats()
		if stats.LiveWorkers != 0 {
			return false
		}
		for _, ws := range stats.WorkerStats[:stats.Workers] {
			if ws.State != StateIdle.String() {
				return false
			}
		}
		return true
	}, time.Second, time.Millisecond)
}

func TestWorkers_SpinPicksUpNewWork(t *testing.T) {
	// a long window keeps the worker spinning between the two submissions
	q := newTestQueue(t, 0, WithProcessors(2), WithSpinWindow(time.Minute))

	it, err := q.Submit(func(any) any { return nil }, nil, 0)
	require.NoError(t, err)
	require.True(t, it.Wait(Infinite))
	require.NoError(t, it.Release())

	require.Eventually(t, func() bool {
		return q.Stats().WorkerStats[0].State == StateSpinning.String()
	}, time.Second, time.Millisecond)

	it, err = q.Submit(func(any) any { return nil }, nil, 0)
	require.NoError(t, err)
	require.True(t, it.Wait(Infinite))
	require.NoError(t, it.Release())

	assert.GreaterOrEqual(t, q.Stats().SpinLoops, uint64(1))
}

func TestWorkers_PinnedIO(t *testing.T) {
	q := newTestQueue(t, FlagIO, WithProcessors(1))
	require.Equal(t, 1, q.Workers())

	var counter atomic.Int32
	_, err := q.SubmitBatch(func(any) any {
		time.Sleep(100 * time.Microsecond)
		counter.Add(1)
		return nil
	}, 10, nil, ItemAutoRelease)
	require.NoError(t, err)

	require.True(t, q.Wait(Infinite))
	assert.Equal(t, int32(10), counter.Load())
	assert.Equal(t, uint64(10), q.Stats().WorkerStats[0].ItemsExecuted)
}

// ============================================================================
// Stress Tests
// ============================================================================

func TestQueue_ConcurrentProducers(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	const (
		producers = 8
		batches   = 50
		batchSize = 10
		total     = producers * batches * batchSize
	)

	q := newTestQueue(t, FlagMulti, WithProcessors(5), WithSpinWindow(100*time.Microsecond))

	var executions [total]atomic.Int32
	run := func(p any) any {
		executions[p.(int)].Add(1)
		return nil
	}

	// sample the shared counters while producers and workers race
	stop := make(chan struct{})
	var negative atomic.Bool
	var wg conc.WaitGroup
	wg.Go(func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if q.Items() < 0 || q.liveThreads.Load() < 0 {
				negative.Store(true)
			}
			runtime.Gosched()
		}
	})

	var producersWG conc.WaitGroup
	for p := 0; p < producers; p++ {
		p := p // per-iteration copy (go directive < 1.22)
		producersWG.Go(func() {
			for b := 0; b < batches; b++ {
				base := (p*batches + b) * batchSize
				flags := ItemFlags(0)
				if b%2 == 0 {
					flags = ItemAutoRelease
				}
				first, err := q.SubmitBatch(run, batchSize, func(i int) any { return base + i }, flags)
				if err != nil {
					t.Errorf("SubmitBatch() error = %v", err)
					return
				}
				if first != nil {
					if !first.WaitBatch(Infinite) {
						t.Error("WaitBatch() timed out")
					}
					if err := first.ReleaseBatch(); err != nil {
						t.Errorf("ReleaseBatch() error = %v", err)
					}
				}
			}
		})
	}
	producersWG.Wait()

	require.True(t, q.Wait(Infinite))
	close(stop)
	wg.Wait()

	for i := range executions {
		if n := executions[i].Load(); n != 1 {
			t.Fatalf("item %d executed %d times", i, n)
		}
	}
	assert.False(t, negative.Load(), "pending or live count went negative")
	assert.Equal(t, 0, q.Items())

	stats := q.Stats()
	assert.Equal(t, uint64(total), stats.ItemsQueued)
	var executed uint64
	for _, ws := range stats.WorkerStats {
		executed += ws.ItemsExecuted
	}
	assert.Equal(t, uint64(total), executed)
	assert.LessOrEqual(t, stats.ItemsAllocated, total)
}

func TestQueue_SubmitFromCallback(t *testing.T) {
	q := newTestQueue(t, FlagMulti, WithProcessors(3))

	var leaves atomic.Int32
	leaf := func(any) any { leaves.Add(1); return nil }
	fanout := func(p any) any {
		_, err := q.SubmitBatch(leaf, p.(int), nil, ItemAutoRelease)
		return err
	}

	_, err := q.SubmitBatch(fanout, 4, func(int) any { return 8 }, ItemAutoRelease)
	require.NoError(t, err)

	// the fan-out items are queued before they finish, so one drain covers all
	require.True(t, q.Wait(Infinite))
	assert.Equal(t, int32(32), leaves.Load())
}
