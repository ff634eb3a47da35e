package osd

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_ManualInitialState(t *testing.T) {
	assert.True(t, NewEvent(true, true).IsSet())
	assert.False(t, NewEvent(true, false).IsSet())
	assert.True(t, NewEvent(true, true).Wait(0))
	assert.False(t, NewEvent(true, false).Wait(0))
}

func TestEvent_ManualReleasesEveryWaiter(t *testing.T) {
	e := NewEvent(true, false)

	const waiters = 8
	var wg sync.WaitGroup
	results := make(chan bool, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- e.Wait(5 * time.Second)
		}()
	}

	time.Sleep(10 * time.Millisecond)
	e.Set()
	wg.Wait()
	close(results)

	for r := range results {
		assert.True(t, r)
	}
	assert.True(t, e.IsSet(), "manual event stays signalled")
}

func TestEvent_ManualReset(t *testing.T) {
	e := NewEvent(true, true)
	e.Reset()
	require.False(t, e.IsSet())
	require.False(t, e.Wait(time.Millisecond))

	e.Set()
	e.Set()
	require.True(t, e.Wait(time.Millisecond))
	e.Reset()
	e.Reset()
	require.False(t, e.Wait(0))
}

func TestEvent_AutoConsumesSignal(t *testing.T) {
	e := NewEvent(false, false)
	require.False(t, e.Wait(0))

	e.Set()
	e.Set() // coalesces
	require.True(t, e.IsSet())
	require.True(t, e.Wait(0))
	require.False(t, e.Wait(0), "auto-reset event returns to unsignalled after one wait")
}

func TestEvent_AutoWakesOneWaiter(t *testing.T) {
	e := NewEvent(false, false)

	var (
		mu    sync.Mutex
		woken int
		wg    sync.WaitGroup
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e.Wait(100 * time.Millisecond) {
				mu.Lock()
				woken++
				mu.Unlock()
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	e.Set()
	wg.Wait()
	assert.Equal(t, 1, woken)
}

func TestEvent_AutoReset(t *testing.T) {
	e := NewEvent(false, true)
	e.Reset()
	assert.False(t, e.Wait(0))
}

func TestEvent_WaitTimeout(t *testing.T) {
	e := NewEvent(true, false)
	start := time.Now()
	assert.False(t, e.Wait(20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestEvent_WaitInfinite(t *testing.T) {
	e := NewEvent(false, false)
	done := make(chan bool)
	go func() { done <- e.Wait(Infinite) }()

	time.Sleep(5 * time.Millisecond)
	e.Set()
	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("infinite wait never released")
	}
}

func TestNumProcessors(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{name: "override", value: "3", want: 3},
		{name: "whitespace", value: " 7 ", want: 7},
		{name: "zero ignored", value: "0", want: runtime.NumCPU()},
		{name: "negative ignored", value: "-4", want: runtime.NumCPU()},
		{name: "garbage ignored", value: "many", want: runtime.NumCPU()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(ProcessorsEnv, tt.value)
			assert.Equal(t, tt.want, NumProcessors())
		})
	}
}
