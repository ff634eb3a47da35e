package workq

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLock() *ScalableLock {
	l := new(ScalableLock)
	l.Init()
	return l
}

func TestScalableLock_TicketsAdvance(t *testing.T) {
	l := newTestLock()

	for i := 0; i < 3*lockSlots; i++ {
		tk := l.Acquire()
		require.Equal(t, Ticket(i%lockSlots), tk)
		l.Release(tk)
	}
}

func TestScalableLock_ReleaseHandsToNextSlot(t *testing.T) {
	l := newTestLock()

	tk := l.Acquire()
	for i := range l.slots {
		assert.False(t, l.slots[i].held.Load(), "no slot holds the token while locked")
	}

	l.Release(tk)
	assert.True(t, l.slots[1].held.Load())
	assert.False(t, l.slots[0].held.Load())
}

func TestScalableLock_WrapsAround(t *testing.T) {
	l := newTestLock()
	l.next.Store(lockSlots - 1)
	l.slots[0].held.Store(false)
	l.slots[lockSlots-1].held.Store(true)

	tk := l.Acquire()
	require.Equal(t, Ticket(lockSlots-1), tk)
	l.Release(tk)
	assert.True(t, l.slots[0].held.Load())
}

func TestScalableLock_MutualExclusion(t *testing.T) {
	l := newTestLock()

	const (
		goroutines = 8
		iterations = 2000
	)

	var (
		counter int
		inside  int
		wg      sync.WaitGroup
	)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				tk := l.Acquire()
				inside++
				if inside != 1 {
					t.Errorf("%d holders inside the critical section", inside)
				}
				counter++
				inside--
				l.Release(tk)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines*iterations, counter)
}

// More contenders than slots alias onto the same flags; exclusion still holds.
func TestScalableLock_MoreContendersThanSlots(t *testing.T) {
	l := newTestLock()

	const (
		goroutines = 3 * lockSlots
		iterations = 200
	)

	var (
		counter int
		wg      sync.WaitGroup
	)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				tk := l.Acquire()
				counter++
				l.Release(tk)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines*iterations, counter)
}
