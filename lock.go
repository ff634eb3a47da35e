package workq

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/tahsin716/workq/internal/osd"
)

const (
	lockSlots = 16 // must be a power of two
	lockMask  = lockSlots - 1

	// maxLockBackoff caps the yield count between two checks of a slot.
	maxLockBackoff = 64
)

// Ticket identifies a holder of a ScalableLock. Only the ticket returned by
// Acquire may be passed to Release.
type Ticket uint32

// lockSlot holds one contender's flag on its own cache line.
type lockSlot struct {
	held atomic.Bool
	_    cpu.CacheLinePad
}

// ScalableLock is an array-based queue lock for many goroutines contending
// briefly. Each contender spins on its own cache line; a release hands the
// lock to the next slot, so the cost is O(1) whatever the queue depth.
//
// Exactly one slot holds the token at a time, so mutual exclusion holds for
// any number of contenders. Entry order equals Acquire order only while at
// most lockSlots goroutines contend at once.
//
// The zero value is not usable; call Init first.
type ScalableLock struct {
	slots [lockSlots]lockSlot
	next  atomic.Uint32
	_     cpu.CacheLinePad
}

// Init resets the lock to the unlocked state with slot 0 holding the token.
// It must not be called while the lock is in use.
func (l *ScalableLock) Init() {
	for i := range l.slots {
		l.slots[i].held.Store(false)
	}
	l.next.Store(0)
	l.slots[0].held.Store(true)
}

// Acquire takes the next ticket and spins, with exponential backoff, until
// its slot receives the token.
func (l *ScalableLock) Acquire() Ticket {
	slot := (l.next.Add(1) - 1) & lockMask
	backoff := 1
	for !l.slots[slot].held.CompareAndSwap(true, false) {
		for i := 0; i < backoff; i++ {
			osd.Yield()
		}
		if backoff < maxLockBackoff {
			backoff <<= 1
		}
	}
	return Ticket(slot)
}

// Release passes the token to the slot after t.
func (l *ScalableLock) Release(t Ticket) {
	l.slots[(uint32(t)+1)&lockMask].held.Store(true)
}
