package workq

import (
	"sync"
	"sync/atomic"
)

const (
	chunkShift = 8
	chunkSize  = 1 << chunkShift
	chunkMask  = chunkSize - 1

	// maxArenaItems keeps indices+1 inside the low 32 bits of the
	// free-list head.
	maxArenaItems = 1 << 30
)

type chunk [chunkSize]Item

// arena owns every item a queue ever allocates. Items live in chunks that
// never move, so an index names the same item for the queue's lifetime.
type arena struct {
	queue  *Queue
	chunks []atomic.Pointer[chunk]
	used   atomic.Uint32 // slots handed out
	limit  uint32
	grow   sync.Mutex
}

func newArena(q *Queue, limit int) *arena {
	chunks := (limit + chunkSize - 1) >> chunkShift
	return &arena{
		queue:  q,
		chunks: make([]atomic.Pointer[chunk], chunks),
		limit:  uint32(limit),
	}
}

// alloc hands out a fresh item, or nil once the arena is exhausted.
func (a *arena) alloc() *Item {
	for {
		n := a.used.Load()
		if n >= a.limit {
			return nil
		}
		if a.used.CompareAndSwap(n, n+1) {
			return a.slot(n)
		}
	}
}

// slot returns the item at idx, materializing its chunk on first use.
func (a *arena) slot(idx uint32) *Item {
	c := a.chunks[idx>>chunkShift].Load()
	if c == nil {
		a.grow.Lock()
		if c = a.chunks[idx>>chunkShift].Load(); c == nil {
			c = new(chunk)
			base := idx &^ chunkMask
			for i := range c {
				c[i].queue = a.queue
				c[i].index = base + uint32(i)
			}
			a.chunks[idx>>chunkShift].Store(c)
		}
		a.grow.Unlock()
	}
	return &c[idx&chunkMask]
}

// at returns an item that was already allocated.
func (a *arena) at(idx uint32) *Item {
	return &a.chunks[idx>>chunkShift].Load()[idx&chunkMask]
}

// allocated returns the number of items ever allocated.
func (a *arena) allocated() int {
	return int(a.used.Load())
}

// reset drops every chunk. Only called once no goroutine can reach an item.
func (a *arena) reset() {
	for i := range a.chunks {
		a.chunks[i].Store(nil)
	}
}

// freeList is a lock-free stack of retired items. The head packs a
// modification tag in the high 32 bits and index+1 in the low 32 bits
// (0 means empty); the tag changes on every successful swap, so a stale
// head can never be installed again.
type freeList struct {
	head atomic.Uint64
}

func packHead(tag uint64, ref uint32) uint64 {
	return tag<<32 | uint64(ref)
}

// pop removes the top item, retrying under contention. Returns nil when
// empty.
func (f *freeList) pop(a *arena) *Item {
	for {
		old := f.head.Load()
		ref := uint32(old)
		if ref == 0 {
			return nil
		}
		it := a.at(ref - 1)
		next := it.nextFree.Load()
		if f.head.CompareAndSwap(old, packHead(old>>32+1, next)) {
			return it
		}
	}
}

// push adds it to the top of the stack, retrying under contention.
func (f *freeList) push(it *Item) {
	for {
		old := f.head.Load()
		it.nextFree.Store(uint32(old))
		if f.head.CompareAndSwap(old, packHead(old>>32+1, it.index+1)) {
			return
		}
	}
}

// len walks the stack. Only meaningful while nothing pushes or pops.
func (f *freeList) len(a *arena) int {
	n := 0
	for ref := uint32(f.head.Load()); ref != 0; ref = a.at(ref - 1).nextFree.Load() {
		n++
	}
	return n
}

// clear empties the stack.
func (f *freeList) clear() {
	f.head.Store(0)
}
