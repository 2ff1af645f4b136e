package chkfs

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// DefaultSlots is the teaching-sized slot count used by k-chkfs.hh
// (`static constexpr size_t nslots = 10`). chkfs keeps the same default;
// larger caches and eviction policies are outside the contract (spec.md
// §9 "Open questions").
const DefaultSlots = 10

// slotState is the lifecycle of one buffer-cache slot.
type slotState int32

const (
	slotEmpty slotState = iota
	slotAllocated
	slotLoading
	slotClean
	slotDirty
)

// CleanerFunc is invoked once, under the slot lock, immediately after a
// cold load completes and before the slot transitions to clean. It is
// used to zero in-memory-only fields (e.g. an inode's InodeMem) that share
// storage with the on-disk bytes but must never be treated as loaded data.
type CleanerFunc func(buf []byte)

// Slot is one entry of the buffer cache's fixed array.
type Slot struct {
	mu    sync.Mutex
	state slotState
	ref   int32
	bn    uint32
	buf   []byte
}

// BN returns the block number this slot caches. Valid only while the slot
// is not empty.
func (s *Slot) BN() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bn
}

// Bytes returns the slot's backing buffer. The caller must hold a
// reference (via Load) for the duration of any access.
func (s *Slot) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf
}

// MarkDirty transitions a clean slot to dirty so that the next Sync writes
// it back; a slot in any other state is left unchanged.
func (s *Slot) MarkDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == slotClean {
		s.state = slotDirty
	}
}

// contentLock is the content read/write lock behind CachedInode's
// Lock/RLock, encoded as a single
// atomic uint32 the way the inode's in-memory mlock word is described in
// spec.md §4.3: 0 = unlocked, 1..2^32-2 = reader count, 2^32-1 = writer.
// Implemented with compare-exchange and a runtime.Gosched yield on
// contention, matching the cooperative-kernel spin-then-yield idiom of
// k-chkfs.cc rather than blocking on an OS primitive.
type contentLock struct {
	word uint32
}

const lockWriterValue = ^uint32(0)

func (l *contentLock) RLock() {
	for {
		cur := atomic.LoadUint32(&l.word)
		if cur == lockWriterValue {
			yieldToOtherGoroutine()
			continue
		}
		if atomic.CompareAndSwapUint32(&l.word, cur, cur+1) {
			return
		}
	}
}

func (l *contentLock) RUnlock() {
	for {
		cur := atomic.LoadUint32(&l.word)
		if cur == 0 || cur == lockWriterValue {
			panic("chkfs: RUnlock of a lock with no readers")
		}
		if atomic.CompareAndSwapUint32(&l.word, cur, cur-1) {
			return
		}
	}
}

func (l *contentLock) Lock() {
	for {
		if atomic.CompareAndSwapUint32(&l.word, 0, lockWriterValue) {
			return
		}
		yieldToOtherGoroutine()
	}
}

func (l *contentLock) Unlock() {
	if !atomic.CompareAndSwapUint32(&l.word, lockWriterValue, 0) {
		panic("chkfs: Unlock of a lock not held for writing")
	}
}

// BufCache is a fixed-size, content-addressed buffer cache mirroring
// k-chkfs.hh's bufcache: a slot array plus a presence lock and a
// condition variable used as the load wait-queue.
type BufCache struct {
	disk  *Disk
	mu    sync.Mutex // guards slot presence: bn/ref lookups across the array
	cond  *sync.Cond
	slots []*Slot
}

// NewBufCache creates a cache of nslots slots backed by disk.
func NewBufCache(disk *Disk, nslots int) *BufCache {
	if nslots <= 0 {
		nslots = DefaultSlots
	}
	c := &BufCache{disk: disk, slots: make([]*Slot, nslots)}
	for i := range c.slots {
		c.slots[i] = &Slot{}
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Load implements the load(bn, cleaner) protocol of spec.md §4.3,
// returning a referenced Slot. The caller must call Release when done.
func (c *BufCache) Load(bn uint32, cleaner CleanerFunc) (*Slot, error) {
	c.mu.Lock()
	for {
		// Step 1: look for an existing slot for bn.
		for _, s := range c.slots {
			s.mu.Lock()
			if s.state != slotEmpty && s.bn == bn {
				atomic.AddInt32(&s.ref, 1)
				state := s.state
				s.mu.Unlock()
				c.mu.Unlock()
				if state == slotLoading {
					return c.waitForLoad(s, bn)
				}
				return s, nil
			}
			s.mu.Unlock()
		}

		// Step 2: find an empty or reclaimable (clean, unreferenced) slot to claim.
		var target *Slot
		for _, s := range c.slots {
			s.mu.Lock()
			if s.state == slotEmpty || (s.state == slotClean && atomic.LoadInt32(&s.ref) == 0) {
				target = s
				break
			}
			s.mu.Unlock()
		}
		if target == nil {
			c.mu.Unlock()
			return nil, ErrCacheFull
		}

		// Step 3/4: initialize and claim the slot, then release the cache lock.
		target.bn = bn
		target.buf = make([]byte, BlockSize)
		target.state = slotLoading
		atomic.AddInt32(&target.ref, 1)
		target.mu.Unlock()
		c.mu.Unlock()

		// Step 5: issue the blocking disk read outside any lock.
		// The state change and the wake-up happen under the cache lock so a
		// waiter cannot check the state and then miss the broadcast.
		if err := c.disk.ReadBlock(bn, target.buf); err != nil {
			c.mu.Lock()
			target.mu.Lock()
			target.state = slotEmpty
			target.buf = nil
			atomic.AddInt32(&target.ref, -1)
			target.mu.Unlock()
			c.cond.Broadcast()
			c.mu.Unlock()
			return nil, err
		}

		c.mu.Lock()
		target.mu.Lock()
		if cleaner != nil {
			cleaner(target.buf)
		}
		target.state = slotClean
		target.mu.Unlock()
		c.cond.Broadcast()
		c.mu.Unlock()
		return target, nil
	}
}

// waitForLoad blocks on the cache's wait-queue until the identified slot
// leaves the loading state (step 6 of the load protocol).
func (c *BufCache) waitForLoad(s *Slot, bn uint32) (*Slot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		s.mu.Lock()
		state := s.state
		sameBN := s.bn == bn
		s.mu.Unlock()
		if !sameBN {
			// Slot was recycled before we could observe completion; retry load.
			atomic.AddInt32(&s.ref, -1)
			c.mu.Unlock()
			slot, err := c.Load(bn, nil)
			c.mu.Lock()
			return slot, err
		}
		if state != slotLoading {
			return s, nil
		}
		c.cond.Wait()
	}
}

// Release decrements a slot's reference count (spec.md §4.3 "Release
// protocol"). A clean slot with ref==0 is reclaimed to empty; a dirty
// slot keeps its buffer for later Sync.
func (c *BufCache) Release(s *Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if atomic.AddInt32(&s.ref, -1) < 0 {
		panic("chkfs: Release of a slot with no outstanding reference")
	}
	if s.ref == 0 && s.state == slotClean {
		s.state = slotEmpty
		s.buf = nil
	}
}

// Sync implements sync(drop) (spec.md §4.3): writes every dirty slot back
// to disk and transitions it to clean; if drop is set, additionally frees
// every clean, ref==0 slot.
func (c *BufCache) Sync(drop bool) error {
	for _, s := range c.slots {
		s.mu.Lock()
		if s.state == slotDirty {
			bn, buf := s.bn, s.buf
			s.mu.Unlock()
			if err := c.disk.WriteBlock(bn, buf); err != nil {
				return err
			}
			s.mu.Lock()
			if s.state == slotDirty {
				s.state = slotClean
			}
		}
		if drop && s.state == slotClean && s.ref == 0 {
			s.state = slotEmpty
			s.buf = nil
		}
		s.mu.Unlock()
	}
	return nil
}

// yieldToOtherGoroutine is isolated so the spin/yield policy can be swapped
// without touching every call site; it maps the cooperative-kernel "yield
// on contention" idiom onto the Go scheduler.
func yieldToOtherGoroutine() {
	runtime.Gosched()
}
