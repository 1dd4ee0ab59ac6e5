package vm

import (
	"math/rand"

	"github.com/jacobsa/syncutil"

	"nachos/internal/fs"
)

// Coremap is the reverse mapping from physical frame index to the address
// space and virtual page currently occupying it, grounded on
// original_source/code/lib/coremap.cc/.hh. frames reuses fs.Bitmap as its
// occupancy bitmap, the same way the original layers Coremap on top of its
// existing Bitmap class rather than duplicating bit-set logic.
type Coremap struct {
	mu syncutil.InvariantMutex

	frames *fs.Bitmap
	owner  []*AddressSpace
	vpn    []int

	// fifoOrder lists resident frames in the order they were most
	// recently marked, oldest first; the FIFO policy evicts fifoOrder[0].
	fifoOrder []int

	// clockHand is the next frame index the CLOCK policy will examine.
	clockHand int
}

// NewCoremap returns an empty coremap over numFrames physical frames.
func NewCoremap(numFrames int) *Coremap {
	c := &Coremap{
		frames: fs.NewBitmap(numFrames),
		owner:  make([]*AddressSpace, numFrames),
		vpn:    make([]int, numFrames),
	}
	c.mu = syncutil.NewInvariantMutex(c.checkInvariants)
	return c
}

func (c *Coremap) checkInvariants() {
	for i := 0; i < c.frames.NumBits(); i++ {
		if c.frames.Test(i) && c.owner[i] == nil {
			panic("vm: coremap frame marked allocated with no owning address space")
		}
		if !c.frames.Test(i) && c.owner[i] != nil {
			panic("vm: coremap frame marked free but still has an owner")
		}
	}
}

// NumFrames reports the fixed number of physical frames.
func (c *Coremap) NumFrames() int { return c.frames.NumBits() }

// Mark records that frame now holds virtual page vpn of as, used when a
// frame already freed by Evict is handed straight to the faulting page
// (HandlePageFault).
func (c *Coremap) Mark(frame int, as *AddressSpace, vpn int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.frames.Mark(frame)
	c.owner[frame] = as
	c.vpn[frame] = vpn
	c.fifoOrder = append(c.fifoOrder, frame)
}

// Clear frees frame, dropping its owner.
func (c *Coremap) Clear(frame int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked(frame)
}

// LOCKS_REQUIRED(c.mu)
func (c *Coremap) clearLocked(frame int) {
	c.frames.Clear(frame)
	c.owner[frame] = nil
	for i, f := range c.fifoOrder {
		if f == frame {
			c.fifoOrder = append(c.fifoOrder[:i], c.fifoOrder[i+1:]...)
			break
		}
	}
}

// Test reports whether frame is currently occupied.
func (c *Coremap) Test(frame int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames.Test(frame)
}

// Find claims a free frame for virtual page vpn of as, returning its
// index, or -1 if every frame is occupied (the caller must then evict via
// the swap policy).
func (c *Coremap) Find(as *AddressSpace, vpn int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	frame := c.frames.Find()
	if frame == -1 {
		return -1
	}
	c.owner[frame] = as
	c.vpn[frame] = vpn
	c.fifoOrder = append(c.fifoOrder, frame)
	return frame
}

// CountClear reports the number of unoccupied frames.
func (c *Coremap) CountClear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames.CountClear()
}

// OwnerOf returns the address space and virtual page currently occupying
// frame. Panics if frame is not occupied.
func (c *Coremap) OwnerOf(frame int) (*AddressSpace, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.frames.Test(frame) {
		panic("vm: OwnerOf called on an unoccupied frame")
	}
	return c.owner[frame], c.vpn[frame]
}

// pickVictimFrame selects a frame to evict under the given policy, without
// clearing it; the caller (Evict in swap.go) writes the page out first.
// Grounded on SPEC_FULL.md §4.10's FIFO/CLOCK/RANDOM description.
func (c *Coremap) pickVictimFrame(policy replacementPolicy) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch policy {
	case policyFIFO:
		return c.fifoOrder[0]
	case policyRANDOM:
		occupied := make([]int, 0, len(c.fifoOrder))
		for i := 0; i < c.frames.NumBits(); i++ {
			if c.frames.Test(i) {
				occupied = append(occupied, i)
			}
		}
		return occupied[rand.Intn(len(occupied))]
	case policyCLOCK:
		return c.pickClockVictimLocked()
	default:
		return c.fifoOrder[0]
	}
}

// pickClockVictimLocked implements the four-pass CLOCK sweep from
// SPEC_FULL.md §4.10: pass 1 looks for use=0,dirty=0; pass 2 looks for
// use=0,dirty=1 while clearing use along the way; pass 3 repeats pass 1
// over the now use-cleared ring; pass 4 forces eviction of the hand's
// current position.
//
// LOCKS_REQUIRED(c.mu)
func (c *Coremap) pickClockVictimLocked() int {
	n := c.frames.NumBits()
	occupied := func(i int) bool { return c.frames.Test(i) }

	tryPass := func(wantUse, wantDirty bool, clearUseOnMiss bool) int {
		start := c.clockHand
		for i := 0; i < n; i++ {
			idx := (start + i) % n
			if !occupied(idx) {
				continue
			}
			as, vpn := c.owner[idx], c.vpn[idx]
			entry := as.pageTableEntryFor(vpn)
			if entry.Use == wantUse && entry.Dirty == wantDirty {
				c.clockHand = (idx + 1) % n
				return idx
			}
			if clearUseOnMiss {
				entry.Use = false
			}
		}
		return -1
	}

	if idx := tryPass(false, false, false); idx != -1 {
		return idx
	}
	if idx := tryPass(false, true, true); idx != -1 {
		return idx
	}
	if idx := tryPass(false, false, false); idx != -1 {
		return idx
	}

	idx := c.clockHand % n
	for !occupied(idx) {
		idx = (idx + 1) % n
	}
	c.clockHand = (idx + 1) % n
	return idx
}
