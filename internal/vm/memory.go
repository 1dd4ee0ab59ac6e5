// Package vm implements the virtual-memory subsystem: per-process page
// tables, a shared software-managed TLB, demand loading from an
// executable, and swap with a choice of replacement policy, per
// SPEC_FULL.md §4.10 (spec.md §4.10 unchanged).
package vm

import (
	"nachos/internal/machine"
	"nachos/internal/stats"
)

// PageSize equals the disk sector size, matching the original's choice to
// size pages the same as the unit of disk I/O for simplicity.
const PageSize = machine.SectorSize

// Memory is the simulated physical RAM, shared by every address space and
// indexed by frame number. It replaces the original's single mutable
// global mainMemory array with a value owned by whichever kernel context
// boots the machine, per the singleton guidance in SPEC_FULL.md §9.
type Memory struct {
	bytes   []byte
	Coremap *Coremap
	stats   *stats.Statistics
}

// NewMemory allocates numFrames frames of physical memory and the coremap
// tracking their ownership.
func NewMemory(numFrames int) *Memory {
	return &Memory{
		bytes:   make([]byte, numFrames*PageSize),
		Coremap: NewCoremap(numFrames),
	}
}

// SetStats wires st as the counter sink for page faults and swap
// traffic; a nil Memory.stats (the zero value) silently skips counting, so
// callers that don't care about SPEC_FULL.md §8's stats scenarios can omit
// this call.
func (m *Memory) SetStats(st *stats.Statistics) { m.stats = st }

// NumFrames reports the fixed number of physical frames.
func (m *Memory) NumFrames() int { return len(m.bytes) / PageSize }

// Frame returns a slice viewing frame's PageSize bytes directly; writes
// through it mutate physical memory in place.
func (m *Memory) Frame(frame int) []byte {
	if frame < 0 || frame >= m.NumFrames() {
		panic("vm: frame index out of range")
	}
	return m.bytes[frame*PageSize : (frame+1)*PageSize]
}

// ZeroFrame clears a frame, matching the page-fault handler's requirement
// to zero-fill newly allocated pages before populating them.
func (m *Memory) ZeroFrame(frame int) {
	f := m.Frame(frame)
	for i := range f {
		f[i] = 0
	}
}
