package vm

import "testing"

// fakeAddressSpace builds a minimal AddressSpace with a page table large
// enough for the tests below, bypassing NewAddressSpace (which requires a
// real loaded executable) since only pageTableEntryFor's bookkeeping is
// exercised here.
func fakeAddressSpace(numPages int) *AddressSpace {
	return &AddressSpace{pageTable: make([]PageTableEntry, numPages)}
}

func TestCoremapMarkFindClear(t *testing.T) {
	c := NewCoremap(2)
	as := fakeAddressSpace(1)

	if got := c.CountClear(); got != 2 {
		t.Fatalf("CountClear() = %d, want 2", got)
	}

	frame := c.Find(as, 0)
	if frame == -1 {
		t.Fatal("Find returned -1 on an empty coremap")
	}
	owner, vpn := c.OwnerOf(frame)
	if owner != as || vpn != 0 {
		t.Fatalf("OwnerOf(%d) = (%v, %d), want (%v, 0)", frame, owner, vpn, as)
	}

	c.Clear(frame)
	if c.Test(frame) {
		t.Fatalf("frame %d still marked occupied after Clear", frame)
	}
	if got := c.CountClear(); got != 2 {
		t.Fatalf("CountClear() after Clear = %d, want 2", got)
	}
}

func TestCoremapFindReturnsMinusOneWhenFull(t *testing.T) {
	c := NewCoremap(1)
	as := fakeAddressSpace(2)

	if frame := c.Find(as, 0); frame != 0 {
		t.Fatalf("first Find() = %d, want 0", frame)
	}
	if frame := c.Find(as, 1); frame != -1 {
		t.Fatalf("Find() on a full coremap = %d, want -1", frame)
	}
}

func TestPickVictimFrameFIFO(t *testing.T) {
	c := NewCoremap(3)
	as := fakeAddressSpace(3)

	c.Mark(0, as, 0)
	c.Mark(1, as, 1)
	c.Mark(2, as, 2)

	if got := c.pickVictimFrame(policyFIFO); got != 0 {
		t.Fatalf("FIFO victim = %d, want 0 (oldest)", got)
	}

	c.Clear(0)
	c.Mark(0, as, 3)
	if got := c.pickVictimFrame(policyFIFO); got != 1 {
		t.Fatalf("FIFO victim after re-marking frame 0 = %d, want 1", got)
	}
}

func TestPickVictimFrameClockPrefersUnusedClean(t *testing.T) {
	c := NewCoremap(3)
	as := fakeAddressSpace(3)

	c.Mark(0, as, 0)
	c.Mark(1, as, 1)
	c.Mark(2, as, 2)

	as.pageTableEntryFor(0).Use = true
	as.pageTableEntryFor(1).Use = false
	as.pageTableEntryFor(1).Dirty = false
	as.pageTableEntryFor(2).Use = true

	if got := c.pickVictimFrame(policyCLOCK); got != 1 {
		t.Fatalf("CLOCK victim = %d, want 1 (only use=0,dirty=0 frame)", got)
	}
}

func TestPickVictimFrameClockFallsBackWhenAllUsed(t *testing.T) {
	c := NewCoremap(2)
	as := fakeAddressSpace(2)

	c.Mark(0, as, 0)
	c.Mark(1, as, 1)
	as.pageTableEntryFor(0).Use = true
	as.pageTableEntryFor(1).Use = true

	got := c.pickVictimFrame(policyCLOCK)
	if got != 0 && got != 1 {
		t.Fatalf("CLOCK victim = %d, want one of the two occupied frames", got)
	}
}
