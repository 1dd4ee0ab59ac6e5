package vm_test

import (
	"testing"

	"nachos/internal/vm"
)

func TestTLBLookupMiss(t *testing.T) {
	tlb := vm.NewTLB()
	if _, ok := tlb.Lookup(3); ok {
		t.Fatal("Lookup on an empty TLB returned a hit")
	}
}

func TestTLBRefillAndLookup(t *testing.T) {
	tlb := vm.NewTLB()
	tlb.Refill(vm.TLBEntry{VirtualPage: 1, PhysicalPage: 5, Valid: true})

	entry, ok := tlb.Lookup(1)
	if !ok {
		t.Fatal("Lookup missed an entry just installed by Refill")
	}
	if entry.PhysicalPage != 5 {
		t.Fatalf("PhysicalPage = %d, want 5", entry.PhysicalPage)
	}
}

func TestTLBRefillIsRoundRobin(t *testing.T) {
	tlb := vm.NewTLB()
	for i := 0; i < vm.TLBSize; i++ {
		tlb.Refill(vm.TLBEntry{VirtualPage: i, Valid: true})
	}

	// The TLB is now full; the next refill must evict slot 0's original
	// occupant (virtual page 0), since refill is strictly round-robin.
	evicted, wasValid := tlb.Refill(vm.TLBEntry{VirtualPage: 100, Valid: true})
	if !wasValid {
		t.Fatal("expected the evicted slot to have held a valid entry")
	}
	if evicted.VirtualPage != 0 {
		t.Fatalf("evicted entry had VirtualPage %d, want 0", evicted.VirtualPage)
	}
	if _, ok := tlb.Lookup(0); ok {
		t.Fatal("virtual page 0 should have been evicted")
	}
}

func TestTLBMarkUseAndInvalidate(t *testing.T) {
	tlb := vm.NewTLB()
	tlb.Refill(vm.TLBEntry{VirtualPage: 7, Valid: true})

	tlb.MarkUse(7, true)
	entry, ok := tlb.Lookup(7)
	if !ok || !entry.Use || !entry.Dirty {
		t.Fatalf("MarkUse(7, true) did not set Use/Dirty: %+v, ok=%v", entry, ok)
	}

	tlb.InvalidateEntryFor(7)
	if _, ok := tlb.Lookup(7); ok {
		t.Fatal("entry still present after InvalidateEntryFor")
	}
}

func TestTLBInvalidateAll(t *testing.T) {
	tlb := vm.NewTLB()
	tlb.Refill(vm.TLBEntry{VirtualPage: 1, Valid: true})
	tlb.Refill(vm.TLBEntry{VirtualPage: 2, Valid: true})

	tlb.InvalidateAll()
	if entries := tlb.Entries(); len(entries) != 0 {
		t.Fatalf("Entries() after InvalidateAll = %v, want empty", entries)
	}
}
