package vm_test

import (
	"testing"

	"nachos/config"
	"nachos/internal/vm"
	"nachos/internal/stats"
)

// TestEvictAndFaultBackRoundTrip forces a single physical frame to be
// shared by two virtual pages of the same address space, so that faulting
// in the second evicts the first to swap, and faulting the first back in
// reads it from swap. Covers the "swap-out count >= 2" scenario named in
// SPEC_FULL.md §8.
func TestEvictAndFaultBackRoundTrip(t *testing.T) {
	code := make([]byte, 2*vm.PageSize)
	code[0] = 0x11                   // first byte of vpn 0
	code[vm.PageSize] = 0x22         // first byte of vpn 1

	exe := loadTestExecutable(t, code)
	defer exe.Close()

	st := stats.New()
	mem := vm.NewMemory(1) // a single frame forces eviction on the second fault
	mem.SetStats(st)

	cfg := config.Default()
	cfg.DemandLoading = true
	cfg.SwapEnabled = true
	cfg.UseTLB = false
	cfg.Policy = config.FIFO

	as, err := vm.NewAddressSpace(exe, mem, cfg, t.TempDir()+"/swap")
	if err != nil {
		t.Fatalf("NewAddressSpace: %v", err)
	}
	defer as.Close()

	frame0, off0, err := as.Translate(nil, 0, false)
	if err != nil {
		t.Fatalf("fault in vpn 0: %v", err)
	}
	if got := mem.Frame(frame0)[off0]; got != 0x11 {
		t.Fatalf("vpn 0 byte 0 = %#x, want 0x11", got)
	}

	// Faulting in vpn 1 has nowhere to go but to evict vpn 0's frame.
	frame1, off1, err := as.Translate(nil, vm.PageSize, false)
	if err != nil {
		t.Fatalf("fault in vpn 1: %v", err)
	}
	if got := mem.Frame(frame1)[off1]; got != 0x22 {
		t.Fatalf("vpn 1 byte 0 = %#x, want 0x22", got)
	}

	if _, ok := as.CheckPageInMemory(0); ok {
		t.Fatal("vpn 0 should have been evicted to make room for vpn 1")
	}

	// Faulting vpn 0 back in evicts vpn 1 in turn and must read vpn 0's
	// original contents back from swap, not re-zero or re-read the
	// executable (which would still coincidentally match here, so the real
	// assertion is on the swap-in counter below).
	frame0b, off0b, err := as.Translate(nil, 0, false)
	if err != nil {
		t.Fatalf("re-fault vpn 0: %v", err)
	}
	if got := mem.Frame(frame0b)[off0b]; got != 0x11 {
		t.Fatalf("vpn 0 byte 0 after swap-in = %#x, want 0x11", got)
	}

	snap := st.Snapshot()
	if snap.NumSwapOut < 2 {
		t.Fatalf("NumSwapOut = %d, want >= 2", snap.NumSwapOut)
	}
	if snap.NumSwapIn < 1 {
		t.Fatalf("NumSwapIn = %d, want >= 1", snap.NumSwapIn)
	}
	if snap.NumPageFaults < 3 {
		t.Fatalf("NumPageFaults = %d, want >= 3", snap.NumPageFaults)
	}
}

func TestHandlePageFaultFailsWhenMemoryFullAndSwapDisabled(t *testing.T) {
	code := make([]byte, 2*vm.PageSize)
	exe := loadTestExecutable(t, code)
	defer exe.Close()

	mem := vm.NewMemory(1)
	cfg := config.Default()
	cfg.DemandLoading = true
	cfg.SwapEnabled = false
	cfg.UseTLB = false

	as, err := vm.NewAddressSpace(exe, mem, cfg, "")
	if err != nil {
		t.Fatalf("NewAddressSpace: %v", err)
	}
	defer as.Close()

	if _, _, err := as.Translate(nil, 0, false); err != nil {
		t.Fatalf("first fault: %v", err)
	}
	if _, _, err := as.Translate(nil, vm.PageSize, false); err == nil {
		t.Fatal("expected out-of-memory error with swap disabled, got nil")
	}
}
