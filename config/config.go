// Package config carries the boot-time deployment decisions that the
// original kernel made with conditional compilation (filesystem mode,
// software TLB, demand loading, swap, and the page-replacement policy).
// See the REDESIGN FLAGS in SPEC_FULL.md §9.
package config

// ReplacementPolicy selects the page-replacement algorithm the VM subsystem
// uses to choose a swap-out victim.
type ReplacementPolicy int

const (
	FIFO ReplacementPolicy = iota
	CLOCK
	RANDOM
)

func (p ReplacementPolicy) String() string {
	switch p {
	case FIFO:
		return "fifo"
	case CLOCK:
		return "clock"
	case RANDOM:
		return "random"
	default:
		return "unknown"
	}
}

// Boot is the set of deployment decisions fixed for the lifetime of one
// kernel run. It replaces the original's per-build #ifdef surface (FILESYS,
// USE_TLB, assignment-specific demand-load and swap flags) with a single
// value threaded through boot, per SPEC_FULL.md §2.
type Boot struct {
	// FilesysMode enables the Cd/Ls system calls. When false the kernel
	// still uses a FileSystem, Cd and Ls return -1, and processes stay at
	// the root directory.
	FilesysMode bool

	// UseTLB selects a software-managed TLB in front of the page table
	// instead of installing the page table directly on the MMU.
	UseTLB bool

	// DemandLoading defers frame allocation until the first page fault
	// instead of loading the whole executable at AddressSpace construction.
	DemandLoading bool

	// SwapEnabled allows pages to be evicted to a per-process swap file.
	// Implies DemandLoading, since without demand loading there is no path
	// that would ever need to reload an evicted page.
	SwapEnabled bool

	// Policy selects the replacement algorithm used when SwapEnabled.
	Policy ReplacementPolicy

	// NumPhysicalPages is the size of the simulated physical memory, in
	// pages. Shared across every address space via the coremap.
	NumPhysicalPages int

	// DiskPath is the backing file for the simulated raw disk.
	DiskPath string

	// NumDiskSectors sizes the simulated disk and, transitively, the
	// free-map bitmap.
	NumDiskSectors int

	// NumDirEntries fixes the size of every directory table at creation
	// time; the spec does not require dynamic directory growth (§4.4).
	NumDirEntries int

	// Trace is carried in the boot configuration but no component reads
	// it: syscall dispatch and page-fault handling emit no trace spans.
	Trace bool
}

// Default returns the configuration a fresh boot uses absent explicit flags:
// filesystem mode on, TLB and demand loading on, swap off, 32 physical
// pages, and a 4096-sector disk.
func Default() Boot {
	return Boot{
		FilesysMode:      true,
		UseTLB:           true,
		DemandLoading:    true,
		SwapEnabled:      false,
		Policy:           FIFO,
		NumPhysicalPages: 32,
		DiskPath:         "nachos.disk",
		NumDiskSectors:   4096,
		NumDirEntries:    16,
		Trace:            false,
	}
}
