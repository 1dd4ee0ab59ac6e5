package vm

import (
	"fmt"

	"nachos/config"
	"nachos/internal/loader"
)

// PageTableEntry is one translation, shared between a process's private
// page table and the single hardware TLB, per SPEC_FULL.md §3.
type PageTableEntry struct {
	VirtualPage  int
	PhysicalPage int
	Valid        bool
	Use          bool
	Dirty        bool
	ReadOnly     bool
}

// segmentKind identifies which part of the executable a page belongs to,
// used by the page-fault handler to decide how to populate a fresh frame.
type segmentKind int

const (
	segStack segmentKind = iota // also covers BSS: zero-filled, never read from file
	segCode
	segData
)

// AddressSpace owns one process's page table and, when swap is enabled,
// its lazily created swap file. Grounded on the fields
// original_source/code/userprog/address_space.hh exposes to Coremap
// (referenced, though the header itself was not retrieved), generalized
// to the direct/demand-load/swap trio the boot configuration selects
// between.
type AddressSpace struct {
	cfg  config.Boot
	mem  *Memory
	exe  *loader.Executable
	swap *SwapFile

	numPages   int
	pageTable  []PageTableEntry
	stackPages int
}

// stackSizePages is the number of pages reserved for the user stack, a
// fixed allowance rather than a dynamically growable region.
const stackSizePages = 8

// NewAddressSpace builds the address space for a freshly exec'd
// executable. Without demand loading every page is populated immediately,
// failing if physical memory cannot hold the whole program. With demand
// loading every entry starts invalid; pages are faulted in lazily.
// Mirrors SPEC_FULL.md §4.10 step 2.
func NewAddressSpace(exe *loader.Executable, mem *Memory, cfg config.Boot, swapPath string) (*AddressSpace, error) {
	codeAndData := exe.Code.Size + exe.InitData.Size
	numPages := divRoundUp(codeAndData, PageSize) + stackSizePages

	as := &AddressSpace{
		cfg:        cfg,
		mem:        mem,
		exe:        exe,
		numPages:   numPages,
		pageTable:  make([]PageTableEntry, numPages),
		stackPages: stackSizePages,
	}
	for i := range as.pageTable {
		as.pageTable[i] = PageTableEntry{VirtualPage: i}
	}
	if cfg.SwapEnabled {
		as.swap = newSwapFile(swapPath)
	}

	if cfg.DemandLoading {
		return as, nil
	}

	if mem.Coremap.CountClear() < numPages {
		return nil, fmt.Errorf("vm: not enough physical memory for %d pages", numPages)
	}
	for vpn := 0; vpn < numPages; vpn++ {
		frame := mem.Coremap.Find(as, vpn)
		mem.ZeroFrame(frame)
		if err := as.populateFrame(frame, vpn); err != nil {
			return nil, err
		}
		as.pageTable[vpn] = PageTableEntry{VirtualPage: vpn, PhysicalPage: frame, Valid: true}
	}
	return as, nil
}

func divRoundUp(n, d int) int { return (n + d - 1) / d }

// NumPages reports the address space's size.
func (as *AddressSpace) NumPages() int { return as.numPages }

// segmentFor classifies the byte offset within the flat code+data+stack
// address space that vpn begins at.
func (as *AddressSpace) segmentFor(vpn int) (kind segmentKind, fileOffset int) {
	base := vpn * PageSize
	if base < as.exe.Code.Size {
		return segCode, base
	}
	if base < as.exe.Code.Size+as.exe.InitData.Size {
		return segData, base - as.exe.Code.Size
	}
	return segStack, 0
}

// populateFrame fills frame with vpn's initial contents: code bytes from
// the executable, data bytes from the executable, or zeros for
// BSS/stack, per SPEC_FULL.md §4.10 step 2/"page-fault handling" 2a.
func (as *AddressSpace) populateFrame(frame, vpn int) error {
	kind, fileOffset := as.segmentFor(vpn)
	buf := as.mem.Frame(frame)
	switch kind {
	case segCode:
		n := PageSize
		if remaining := as.exe.Code.Size - fileOffset; remaining < n {
			n = remaining
		}
		if n > 0 {
			if err := as.exe.ReadCodeByte(fileOffset, buf[:n]); err != nil {
				return err
			}
		}
	case segData:
		n := PageSize
		if remaining := as.exe.InitData.Size - fileOffset; remaining < n {
			n = remaining
		}
		if n > 0 {
			if err := as.exe.ReadDataByte(fileOffset, buf[:n]); err != nil {
				return err
			}
		}
	case segStack:
		// buf is already zeroed by ZeroFrame before this call.
	}
	return nil
}

// pageTableEntryFor returns a pointer to vpn's live page table entry, used
// by the coremap's CLOCK sweep and by swap eviction to read/update
// use/dirty bits in place.
func (as *AddressSpace) pageTableEntryFor(vpn int) *PageTableEntry {
	return &as.pageTable[vpn]
}

// CheckPageInMemory reports whether vpn is currently resident, returning
// its entry if so.
func (as *AddressSpace) CheckPageInMemory(vpn int) (PageTableEntry, bool) {
	if vpn < 0 || vpn >= as.numPages {
		return PageTableEntry{}, false
	}
	e := as.pageTable[vpn]
	return e, e.Valid
}

// HandlePageFault resolves a fault on vpn: if the page was never resident
// and has no swapped copy, it is populated fresh from the executable (or
// zeroed, for stack/BSS); if it has a swapped copy, that copy is read
// back. Either way a free frame is found directly or by evicting a
// victim. Mirrors SPEC_FULL.md §4.10's page-fault handling.
func (as *AddressSpace) HandlePageFault(tlb *TLB, vpn int) (PageTableEntry, error) {
	if vpn < 0 || vpn >= as.numPages {
		return PageTableEntry{}, fmt.Errorf("vm: virtual page %d out of range", vpn)
	}

	frame := as.mem.Coremap.Find(as, vpn)
	if frame == -1 {
		if !as.cfg.SwapEnabled {
			return PageTableEntry{}, fmt.Errorf("vm: out of physical memory, swap disabled")
		}
		var err error
		frame, err = Evict(as.mem, tlb, as.cfg.Policy)
		if err != nil {
			return PageTableEntry{}, err
		}
		as.mem.Coremap.Mark(frame, as, vpn)
	}

	as.mem.ZeroFrame(frame)
	if as.swap != nil && as.swap.HasPage(vpn) {
		if err := as.swap.ReadPage(vpn, as.mem.Frame(frame)); err != nil {
			return PageTableEntry{}, err
		}
		if as.mem.stats != nil {
			as.mem.stats.IncSwapIn()
		}
	} else {
		if err := as.populateFrame(frame, vpn); err != nil {
			return PageTableEntry{}, err
		}
	}

	if as.mem.stats != nil {
		as.mem.stats.IncPageFaults()
	}

	entry := PageTableEntry{VirtualPage: vpn, PhysicalPage: frame, Valid: true}
	as.pageTable[vpn] = entry
	return entry, nil
}

// maxTranslateRetries bounds how many times Translate will take a TLB miss
// or page fault for a single access before giving up, per SPEC_FULL.md §6:
// "retrying on TLB miss up to a small bound".
const maxTranslateRetries = 3

// Translate resolves a user virtual address to a (frame, offset) pair,
// faulting the page in and refilling the TLB as needed. writing marks the
// access as a store, for dirty-bit tracking. Used by ReadBufferFromUser
// and friends to walk a user buffer one byte at a time.
func (as *AddressSpace) Translate(tlb *TLB, vaddr int, writing bool) (frame, offset int, err error) {
	vpn := vaddr / PageSize
	offset = vaddr % PageSize
	if vpn < 0 || vpn >= as.numPages {
		return 0, 0, fmt.Errorf("vm: virtual address %d out of range", vaddr)
	}

	for attempt := 0; attempt < maxTranslateRetries; attempt++ {
		if !as.cfg.UseTLB {
			entry, ok := as.CheckPageInMemory(vpn)
			if !ok {
				entry, err = as.HandlePageFault(tlb, vpn)
				if err != nil {
					return 0, 0, err
				}
			} else if as.mem.stats != nil {
				as.mem.stats.IncPageHits()
			}
			if writing {
				as.pageTableEntryFor(vpn).Dirty = true
			} else {
				as.pageTableEntryFor(vpn).Use = true
			}
			return entry.PhysicalPage, offset, nil
		}

		if e, ok := tlb.Lookup(vpn); ok {
			tlb.MarkUse(vpn, writing)
			if as.mem.stats != nil {
				as.mem.stats.IncPageHits()
			}
			return e.PhysicalPage, offset, nil
		}

		entry, ok := as.CheckPageInMemory(vpn)
		if !ok {
			entry, err = as.HandlePageFault(tlb, vpn)
			if err != nil {
				return 0, 0, err
			}
		}

		evicted, wasValid := tlb.Refill(TLBEntry{
			VirtualPage:  entry.VirtualPage,
			PhysicalPage: entry.PhysicalPage,
			Valid:        true,
			ReadOnly:     entry.ReadOnly,
		})
		if wasValid {
			old := as.pageTableEntryFor(evicted.VirtualPage)
			old.Use = evicted.Use
			old.Dirty = evicted.Dirty
		}
	}

	return 0, 0, fmt.Errorf("vm: could not resolve virtual address %d after %d attempts", vaddr, maxTranslateRetries)
}

// SwitchOut saves use/dirty bits from every valid TLB entry back into this
// address space's page table, then clears the TLB, matching
// SPEC_FULL.md §4.10's "before yielding, read the use/dirty bits ... back
// into the owning page table".
func (as *AddressSpace) SwitchOut(tlb *TLB) {
	if !as.cfg.UseTLB {
		return
	}
	for _, e := range tlb.Entries() {
		pte := as.pageTableEntryFor(e.VirtualPage)
		pte.Use = e.Use
		pte.Dirty = e.Dirty
	}
	tlb.InvalidateAll()
}

// SwitchIn invalidates the TLB for the incoming process: it starts with no
// cached translations and faults them in as referenced.
func (as *AddressSpace) SwitchIn(tlb *TLB) {
	if as.cfg.UseTLB {
		tlb.InvalidateAll()
	}
}

// Close releases the swap file, if one was ever opened.
func (as *AddressSpace) Close() error {
	if as.swap == nil {
		return nil
	}
	return as.swap.Close()
}
