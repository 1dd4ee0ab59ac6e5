package vm

// TLBSize is the number of entries in the software-managed TLB, matching
// original_source/code/machine/mmu.hh's TLB_SIZE.
const TLBSize = 4

// TLBEntry mirrors the fields of a page-table entry that the hardware
// consults on every memory reference.
type TLBEntry struct {
	VirtualPage  int
	PhysicalPage int
	Valid        bool
	ReadOnly     bool
	Use          bool
	Dirty        bool
}

// TLB is the single hardware translation cache shared by whichever
// address space is currently running; at most one process runs at a time
// under cooperative scheduling, so there is exactly one TLB to manage, not
// one per address space. Refill is round-robin, per SPEC_FULL.md §4.10.
type TLB struct {
	entries [TLBSize]TLBEntry
	valid   [TLBSize]bool
	next    int
}

// NewTLB returns an empty TLB.
func NewTLB() *TLB { return &TLB{} }

// Lookup returns the entry for vpn and true if present.
func (t *TLB) Lookup(vpn int) (TLBEntry, bool) {
	for i, v := range t.valid {
		if v && t.entries[i].VirtualPage == vpn {
			return t.entries[i], true
		}
	}
	return TLBEntry{}, false
}

// MarkUse records a use (and, if writing, a dirty) reference against vpn's
// TLB entry, if still present.
func (t *TLB) MarkUse(vpn int, writing bool) {
	for i, v := range t.valid {
		if v && t.entries[i].VirtualPage == vpn {
			t.entries[i].Use = true
			if writing {
				t.entries[i].Dirty = true
			}
			return
		}
	}
}

// InvalidateEntryFor clears vpn's TLB entry, if present, used when a page
// is evicted from memory.
func (t *TLB) InvalidateEntryFor(vpn int) {
	for i, v := range t.valid {
		if v && t.entries[i].VirtualPage == vpn {
			t.valid[i] = false
			return
		}
	}
}

// InvalidateAll clears every entry, used on a context switch: the next
// process's translations are unrelated, per SPEC_FULL.md §4.10's "on
// resume, invalidate all TLB entries".
func (t *TLB) InvalidateAll() {
	for i := range t.valid {
		t.valid[i] = false
	}
}

// Refill installs entry into the next round-robin slot, evicting whatever
// was there. Returns the evicted entry and whether it was valid, so the
// caller can write its use/dirty bits back to the owning page table before
// the slot is reused.
func (t *TLB) Refill(entry TLBEntry) (evicted TLBEntry, wasValid bool) {
	slot := t.next
	t.next = (t.next + 1) % TLBSize

	evicted, wasValid = t.entries[slot], t.valid[slot]
	t.entries[slot] = entry
	t.valid[slot] = true
	return evicted, wasValid
}

// Entries returns every currently valid entry, used when saving state back
// to the owning page table wholesale on a context switch.
func (t *TLB) Entries() []TLBEntry {
	var out []TLBEntry
	for i, v := range t.valid {
		if v {
			out = append(out, t.entries[i])
		}
	}
	return out
}
