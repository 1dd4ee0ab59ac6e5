package vm_test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"nachos/config"
	"nachos/internal/loader"
	"nachos/internal/vm"
)

// writeNOFF builds a minimal valid NOFF file with only a code segment,
// mirroring internal/loader's own test helper.
func writeNOFF(t *testing.T, dir string, code []byte) string {
	t.Helper()
	const headerLen = 4 + 3*12
	codeOffset := headerLen
	buf := make([]byte, headerLen+len(code))

	binary.LittleEndian.PutUint32(buf[0:4], 0xbadfad)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(code)))
	binary.LittleEndian.PutUint32(buf[8:12], 0)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(codeOffset))
	copy(buf[codeOffset:], code)

	path := filepath.Join(dir, "prog.noff")
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		t.Fatalf("writing test NOFF file: %v", err)
	}
	return path
}

func loadTestExecutable(t *testing.T, code []byte) *loader.Executable {
	t.Helper()
	dir := t.TempDir()
	path := writeNOFF(t, dir, code)
	exe, err := loader.Load(path)
	if err != nil {
		t.Fatalf("loader.Load: %v", err)
	}
	return exe
}

func TestNewAddressSpaceEagerLoadPopulatesAllPages(t *testing.T) {
	code := make([]byte, vm.PageSize) // exactly one code page
	for i := range code {
		code[i] = byte(i)
	}
	exe := loadTestExecutable(t, code)
	defer exe.Close()

	mem := vm.NewMemory(32)
	cfg := config.Default()
	cfg.DemandLoading = false
	cfg.UseTLB = false

	as, err := vm.NewAddressSpace(exe, mem, cfg, "")
	if err != nil {
		t.Fatalf("NewAddressSpace: %v", err)
	}
	defer as.Close()

	entry, ok := as.CheckPageInMemory(0)
	if !ok || !entry.Valid {
		t.Fatal("eager-loaded address space's first page is not resident")
	}

	frame, offset, err := as.Translate(nil, 5, false)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if offset != 5 {
		t.Fatalf("offset = %d, want 5", offset)
	}
	if got := mem.Frame(frame)[offset]; got != 5 {
		t.Fatalf("byte at vaddr 5 = %d, want 5", got)
	}
}

func TestHandlePageFaultDemandLoadsFromExecutable(t *testing.T) {
	code := make([]byte, vm.PageSize)
	code[10] = 0xaa
	exe := loadTestExecutable(t, code)
	defer exe.Close()

	mem := vm.NewMemory(32)
	cfg := config.Default()
	cfg.DemandLoading = true
	cfg.UseTLB = false

	as, err := vm.NewAddressSpace(exe, mem, cfg, "")
	if err != nil {
		t.Fatalf("NewAddressSpace: %v", err)
	}
	defer as.Close()

	if _, ok := as.CheckPageInMemory(0); ok {
		t.Fatal("demand-loaded address space should start with no resident pages")
	}

	frame, offset, err := as.Translate(nil, 10, false)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got := mem.Frame(frame)[offset]; got != 0xaa {
		t.Fatalf("faulted-in byte = %#x, want 0xaa", got)
	}

	if _, ok := as.CheckPageInMemory(0); !ok {
		t.Fatal("page should be resident after the fault resolved")
	}
}

func TestTranslateOutOfRangeFails(t *testing.T) {
	exe := loadTestExecutable(t, make([]byte, vm.PageSize))
	defer exe.Close()

	mem := vm.NewMemory(32)
	cfg := config.Default()
	cfg.UseTLB = false
	as, err := vm.NewAddressSpace(exe, mem, cfg, "")
	if err != nil {
		t.Fatalf("NewAddressSpace: %v", err)
	}
	defer as.Close()

	hugeOffset := as.NumPages() * vm.PageSize
	if _, _, err := as.Translate(nil, hugeOffset, false); err == nil {
		t.Fatal("Translate on an out-of-range address did not fail")
	}
}

func TestSwitchOutSavesUseDirtyBitsFromTLB(t *testing.T) {
	exe := loadTestExecutable(t, make([]byte, vm.PageSize))
	defer exe.Close()

	mem := vm.NewMemory(32)
	cfg := config.Default()
	cfg.UseTLB = true
	cfg.DemandLoading = false
	as, err := vm.NewAddressSpace(exe, mem, cfg, "")
	if err != nil {
		t.Fatalf("NewAddressSpace: %v", err)
	}
	defer as.Close()

	tlb := vm.NewTLB()
	if _, _, err := as.Translate(tlb, 0, true); err != nil {
		t.Fatalf("Translate: %v", err)
	}

	as.SwitchOut(tlb)

	entry, ok := as.CheckPageInMemory(0)
	if !ok || !entry.Dirty {
		t.Fatalf("page table entry after SwitchOut = %+v, want Dirty=true", entry)
	}
	if entries := tlb.Entries(); len(entries) != 0 {
		t.Fatal("SwitchOut did not clear the TLB")
	}
}
