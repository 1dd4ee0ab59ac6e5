package syscall

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"nachos/config"
	"nachos/internal/fs"
	"nachos/internal/kernel"
	"nachos/internal/loader"
	"nachos/internal/machine"
	"nachos/internal/stats"
	"nachos/internal/vm"
)

// writeNOFF builds a minimal valid NOFF file with no segments, mirroring
// internal/loader's own test helper: every address in the resulting
// address space falls in the zero-filled stack/BSS region, which is all
// these tests need to stash user strings and buffers.
func writeNOFF(t *testing.T, dir string) string {
	t.Helper()
	buf := make([]byte, 4+3*12)
	binary.LittleEndian.PutUint32(buf[0:4], 0xbadfad)
	path := filepath.Join(dir, "prog.noff")
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		t.Fatalf("writing test NOFF file: %v", err)
	}
	return path
}

// testHarness bundles a formatted file system, a dispatcher, and a single
// process ready to issue syscalls, run inside a forked kernel thread (every
// subsystem here requires a *kernel.Thread context to acquire its locks).
type testHarness struct {
	dir   string
	sched *kernel.Scheduler
	disk  *machine.Disk
	fsys  *fs.FileSystem
	d     *Dispatcher
	proc  *Process
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	dir := t.TempDir()
	sched := kernel.NewScheduler()
	st := stats.New()

	disk, err := machine.NewDisk(filepath.Join(dir, "disk.img"), 128, sched, st)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}

	execPath := writeNOFF(t, dir)
	exe, err := loader.Load(execPath)
	if err != nil {
		t.Fatalf("loader.Load: %v", err)
	}

	mem := vm.NewMemory(64)
	mem.SetStats(st)
	cfg := config.Default()
	cfg.UseTLB = false
	cfg.DemandLoading = false

	as, err := vm.NewAddressSpace(exe, mem, cfg, filepath.Join(dir, "swap"))
	if err != nil {
		t.Fatalf("NewAddressSpace: %v", err)
	}

	console := machine.NewSynchConsole(os.Stdin, os.Stdout, sched, st)

	h := &testHarness{dir: dir, sched: sched, disk: disk}

	boot := kernel.NewThread("boot", 1, kernel.NumPriorityLevels/2)
	sched.Fork(boot, func(self *kernel.Thread) int {
		fsys, err := fs.Format(self, disk, sched, 8, st)
		if err != nil {
			t.Errorf("Format: %v", err)
			return 0
		}
		h.fsys = fsys
		h.d = NewDispatcher(cfg, fsys, sched, mem, nil, console, st, dir)
		h.proc = &Process{
			Thread:    boot,
			AS:        as,
			cwdStack:  []int{fsys.RootSectorOf()},
			openFiles: make(map[int]*fs.OpenFile),
			nextFD:    2,
		}
		return 0
	})
	sched.Run()
	return h
}

func (h *testHarness) close() {
	h.disk.Close()
}

// runOnSelf forks a throwaway thread to run body with a live *kernel.Thread
// context, blocking until it returns, so each syscall under test gets the
// thread argument every fs/vm/machine call requires.
func (h *testHarness) runOnSelf(body func(self *kernel.Thread)) {
	t := kernel.NewThread("worker", h.proc.Thread.Pid, kernel.NumPriorityLevels/2)
	h.sched.Fork(t, func(self *kernel.Thread) int {
		body(self)
		return 0
	})
	h.sched.Run()
}

func TestCreateOpenWriteReadRoundTrip(t *testing.T) {
	h := newTestHarness(t)
	defer h.close()

	const pathVaddr = 0
	const writeVaddr = 64
	const readVaddr = 96

	h.runOnSelf(func(self *kernel.Thread) {
		if err := WriteStringToUser(h.proc, nil, h.d.mem, pathVaddr, "greeting"); err != nil {
			t.Fatalf("WriteStringToUser: %v", err)
		}

		if rc := h.d.Dispatch(self, h.proc, SC_Create, [4]int{pathVaddr, 0, 0, 0}); rc != 0 {
			t.Fatalf("SC_Create = %d, want 0", rc)
		}

		fd := h.d.Dispatch(self, h.proc, SC_Open, [4]int{pathVaddr, 0, 0, 0})
		if fd < 2 {
			t.Fatalf("SC_Open = %d, want a valid fd", fd)
		}

		if err := WriteBufferToUser(h.proc, nil, h.d.mem, writeVaddr, []byte("hi")); err != nil {
			t.Fatalf("WriteBufferToUser: %v", err)
		}
		if n := h.d.Dispatch(self, h.proc, SC_Write, [4]int{writeVaddr, 2, fd, 0}); n != 2 {
			t.Fatalf("SC_Write = %d, want 2", n)
		}

		of := h.proc.openFiles[fd]
		of.Seek(0)

		if n := h.d.Dispatch(self, h.proc, SC_Read, [4]int{readVaddr, 2, fd, 0}); n != 2 {
			t.Fatalf("SC_Read = %d, want 2", n)
		}
		got, err := ReadBufferFromUser(h.proc, nil, h.d.mem, readVaddr, 2)
		if err != nil {
			t.Fatalf("ReadBufferFromUser: %v", err)
		}
		if string(got) != "hi" {
			t.Fatalf("round-tripped bytes = %q, want %q", got, "hi")
		}

		if rc := h.d.Dispatch(self, h.proc, SC_Close, [4]int{fd, 0, 0, 0}); rc != 0 {
			t.Fatalf("SC_Close = %d, want 0", rc)
		}
		if msg := h.fsys.Check(self); msg != "" {
			t.Fatalf("Check() after close = %q, want clean", msg)
		}
	})
}

func TestRemoveDeferredWhileOpenViaSyscalls(t *testing.T) {
	h := newTestHarness(t)
	defer h.close()

	const pathVaddr = 0

	h.runOnSelf(func(self *kernel.Thread) {
		if err := WriteStringToUser(h.proc, nil, h.d.mem, pathVaddr, "doomed"); err != nil {
			t.Fatalf("WriteStringToUser: %v", err)
		}
		if rc := h.d.Dispatch(self, h.proc, SC_Create, [4]int{pathVaddr, 0, 0, 0}); rc != 0 {
			t.Fatalf("SC_Create = %d, want 0", rc)
		}

		fd := h.d.Dispatch(self, h.proc, SC_Open, [4]int{pathVaddr, 0, 0, 0})
		if fd < 2 {
			t.Fatalf("SC_Open = %d", fd)
		}

		if rc := h.d.Dispatch(self, h.proc, SC_Remove, [4]int{pathVaddr, 0, 0, 0}); rc != 0 {
			t.Fatalf("SC_Remove = %d, want 0", rc)
		}

		names := h.fsys.List(self, h.proc.Cwd())
		for _, n := range names {
			if n == "doomed" {
				t.Fatal("removed file still appears in the directory listing")
			}
		}

		if rc := h.d.Dispatch(self, h.proc, SC_Close, [4]int{fd, 0, 0, 0}); rc != 0 {
			t.Fatalf("SC_Close = %d, want 0", rc)
		}
		if msg := h.fsys.Check(self); msg != "" {
			t.Fatalf("Check() after final close = %q, want clean", msg)
		}
	})
}

func TestExecAndJoinReturnsExitStatus(t *testing.T) {
	h := newTestHarness(t)
	defer h.close()

	var joinResult int
	h.runOnSelf(func(self *kernel.Thread) {
		child, err := h.d.Spawn(self, filepath.Join(h.dir, "prog.noff"), nil, true, kernel.NumPriorityLevels/2)
		if err != nil {
			t.Fatalf("Spawn: %v", err)
		}
		joinResult = h.d.Dispatch(self, h.proc, SC_Join, [4]int{child.Thread.Pid, 0, 0, 0})
	})

	if joinResult != 0 {
		t.Fatalf("Join result = %d, want 0 (default exit status)", joinResult)
	}
}

func TestJoinUnknownPidFails(t *testing.T) {
	h := newTestHarness(t)
	defer h.close()

	var result int
	h.runOnSelf(func(self *kernel.Thread) {
		result = h.d.Dispatch(self, h.proc, SC_Join, [4]int{9999, 0, 0, 0})
	})
	if result != -1 {
		t.Fatalf("Join on an unknown pid = %d, want -1", result)
	}
}

func TestCdAndLs(t *testing.T) {
	h := newTestHarness(t)
	defer h.close()

	h.runOnSelf(func(self *kernel.Thread) {
		if err := WriteStringToUser(h.proc, nil, h.d.mem, 0, "sub"); err != nil {
			t.Fatal(err)
		}
		if rc := h.d.Dispatch(self, h.proc, SC_Create, [4]int{0, 0, 0, 0}); rc != 0 {
			t.Fatalf("SC_Create sub: %d", rc)
		}
		// Recreate "sub" as a directory directly through the file system,
		// since SC_Create's syscall ABI has no isDir argument.
		if err := h.fsys.Remove(self, h.proc.Cwd(), "sub"); err != nil {
			t.Fatalf("Remove sub file: %v", err)
		}
		if err := h.fsys.Create(self, h.proc.Cwd(), "sub", 0, true); err != nil {
			t.Fatalf("Create sub dir: %v", err)
		}

		if rc := h.d.Dispatch(self, h.proc, SC_Cd, [4]int{0, 0, 0, 0}); rc != 0 {
			t.Fatalf("SC_Cd = %d, want 0", rc)
		}
		if got := h.proc.Cwd(); got == h.fsys.RootSectorOf() {
			t.Fatal("Cd into sub did not change the current directory")
		}

		if n := h.d.Dispatch(self, h.proc, SC_Ls, [4]int{0, 0, 0, 0}); n != 0 {
			t.Fatalf("SC_Ls inside the freshly created sub dir = %d entries, want 0", n)
		}

		if err := WriteStringToUser(h.proc, nil, h.d.mem, 0, ".."); err != nil {
			t.Fatal(err)
		}
		if rc := h.d.Dispatch(self, h.proc, SC_Cd, [4]int{0, 0, 0, 0}); rc != 0 {
			t.Fatalf("SC_Cd .. = %d, want 0", rc)
		}
		if got := h.proc.Cwd(); got != h.fsys.RootSectorOf() {
			t.Fatal("Cd .. did not return to the root directory")
		}
	})
}
