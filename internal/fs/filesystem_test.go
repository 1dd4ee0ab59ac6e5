package fs_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	. "github.com/jacobsa/ogletest"

	"nachos/internal/fs"
	"nachos/internal/kernel"
	"nachos/internal/machine"
	"nachos/internal/stats"
)

func containsString(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}

func TestFileSystem(t *testing.T) { RunTests(t) }

type FileSystemTest struct {
	dir  string
	disk *machine.Disk
	sc   *kernel.Scheduler
	fsys *fs.FileSystem
}

func init() { RegisterTestSuite(&FileSystemTest{}) }

// withFS runs body as a forked kernel thread against a freshly formatted
// file system, then blocks until it returns. Every FileSystem operation
// requires a *kernel.Thread context, so tests drive them the same way
// cmd/nachos's boot thread does.
func (t *FileSystemTest) withFS(body func(self *kernel.Thread)) {
	dir, err := os.MkdirTemp("", "nachos-fs-test")
	AssertEq(nil, err)
	t.dir = dir

	t.sc = kernel.NewScheduler()
	st := stats.New()

	disk, err := machine.NewDisk(filepath.Join(dir, "disk.img"), 128, t.sc, st)
	AssertEq(nil, err)
	t.disk = disk

	boot := kernel.NewThread("boot", -1, kernel.NumPriorityLevels/2)
	t.sc.Fork(boot, func(self *kernel.Thread) int {
		fsys, err := fs.Format(self, disk, t.sc, 8, st)
		AssertEq(nil, err)
		t.fsys = fsys

		body(self)
		return 0
	})
	t.sc.Run()
}

func (t *FileSystemTest) TearDown() {
	if t.disk != nil {
		t.disk.Close()
	}
	if t.dir != "" {
		os.RemoveAll(t.dir)
	}
}

func (t *FileSystemTest) CreateWriteReadRoundTrip() {
	t.withFS(func(self *kernel.Thread) {
		AssertEq(nil, t.fsys.Create(self, t.fsys.RootSectorOf(), "hello", 0, false))

		of, err := t.fsys.Open(self, t.fsys.RootSectorOf(), "hello")
		AssertEq(nil, err)

		payload := []byte("hello, nachos")
		n, err := of.Write(self, payload)
		AssertEq(nil, err)
		ExpectEq(len(payload), n)

		of.Seek(0)
		buf := make([]byte, len(payload))
		n, err = of.Read(self, buf)
		AssertEq(nil, err)
		ExpectEq(len(payload), n)
		ExpectEq(string(payload), string(buf))

		t.fsys.CloseAndMaybeFree(self, of)
		ExpectEq("", t.fsys.Check(self))
	})
}

func (t *FileSystemTest) ExtendAcrossIndirectBoundary() {
	t.withFS(func(self *kernel.Thread) {
		AssertEq(nil, t.fsys.Create(self, t.fsys.RootSectorOf(), "big", 0, false))
		of, err := t.fsys.Open(self, t.fsys.RootSectorOf(), "big")
		AssertEq(nil, err)

		// NumDirect direct sectors' worth, plus a bit more to force the
		// single-indirect block into use.
		payload := make([]byte, (fs.NumDirect+4)*machine.SectorSize)
		for i := range payload {
			payload[i] = byte(i)
		}

		n, err := of.Write(self, payload)
		AssertEq(nil, err)
		ExpectEq(len(payload), n)
		ExpectTrue(of.Length() > fs.NumDirect*machine.SectorSize)

		of.Seek(0)
		readBack := make([]byte, len(payload))
		n, err = of.Read(self, readBack)
		AssertEq(nil, err)
		ExpectEq(len(payload), n)
		ExpectTrue(bytes.Equal(readBack, payload))

		t.fsys.CloseAndMaybeFree(self, of)
	})
}

func (t *FileSystemTest) DirectoriesAndListing() {
	t.withFS(func(self *kernel.Thread) {
		root := t.fsys.RootSectorOf()
		AssertEq(nil, t.fsys.Create(self, root, "sub", 0, true))
		AssertEq(nil, t.fsys.Create(self, root, "sub/child", 0, false))

		names := t.fsys.List(self, root)
		ExpectTrue(containsString(names, "sub"))

		subDir, _, err := t.resolveDir(self, "sub")
		AssertEq(nil, err)
		ExpectTrue(containsString(t.fsys.List(self, subDir), "child"))
	})
}

// resolveDir is a small test helper that walks a single path component from
// root via Open's sibling traversal logic, used only to hand DirectoriesAndListing
// a sector to call List on.
func (t *FileSystemTest) resolveDir(self *kernel.Thread, name string) (int, string, error) {
	dir := t.fsys.OpenDirBySector(self, t.fsys.RootSectorOf())
	sector := dir.Find(name)
	if sector == -1 {
		return 0, "", os.ErrNotExist
	}
	return sector, name, nil
}

func (t *FileSystemTest) RemoveIsDeferredWhileOpen() {
	t.withFS(func(self *kernel.Thread) {
		root := t.fsys.RootSectorOf()
		AssertEq(nil, t.fsys.Create(self, root, "doomed", 0, false))

		of, err := t.fsys.Open(self, root, "doomed")
		AssertEq(nil, err)

		AssertEq(nil, t.fsys.Remove(self, root, "doomed"))
		ExpectFalse(containsString(t.fsys.List(self, root), "doomed"))

		// The header is still live on disk until the last handle closes.
		_, err = of.Write(self, []byte("still writable"))
		ExpectEq(nil, err)

		t.fsys.CloseAndMaybeFree(self, of)
		ExpectEq("", t.fsys.Check(self))
	})
}

func (t *FileSystemTest) RemoveNonexistentFails() {
	t.withFS(func(self *kernel.Thread) {
		err := t.fsys.Remove(self, t.fsys.RootSectorOf(), "nope")
		ExpectNe(nil, err)
	})
}
