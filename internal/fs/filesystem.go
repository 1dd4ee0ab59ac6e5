package fs

import (
	"fmt"

	"nachos/internal/kernel"
	"nachos/internal/machine"
	"nachos/internal/stats"
)

// FileSystem orchestrates the free-map bitmap, the directory tree, and the
// open-file registry, per SPEC_FULL.md §4.6. It is the kernel-context
// value every filesystem syscall is threaded through, in place of the
// original's process-wide fileSystem singleton (§9).
type FileSystem struct {
	disk  *machine.Disk
	sched *kernel.Scheduler
	stats *stats.Statistics

	numDirEntries int

	bitmapLock *kernel.Lock
	freeMap    *Bitmap

	openRegistry *OpenFileRegistry
	dirLocks     *SubdirectoryLockRegistry
}

// Format lays out a fresh file system on disk: a free-map file at
// FreeMapSector, an empty root directory at RootSector, both sectors
// marked allocated. Mirrors FileSystem::FileSystem(true) in the original.
func Format(self *kernel.Thread, disk *machine.Disk, sched *kernel.Scheduler, numDirEntries int, st *stats.Statistics) (*FileSystem, error) {
	freeMap := NewBitmap(disk.NumSectors())
	freeMap.Mark(FreeMapSector)
	freeMap.Mark(RootSector)

	freeMapFileSize := bitmapSectors(disk.NumSectors()) * machine.SectorSize
	freeMapHeader := NewFileHeader(disk)
	if err := freeMapHeader.Allocate(self, freeMap, freeMapFileSize); err != nil {
		return nil, fmt.Errorf("fs: allocating free-map file: %w", err)
	}
	freeMapHeader.WriteBack(self, FreeMapSector)

	rootDirFileSize := numDirEntries * dirEntryByteWidth
	rootHeader := NewFileHeader(disk)
	if err := rootHeader.Allocate(self, freeMap, rootDirFileSize); err != nil {
		return nil, fmt.Errorf("fs: allocating root directory: %w", err)
	}
	rootHeader.WriteBack(self, RootSector)

	fsys := &FileSystem{
		disk:          disk,
		sched:         sched,
		stats:         st,
		numDirEntries: numDirEntries,
		bitmapLock:    kernel.NewLock("freeMap", sched),
		freeMap:       freeMap,
		openRegistry:  NewOpenFileRegistry(sched),
		dirLocks:      NewSubdirectoryLockRegistry(sched),
	}

	freeMapFile := openExistingFile(self, disk, FreeMapSector)
	if err := freeMap.WriteBack(self, freeMapFile); err != nil {
		return nil, err
	}

	rootDir := NewDirectory(numDirEntries)
	rootDirFile := openExistingFile(self, disk, RootSector)
	if err := rootDir.WriteBack(self, rootDirFile); err != nil {
		return nil, err
	}

	return fsys, nil
}

// Mount loads an existing file system from disk, reading the free-map
// bitmap into memory. Mirrors FileSystem::FileSystem(false).
func Mount(self *kernel.Thread, disk *machine.Disk, sched *kernel.Scheduler, numDirEntries int, st *stats.Statistics) (*FileSystem, error) {
	fsys := &FileSystem{
		disk:          disk,
		sched:         sched,
		stats:         st,
		numDirEntries: numDirEntries,
		bitmapLock:    kernel.NewLock("freeMap", sched),
		freeMap:       NewBitmap(disk.NumSectors()),
		openRegistry:  NewOpenFileRegistry(sched),
		dirLocks:      NewSubdirectoryLockRegistry(sched),
	}

	freeMapFile := openExistingFile(self, disk, FreeMapSector)
	if err := fsys.freeMap.FetchFrom(self, freeMapFile); err != nil {
		return nil, err
	}

	return fsys, nil
}

// RootSectorOf returns the root directory sector, the initial current
// directory for every new process.
func (fsys *FileSystem) RootSectorOf() int { return RootSector }

// openDirFile opens the directory file at sector for internal traversal,
// without registering it in the open-file registry: directory tables are
// mutated only under their subdirectory lock, not under the general
// reader/writer protocol meant for user-visible file handles. Lookups and
// listings read them without taking any lock.
func (fsys *FileSystem) openDirFile(self *kernel.Thread, sector int) (*Directory, *OpenFile) {
	f := openExistingFile(self, fsys.disk, sector)
	f.SetGrowable(fsys.freeMap, fsys.bitmapLock)
	d := NewDirectory(fsys.numDirEntries)
	if err := d.FetchFrom(self, f); err != nil {
		panic(fmt.Sprintf("fs: reading directory at sector %d: %v", sector, err))
	}
	return d, f
}

// resolveParent walks path's intermediate components starting from
// cwdSector (or RootSector for an absolute path), returning the sector of
// the directory that should contain the leaf name, plus the leaf name
// itself. Mirrors SPEC_FULL.md §4.5.
func (fsys *FileSystem) resolveParent(self *kernel.Thread, cwdSector int, path string) (parentSector int, leaf string, err error) {
	absolute, components, leafName := splitPath(path)
	if leafName == "" {
		return 0, "", fmt.Errorf("%w: empty path", ErrNotFound)
	}

	cur := cwdSector
	if absolute {
		cur = RootSector
	}

	for _, name := range components {
		dir, _ := fsys.openDirFile(self, cur)
		sector := dir.Find(name)
		if sector == -1 {
			return 0, "", fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		if !dir.IsDirectory(sector) {
			return 0, "", fmt.Errorf("%w: %q", ErrNotADirectory, name)
		}
		cur = sector
	}

	return cur, leafName, nil
}

// Create creates a new file or, if isDir, a new directory, at path
// relative to cwdSector. Fails if the name already exists in the target
// directory, there is no free directory slot, or sector/data-block
// allocation fails; on any failure no on-disk state is changed.
func (fsys *FileSystem) Create(self *kernel.Thread, cwdSector int, path string, initialSize int, isDir bool) error {
	parentSector, leaf, err := fsys.resolveParent(self, cwdSector, path)
	if err != nil {
		return err
	}

	fsys.dirLocks.Acquire(self, parentSector)
	defer fsys.dirLocks.Release(self, parentSector)

	parentDir, parentFile := fsys.openDirFile(self, parentSector)
	if parentDir.Find(leaf) != -1 {
		return fmt.Errorf("%w: %q", ErrExists, leaf)
	}

	fsys.bitmapLock.Acquire(self)
	sector := fsys.freeMap.Find()
	fsys.bitmapLock.Release(self)
	if sector == -1 {
		return fmt.Errorf("%w: no free sector for header", ErrNoSpace)
	}

	size := initialSize
	if isDir {
		size = fsys.numDirEntries * dirEntryByteWidth
	}

	header := NewFileHeader(fsys.disk)
	fsys.bitmapLock.Acquire(self)
	allocErr := header.Allocate(self, fsys.freeMap, size)
	if allocErr != nil {
		fsys.freeMap.Clear(sector)
		fsys.bitmapLock.Release(self)
		return allocErr
	}
	fsys.bitmapLock.Release(self)

	if err := parentDir.Add(leaf, sector, isDir); err != nil {
		fsys.bitmapLock.Acquire(self)
		header.Deallocate(self, fsys.freeMap)
		fsys.freeMap.Clear(sector)
		fsys.bitmapLock.Release(self)
		return err
	}

	header.WriteBack(self, sector)

	if isDir {
		emptyDir := NewDirectory(fsys.numDirEntries)
		childFile := openExistingFile(self, fsys.disk, sector)
		if err := emptyDir.WriteBack(self, childFile); err != nil {
			panic(fmt.Sprintf("fs: writing new directory table: %v", err))
		}
		fsys.dirLocks.Register(self, sector)
	}

	if err := parentDir.WriteBack(self, parentFile); err != nil {
		panic(fmt.Sprintf("fs: writing parent directory: %v", err))
	}

	fsys.flushFreeMap(self)
	return nil
}

// Open opens path relative to cwdSector. Fails if the path does not exist
// or names a directory.
func (fsys *FileSystem) Open(self *kernel.Thread, cwdSector int, path string) (*OpenFile, error) {
	parentSector, leaf, err := fsys.resolveParent(self, cwdSector, path)
	if err != nil {
		return nil, err
	}

	parentDir, _ := fsys.openDirFile(self, parentSector)
	sector := parentDir.Find(leaf)
	if sector == -1 {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, leaf)
	}
	if parentDir.IsDirectory(sector) {
		return nil, fmt.Errorf("%w: %q", ErrIsADirectory, leaf)
	}

	of := Open(self, fsys.disk, fsys.openRegistry, sector)
	of.SetGrowable(fsys.freeMap, fsys.bitmapLock)
	return of, nil
}

// OpenDirBySector opens the directory at sector directly, for Cd/Ls
// support where the caller already has the sector (e.g. the process's cwd
// stack) rather than a path.
func (fsys *FileSystem) OpenDirBySector(self *kernel.Thread, sector int) *Directory {
	dir, _ := fsys.openDirFile(self, sector)
	return dir
}

// Remove removes path relative to cwdSector. If the target is a
// directory, its contents are removed recursively first. If the target
// header is currently open, it is marked for deferred deletion instead of
// being freed immediately; the parent directory entry is removed either
// way.
func (fsys *FileSystem) Remove(self *kernel.Thread, cwdSector int, path string) error {
	parentSector, leaf, err := fsys.resolveParent(self, cwdSector, path)
	if err != nil {
		return err
	}

	fsys.dirLocks.Acquire(self, parentSector)
	defer fsys.dirLocks.Release(self, parentSector)

	parentDir, parentFile := fsys.openDirFile(self, parentSector)
	sector := parentDir.Find(leaf)
	if sector == -1 {
		return fmt.Errorf("%w: %q", ErrNotFound, leaf)
	}

	if parentDir.IsDirectory(sector) {
		if err := fsys.removeDirectoryContents(self, sector); err != nil {
			return err
		}
	}

	if err := parentDir.Remove(leaf); err != nil {
		return err
	}
	if err := parentDir.WriteBack(self, parentFile); err != nil {
		panic(fmt.Sprintf("fs: writing parent directory: %v", err))
	}

	if deferred := fsys.openRegistry.MarkForDelete(self, sector); deferred {
		return nil
	}

	fsys.freeSector(self, sector)
	return nil
}

// removeDirectoryContents recursively removes every entry inside the
// directory at sector, using a full sector handle at each level rather
// than recursing on a sub-path name — the original's recursive remove
// path recurses on the bare sub-path name instead of a full path or
// parent-directory handle, which the spec's Open Questions (§9) flags as
// liable to misbehave for directories not rooted at the cwd; resolving by
// sector sidesteps that entirely.
func (fsys *FileSystem) removeDirectoryContents(self *kernel.Thread, dirSector int) error {
	dir, _ := fsys.openDirFile(self, dirSector)
	for _, e := range dir.Entries() {
		if e.IsDirectory {
			if err := fsys.removeDirectoryContents(self, int(e.Sector)); err != nil {
				return err
			}
		}
		fsys.freeSector(self, int(e.Sector))
	}
	return nil
}

// freeSector frees a header sector and all of its data blocks, flushing
// the free-map afterward.
func (fsys *FileSystem) freeSector(self *kernel.Thread, sector int) {
	header := NewFileHeader(fsys.disk)
	header.FetchFrom(self, sector)

	fsys.bitmapLock.Acquire(self)
	header.Deallocate(self, fsys.freeMap)
	fsys.freeMap.Clear(sector)
	fsys.bitmapLock.Release(self)

	fsys.flushFreeMap(self)
}

// flushFreeMap writes the in-memory free map back to its on-disk file,
// maintaining the invariant that the two agree whenever no mutating
// operation is in progress (SPEC_FULL.md §3/§8).
func (fsys *FileSystem) flushFreeMap(self *kernel.Thread) {
	fsys.bitmapLock.Acquire(self)
	freeMapFile := openExistingFile(self, fsys.disk, FreeMapSector)
	if err := fsys.freeMap.WriteBack(self, freeMapFile); err != nil {
		panic(fmt.Sprintf("fs: writing free map: %v", err))
	}
	fsys.bitmapLock.Release(self)
}

// CloseAndMaybeFree closes an OpenFile and, if it was the last reference
// to a file marked for deferred deletion, frees its sectors now.
func (fsys *FileSystem) CloseAndMaybeFree(self *kernel.Thread, of *OpenFile) {
	sector := of.HeaderSector()
	if of.Close(self) {
		fsys.freeSector(self, sector)
	}
}

// List returns the names of every entry in the directory at sector.
func (fsys *FileSystem) List(self *kernel.Thread, sector int) []string {
	dir, _ := fsys.openDirFile(self, sector)
	return dir.List()
}

// Print renders the directory at sector for diagnostics.
func (fsys *FileSystem) Print(self *kernel.Thread, sector int) string {
	dir, _ := fsys.openDirFile(self, sector)
	return dir.Print()
}

// Check validates bitmap/shadow-bitmap consistency and the structural
// invariants from SPEC_FULL.md §8: every sector is allocated iff it
// appears in exactly one live FileHeader (or is one of the two reserved
// sectors), and every header's sector count is within the maximum a
// header can represent. Returns a description of the first inconsistency
// found, or "" if none.
//
// Note: the original's equivalent check asserts numSectors < NUM_DIRECT,
// which is inconsistent with a file system that supports indirect blocks;
// per the REDESIGN FLAGS in SPEC_FULL.md §9, this implementation checks
// numSectors <= MaxFileSectors instead.
func (fsys *FileSystem) Check(self *kernel.Thread) string {
	shadow := NewBitmap(fsys.disk.NumSectors())
	shadow.Mark(FreeMapSector)
	shadow.Mark(RootSector)

	freeMapHeader := NewFileHeader(fsys.disk)
	freeMapHeader.FetchFrom(self, FreeMapSector)
	if msg := fsys.checkHeader(self, FreeMapSector, freeMapHeader, shadow); msg != "" {
		return msg
	}

	if msg := fsys.checkDirectory(self, RootSector, shadow); msg != "" {
		return msg
	}

	for i := 0; i < fsys.freeMap.NumBits(); i++ {
		if fsys.freeMap.Test(i) != shadow.Test(i) {
			return fmt.Sprintf("fs: sector %d allocation mismatch between free map and live headers", i)
		}
	}
	return ""
}

func (fsys *FileSystem) checkDirectory(self *kernel.Thread, sector int, shadow *Bitmap) string {
	header := NewFileHeader(fsys.disk)
	header.FetchFrom(self, sector)
	if msg := fsys.checkHeader(self, sector, header, shadow); msg != "" {
		return msg
	}

	dir, _ := fsys.openDirFile(self, sector)
	for _, e := range dir.Entries() {
		if e.IsDirectory {
			if msg := fsys.checkDirectory(self, int(e.Sector), shadow); msg != "" {
				return msg
			}
			continue
		}
		h := NewFileHeader(fsys.disk)
		h.FetchFrom(self, int(e.Sector))
		if msg := fsys.checkHeader(self, int(e.Sector), h, shadow); msg != "" {
			return msg
		}
	}
	return ""
}

func (fsys *FileSystem) checkHeader(self *kernel.Thread, sector int, h *FileHeader, shadow *Bitmap) string {
	if h.NumSectors() > MaxFileSectors {
		return fmt.Sprintf("fs: header at sector %d claims %d sectors, exceeding the maximum %d", sector, h.NumSectors(), MaxFileSectors)
	}
	if sector != FreeMapSector && sector != RootSector {
		if shadow.Test(sector) {
			return fmt.Sprintf("fs: sector %d (header) referenced by more than one live file", sector)
		}
		shadow.Mark(sector)
	}

	counts := countSectors(h.NumSectors())
	for i := 0; i < counts.direct; i++ {
		if msg := markShadow(shadow, int(h.direct[i])); msg != "" {
			return msg
		}
	}
	if counts.singleIndSect > 0 {
		if msg := markShadow(shadow, int(h.singleIndirect)); msg != "" {
			return msg
		}
		blk := readIndirect(self, fsys.disk, h.singleIndirect)
		for j := 0; j < counts.singleIndSect; j++ {
			if msg := markShadow(shadow, int(blk.entries[j])); msg != "" {
				return msg
			}
		}
	}
	if counts.doubleIndSect > 0 {
		if msg := markShadow(shadow, int(h.doubleIndirect)); msg != "" {
			return msg
		}
		dbl := readIndirect(self, fsys.disk, h.doubleIndirect)
		remaining := counts.doubleIndSect
		for t := 0; t < counts.innerTables; t++ {
			if msg := markShadow(shadow, int(dbl.entries[t])); msg != "" {
				return msg
			}
			inner := readIndirect(self, fsys.disk, dbl.entries[t])
			n := minInt(remaining, NumIndirect)
			for j := 0; j < n; j++ {
				if msg := markShadow(shadow, int(inner.entries[j])); msg != "" {
					return msg
				}
			}
			remaining -= n
		}
	}
	return ""
}

func markShadow(shadow *Bitmap, sector int) string {
	if shadow.Test(sector) {
		return fmt.Sprintf("fs: sector %d referenced by more than one live file", sector)
	}
	shadow.Mark(sector)
	return ""
}
