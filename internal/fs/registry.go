package fs

import "nachos/internal/kernel"

// openFileRegistryEntry is the process-wide record of one open file,
// keyed by its header sector, per SPEC_FULL.md §3's
// OpenFileRegistryEntry and §4.7's reader/writer coordination contract.
type openFileRegistryEntry struct {
	refCount    int
	toDelete    bool
	readerCount int

	lock      *kernel.Lock
	noReaders *kernel.Condition
}

// OpenFileRegistry tracks every currently open file by header sector,
// coordinating single-writer/multiple-reader access and deferred deletion.
// Grounded on the "open file table" family in
// original_source/code/filesys/open_file_table.cc (the spec's §9 notes
// that the retrieved sources show this table in several transitional
// forms; this is the consolidated map-keyed-by-sector contract from
// SPEC_FULL.md §4.7/§4.9's Open Questions resolution).
type OpenFileRegistry struct {
	mapLock *kernel.Lock
	sched   *kernel.Scheduler
	entries map[int]*openFileRegistryEntry
}

// NewOpenFileRegistry returns an empty registry.
func NewOpenFileRegistry(sched *kernel.Scheduler) *OpenFileRegistry {
	return &OpenFileRegistry{
		mapLock: kernel.NewLock("openFileRegistry", sched),
		sched:   sched,
		entries: make(map[int]*openFileRegistryEntry),
	}
}

// Open registers a new open reference to the file at headerSector,
// creating its registry entry on first open. Must be matched by a later
// Close.
func (r *OpenFileRegistry) Open(self *kernel.Thread, headerSector int) {
	r.mapLock.Acquire(self)
	defer r.mapLock.Release(self)

	e, ok := r.entries[headerSector]
	if !ok {
		e = &openFileRegistryEntry{lock: kernel.NewLock("openFile", r.sched)}
		e.noReaders = kernel.NewCondition("openFile.noReaders", e.lock, r.sched)
		r.entries[headerSector] = e
	}
	e.refCount++
}

// Close drops one open reference. If the reference count reaches zero and
// the file was marked for deletion, Close returns true so the caller can
// free the header sector and its data blocks; the registry entry is
// removed either way once the count reaches zero.
func (r *OpenFileRegistry) Close(self *kernel.Thread, headerSector int) (shouldDelete bool) {
	r.mapLock.Acquire(self)
	defer r.mapLock.Release(self)

	e, ok := r.entries[headerSector]
	if !ok {
		panic("fs: Close of a header sector with no open reference")
	}
	e.refCount--
	if e.refCount == 0 {
		shouldDelete = e.toDelete
		delete(r.entries, headerSector)
	}
	return
}

// MarkForDelete records that headerSector should be freed once its last
// reference closes. Returns true if the file is currently open, so the
// deletion is deferred; returns false if there is no current reference at
// all, meaning the caller should free it immediately instead.
func (r *OpenFileRegistry) MarkForDelete(self *kernel.Thread, headerSector int) (deferred bool) {
	r.mapLock.Acquire(self)
	defer r.mapLock.Release(self)

	e, ok := r.entries[headerSector]
	if !ok {
		return false
	}
	e.toDelete = true
	return true
}

func (r *OpenFileRegistry) entryFor(self *kernel.Thread, headerSector int) *openFileRegistryEntry {
	r.mapLock.Acquire(self)
	defer r.mapLock.Release(self)

	e, ok := r.entries[headerSector]
	if !ok {
		panic("fs: registry entry missing for an open file")
	}
	return e
}

// AcquireRead increments the reader count for headerSector. Concurrent
// readers proceed in parallel (SPEC_FULL.md §4.7/§5).
func (r *OpenFileRegistry) AcquireRead(self *kernel.Thread, headerSector int) {
	e := r.entryFor(self, headerSector)
	e.lock.Acquire(self)
	e.readerCount++
	e.lock.Release(self)
}

// ReleaseRead decrements the reader count, broadcasting "no readers" once
// it reaches zero so a waiting writer can proceed.
func (r *OpenFileRegistry) ReleaseRead(self *kernel.Thread, headerSector int) {
	e := r.entryFor(self, headerSector)
	e.lock.Acquire(self)
	e.readerCount--
	if e.readerCount == 0 {
		e.noReaders.Broadcast(self)
	}
	e.lock.Release(self)
}

// AcquireWrite takes the per-file lock and waits until the reader count
// reaches zero, guaranteeing the writer sees a quiescent file.
func (r *OpenFileRegistry) AcquireWrite(self *kernel.Thread, headerSector int) {
	e := r.entryFor(self, headerSector)
	e.lock.Acquire(self)
	for e.readerCount > 0 {
		e.noReaders.Wait(self)
	}
}

// ReleaseWrite releases the per-file lock taken by AcquireWrite.
func (r *OpenFileRegistry) ReleaseWrite(self *kernel.Thread, headerSector int) {
	e := r.entryFor(self, headerSector)
	e.lock.Release(self)
}

// subdirLockEntry is one entry in the subdirectory-lock registry
// (SPEC_FULL.md §3): a reference count and the lock guarding mutation of
// that directory's table.
type subdirLockEntry struct {
	refCount int
	lock     *kernel.Lock
}

// SubdirectoryLockRegistry guarantees at most one mutator of a given
// directory at a time, shared across threads, per SPEC_FULL.md §3/§4.6.
type SubdirectoryLockRegistry struct {
	mapLock *kernel.Lock
	sched   *kernel.Scheduler
	entries map[int]*subdirLockEntry
}

// NewSubdirectoryLockRegistry returns an empty registry.
func NewSubdirectoryLockRegistry(sched *kernel.Scheduler) *SubdirectoryLockRegistry {
	return &SubdirectoryLockRegistry{
		mapLock: kernel.NewLock("subdirLockRegistry", sched),
		sched:   sched,
		entries: make(map[int]*subdirLockEntry),
	}
}

// Register adds a fresh, zero-referenced entry for a newly created
// directory at headerSector, so FileSystem.Create can register a
// subdirectory's lock atomically with creating it (SPEC_FULL.md §4.6).
func (r *SubdirectoryLockRegistry) Register(self *kernel.Thread, headerSector int) {
	r.mapLock.Acquire(self)
	defer r.mapLock.Release(self)

	if _, ok := r.entries[headerSector]; ok {
		return
	}
	r.entries[headerSector] = &subdirLockEntry{lock: kernel.NewLock("dir", r.sched)}
}

// Acquire takes the lock for headerSector, registering the entry on first
// use (the root directory's lock, for instance, is never explicitly
// Register'd).
func (r *SubdirectoryLockRegistry) Acquire(self *kernel.Thread, headerSector int) {
	r.mapLock.Acquire(self)
	e, ok := r.entries[headerSector]
	if !ok {
		e = &subdirLockEntry{lock: kernel.NewLock("dir", r.sched)}
		r.entries[headerSector] = e
	}
	e.refCount++
	r.mapLock.Release(self)

	e.lock.Acquire(self)
}

// Release releases the lock for headerSector and drops the registry's
// reference to it, pruning the entry once nothing references it any more.
func (r *SubdirectoryLockRegistry) Release(self *kernel.Thread, headerSector int) {
	r.mapLock.Acquire(self)
	e, ok := r.entries[headerSector]
	if !ok {
		r.mapLock.Release(self)
		panic("fs: Release of a directory lock with no registry entry")
	}
	e.refCount--
	if e.refCount == 0 {
		delete(r.entries, headerSector)
	}
	r.mapLock.Release(self)

	e.lock.Release(self)
}
