package fs

import (
	"nachos/internal/kernel"
	"nachos/internal/machine"
)

// OpenFile is an in-memory cursor over an on-disk file: a {owning sector,
// current position} pair with a cached FileHeader, per SPEC_FULL.md §3/§4.7.
// Multiple OpenFiles may refer to the same on-disk file; coordination
// between them goes through the OpenFileRegistry, not through OpenFile
// itself — OpenFile owns only its own cursor.
type OpenFile struct {
	disk         *machine.Disk
	registry     *OpenFileRegistry
	headerSector int
	header       *FileHeader
	position     int

	// freeMap and bitmapLock, when non-nil, let WriteAt extend the file
	// past its current length (SPEC_FULL.md §4.3's "bitmap_lock protects
	// the free-map ... every allocate/deallocate sequence acquires it").
	// Left nil for the free-map file, which never grows past its boot-time
	// size. Directory files opened by FileSystem get them too, but their
	// fixed-size tables never write past the end.
	freeMap    *Bitmap
	bitmapLock *kernel.Lock
}

// SetGrowable attaches the free map and the lock guarding it, enabling
// WriteAt to extend this file past its current length.
func (f *OpenFile) SetGrowable(freeMap *Bitmap, bitmapLock *kernel.Lock) {
	f.freeMap = freeMap
	f.bitmapLock = bitmapLock
}

// openExistingFile constructs an OpenFile over a header already on disk at
// sector, without touching the registry (used internally to read the
// free-map and directory files, which are not subject to the
// reader/writer open-file protocol; FileSystem mutates them only under its
// own locks).
func openExistingFile(self *kernel.Thread, disk *machine.Disk, sector int) *OpenFile {
	h := NewFileHeader(disk)
	h.FetchFrom(self, sector)
	return &OpenFile{disk: disk, headerSector: sector, header: h}
}

// Open constructs an OpenFile over the header at sector and registers an
// open reference with registry. Callers must Close it exactly once.
func Open(self *kernel.Thread, disk *machine.Disk, registry *OpenFileRegistry, sector int) *OpenFile {
	of := openExistingFile(self, disk, sector)
	of.registry = registry
	registry.Open(self, sector)
	return of
}

// Close drops this OpenFile's open reference. Returns true if the
// underlying file was marked for deletion and this was the last
// reference, meaning the caller (FileSystem) should now free its sectors.
func (f *OpenFile) Close(self *kernel.Thread) bool {
	if f.registry == nil {
		return false
	}
	return f.registry.Close(self, f.headerSector)
}

// HeaderSector returns the sector of the file's FileHeader, used as the
// key into the open-file and subdirectory-lock registries.
func (f *OpenFile) HeaderSector() int { return f.headerSector }

// Length returns the file's current logical size in bytes.
func (f *OpenFile) Length() int { return f.header.SizeBytes() }

// Seek repositions the cursor, matching the spec's description of OpenFile
// as a {sector, position} pair.
func (f *OpenFile) Seek(pos int) { f.position = pos }

// Tell returns the current cursor position.
func (f *OpenFile) Tell() int { return f.position }

// Read reads up to len(buf) bytes starting at the current cursor,
// advancing it, and coordinating with concurrent writers through the
// registry's reader token (if this OpenFile is registry-backed).
func (f *OpenFile) Read(self *kernel.Thread, buf []byte) (int, error) {
	n, err := f.ReadAt(self, buf, len(buf), f.position)
	f.position += n
	return n, err
}

// Write writes len(buf) bytes at the current cursor, advancing it.
func (f *OpenFile) Write(self *kernel.Thread, buf []byte) (int, error) {
	n, err := f.WriteAt(self, buf, len(buf), f.position)
	f.position += n
	return n, err
}

// ReadAt reads up to n bytes starting at byte offset pos, without
// affecting the cursor. Returns 0 if pos is at or past the end of the
// file; clamps n to the bytes actually available. Grounded on
// original_source/code/filesys/open_file.cc and SPEC_FULL.md §4.7.
func (f *OpenFile) ReadAt(self *kernel.Thread, buf []byte, n int, pos int) (int, error) {
	length := f.header.SizeBytes()
	if pos >= length {
		return 0, nil
	}
	if pos+n > length {
		n = length - pos
	}
	if n <= 0 {
		return 0, nil
	}

	if f.registry != nil {
		f.registry.AcquireRead(self, f.headerSector)
		defer f.registry.ReleaseRead(self, f.headerSector)
	}

	firstSector := pos / machine.SectorSize
	lastSector := (pos + n - 1) / machine.SectorSize

	sectorBuf := make([]byte, machine.SectorSize)
	written := 0
	for s := firstSector; s <= lastSector; s++ {
		sector := f.header.ByteToSector(self, s*machine.SectorSize)
		f.disk.ReadSector(self, sector, sectorBuf)

		sectorStart := s * machine.SectorSize
		from := 0
		if s == firstSector {
			from = pos - sectorStart
		}
		to := machine.SectorSize
		if s == lastSector {
			to = (pos + n) - sectorStart
		}
		copied := copy(buf[written:], sectorBuf[from:to])
		written += copied
	}

	return written, nil
}

// WriteAt writes n bytes from buf at byte offset pos, extending the file
// (and writing back the free map and its header) first if the write would
// go past the current length. Misaligned first/last sectors are read first so
// unmodified bytes in the same sector are preserved. Each sector write
// happens under the registry's writer lock.
func (f *OpenFile) WriteAt(self *kernel.Thread, buf []byte, n int, pos int) (int, error) {
	length := f.header.SizeBytes()
	if pos+n > length {
		if f.freeMap == nil {
			panic("fs: WriteAt extending a non-growable file")
		}
		f.bitmapLock.Acquire(self)
		err := f.header.Extend(self, f.freeMap, pos+n-length)
		if err == nil {
			err = f.freeMap.WriteBack(self, openExistingFile(self, f.disk, FreeMapSector))
		}
		f.bitmapLock.Release(self)
		if err != nil {
			return 0, err
		}
		f.header.WriteBack(self, f.headerSector)
	}

	if f.registry != nil {
		f.registry.AcquireWrite(self, f.headerSector)
		defer f.registry.ReleaseWrite(self, f.headerSector)
	}

	firstSector := pos / machine.SectorSize
	lastSector := (pos + n - 1) / machine.SectorSize

	sectorBuf := make([]byte, machine.SectorSize)
	written := 0
	for s := firstSector; s <= lastSector; s++ {
		sector := f.header.ByteToSector(self, s*machine.SectorSize)
		sectorStart := s * machine.SectorSize

		from := 0
		if s == firstSector {
			from = pos - sectorStart
		}
		to := machine.SectorSize
		if s == lastSector {
			to = (pos + n) - sectorStart
		}

		// A partial sector (not the full [0, SectorSize) range) must be
		// read first so bytes outside [from, to) survive the write.
		if from != 0 || to != machine.SectorSize {
			f.disk.ReadSector(self, sector, sectorBuf)
		}

		copy(sectorBuf[from:to], buf[written:])
		f.disk.WriteSector(self, sector, sectorBuf)
		written += to - from
	}

	return written, nil
}
