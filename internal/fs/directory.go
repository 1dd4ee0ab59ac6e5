package fs

import (
	"encoding/binary"
	"fmt"
	"strings"

	"nachos/internal/kernel"
)

// MaxNameLen is the maximum length of one path component, per
// SPEC_FULL.md §3 (a 9-byte name plus a null terminator in the 10-byte
// on-disk field).
const MaxNameLen = 9

const dirEntryByteWidth = 1 + 1 + 4 + 10 // inUse, isDirectory, sector, name[10]

// DirectoryEntry is one slot in a directory table, grounded on the
// "Directory entry" layout in SPEC_FULL.md §6.
type DirectoryEntry struct {
	InUse       bool
	IsDirectory bool
	Sector      int32
	Name        string
}

// Directory is a fixed-size table of entries, serialized through an
// OpenFile the same way the free-map bitmap is (SPEC_FULL.md §4.4).
// Its size is fixed at creation; dynamic growth is out of scope.
type Directory struct {
	entries []DirectoryEntry
}

// NewDirectory returns an empty directory table with numEntries slots.
func NewDirectory(numEntries int) *Directory {
	return &Directory{entries: make([]DirectoryEntry, numEntries)}
}

// FetchFrom reads the directory table from file.
func (d *Directory) FetchFrom(self *kernel.Thread, file *OpenFile) error {
	buf := make([]byte, len(d.entries)*dirEntryByteWidth)
	n, err := file.ReadAt(self, buf, len(buf), 0)
	if err != nil {
		return err
	}
	buf = buf[:n]
	for i := range d.entries {
		off := i * dirEntryByteWidth
		if off+dirEntryByteWidth > len(buf) {
			break
		}
		d.entries[i] = unmarshalDirEntry(buf[off : off+dirEntryByteWidth])
	}
	return nil
}

// WriteBack writes the directory table to file.
func (d *Directory) WriteBack(self *kernel.Thread, file *OpenFile) error {
	buf := make([]byte, len(d.entries)*dirEntryByteWidth)
	for i, e := range d.entries {
		copy(buf[i*dirEntryByteWidth:], marshalDirEntry(e))
	}
	_, err := file.WriteAt(self, buf, len(buf), 0)
	return err
}

func marshalDirEntry(e DirectoryEntry) []byte {
	buf := make([]byte, dirEntryByteWidth)
	if e.InUse {
		buf[0] = 1
	}
	if e.IsDirectory {
		buf[1] = 1
	}
	binary.LittleEndian.PutUint32(buf[2:], uint32(e.Sector))
	name := e.Name
	if len(name) > MaxNameLen {
		name = name[:MaxNameLen]
	}
	copy(buf[6:], name)
	return buf
}

func unmarshalDirEntry(buf []byte) DirectoryEntry {
	e := DirectoryEntry{
		InUse:       buf[0] != 0,
		IsDirectory: buf[1] != 0,
		Sector:      int32(binary.LittleEndian.Uint32(buf[2:])),
	}
	nameBytes := buf[6:16]
	n := strings.IndexByte(string(nameBytes), 0)
	if n < 0 {
		n = len(nameBytes)
	}
	e.Name = string(nameBytes[:n])
	return e
}

// Find returns the sector of the entry named name, or -1 if no such entry
// exists. Linear scan, per SPEC_FULL.md §4.4.
func (d *Directory) Find(name string) int {
	for _, e := range d.entries {
		if e.InUse && e.Name == name {
			return int(e.Sector)
		}
	}
	return -1
}

// IsDirectory is the inverse lookup: it reports whether the entry pointing
// at sector is itself marked as a directory.
func (d *Directory) IsDirectory(sector int) bool {
	for _, e := range d.entries {
		if e.InUse && int(e.Sector) == sector {
			return e.IsDirectory
		}
	}
	return false
}

// Add inserts a new entry. Fails if name is too long or there is no empty
// slot.
func (d *Directory) Add(name string, sector int, isDirectory bool) error {
	if len(name) > MaxNameLen {
		return fmt.Errorf("%w: %q", ErrNameTooLong, name)
	}
	if d.Find(name) != -1 {
		return fmt.Errorf("%w: %q", ErrExists, name)
	}
	for i, e := range d.entries {
		if !e.InUse {
			d.entries[i] = DirectoryEntry{
				InUse:       true,
				IsDirectory: isDirectory,
				Sector:      int32(sector),
				Name:        name,
			}
			return nil
		}
	}
	return fmt.Errorf("%w", ErrDirectoryFull)
}

// Remove clears the in_use bit of the entry named name.
func (d *Directory) Remove(name string) error {
	for i, e := range d.entries {
		if e.InUse && e.Name == name {
			d.entries[i] = DirectoryEntry{}
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrNotFound, name)
}

// List returns the names of every in-use entry, for diagnostics.
func (d *Directory) List() []string {
	var names []string
	for _, e := range d.entries {
		if e.InUse {
			names = append(names, e.Name)
		}
	}
	return names
}

// Entries returns every in-use entry, for recursive removal and checking.
func (d *Directory) Entries() []DirectoryEntry {
	var out []DirectoryEntry
	for _, e := range d.entries {
		if e.InUse {
			out = append(out, e)
		}
	}
	return out
}

// Print renders the directory table for diagnostics, mirroring the
// original's Directory::Print.
func (d *Directory) Print() string {
	var sb strings.Builder
	for _, e := range d.entries {
		if !e.InUse {
			continue
		}
		kind := "file"
		if e.IsDirectory {
			kind = "dir"
		}
		fmt.Fprintf(&sb, "%s\tsector %d\t%s\n", e.Name, e.Sector, kind)
	}
	return sb.String()
}
