// Package loader parses the executable format the VM subsystem consumes
// to populate a fresh address space: the NOFF ("Nachos Object File
// Format") header used throughout original_source, a magic number
// followed by three segment descriptors (code, initialized data,
// uninitialized data), per SPEC_FULL.md §4.11.
package loader

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
)

// noffMagic is the magic number identifying a little-endian NOFF header,
// grounded on the NOFFMAGIC constant used throughout the Nachos family
// (no surviving noff.hh in the retrieved original_source, so the magic is
// taken from the well-known Nachos constant rather than invented).
const noffMagic = 0xbadfad

// headerByteWidth is the on-disk size of the header: one magic uint32
// followed by three Segment descriptors, each three uint32 fields.
const headerByteWidth = 4 + 3*12

// Segment describes one contiguous region of an executable: its size in
// bytes, the virtual address it should be loaded at, and its byte offset
// within the executable file.
type Segment struct {
	Size       int
	VirtualAddr int
	FileOffset int
}

// Executable is a parsed NOFF file: the code and initialized-data segment
// descriptors (read eagerly or on demand by the VM subsystem) and the
// size of the uninitialized-data-plus-stack region the loader never reads
// from file, only zero-fills.
type Executable struct {
	file *os.File

	Code         Segment
	InitData     Segment
	UninitData   Segment
}

// Load opens path and parses its NOFF header, swapping byte order if the
// header was produced on a big-endian cross-compiler (the original
// toolchain's SwapHeader path).
func Load(path string) (*Executable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loader: opening executable %s: %w", path, err)
	}

	buf := make([]byte, headerByteWidth)
	if _, err := f.ReadAt(buf, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("loader: reading NOFF header of %s: %w", path, err)
	}

	order := byteOrderFor(buf)
	if order == nil {
		f.Close()
		return nil, fmt.Errorf("loader: %s is not a valid NOFF executable", path)
	}

	exe := &Executable{file: f}
	exe.Code = readSegment(buf[4:16], order)
	exe.InitData = readSegment(buf[16:28], order)
	exe.UninitData = readSegment(buf[28:40], order)
	return exe, nil
}

// byteOrderFor returns the byte order whose interpretation of buf's first
// four bytes matches noffMagic, or nil if neither does.
func byteOrderFor(buf []byte) binary.ByteOrder {
	if binary.LittleEndian.Uint32(buf[0:4]) == noffMagic {
		return binary.LittleEndian
	}
	if binary.BigEndian.Uint32(buf[0:4]) == noffMagic {
		return binary.BigEndian
	}
	return nil
}

func readSegment(buf []byte, order binary.ByteOrder) Segment {
	return Segment{
		Size:        int(int32(order.Uint32(buf[0:4]))),
		VirtualAddr: int(int32(order.Uint32(buf[4:8]))),
		FileOffset:  int(int32(order.Uint32(buf[8:12]))),
	}
}

// Close releases the underlying file.
func (e *Executable) Close() error { return e.file.Close() }

// ReadCodeByte reads len(buf) bytes of the code segment starting
// fileOffset bytes into it.
func (e *Executable) ReadCodeByte(fileOffset int, buf []byte) error {
	return e.readAt(e.Code.FileOffset+fileOffset, buf)
}

// ReadDataByte reads len(buf) bytes of the initialized-data segment
// starting fileOffset bytes into it.
func (e *Executable) ReadDataByte(fileOffset int, buf []byte) error {
	return e.readAt(e.InitData.FileOffset+fileOffset, buf)
}

func (e *Executable) readAt(off int, buf []byte) error {
	n, err := e.file.ReadAt(buf, int64(off))
	if err != nil && n < len(buf) {
		return fmt.Errorf("loader: short read at file offset %d: %w", off, err)
	}
	return nil
}

// Zero reports whether buf is entirely zero, used by tests to confirm
// BSS/stack pages are zero-filled rather than left with stale frame data.
func Zero(buf []byte) bool {
	return bytes.Count(buf, []byte{0}) == len(buf)
}
