package fs

import (
	"encoding/binary"
	"fmt"

	"nachos/internal/kernel"
	"nachos/internal/machine"
)

// NumDirect, NumIndirect and MaxFileSectors mirror
// original_source/code/filesys/raw_file_header.hh: the header occupies one
// 128-byte sector holding two uint32 counters, NumDirect direct sector
// indices, and two more uint32 indirect-block sector indices; each
// indirect block is itself one sector of NumIndirect uint32 entries.
const (
	NumDirect       = (machine.SectorSize - 4*4) / 4 // 28
	NumIndirect     = machine.SectorSize / 4         // 32
	MaxFileSectors  = NumIndirect*NumIndirect + NumIndirect + NumDirect
	MaxFileBytes    = MaxFileSectors * machine.SectorSize
	headerByteWidth = (2 + NumDirect + 2) * 4 // == machine.SectorSize
)

// FileHeader is the persistent, one-sector metadata record for a file,
// grounded on original_source/code/filesys/file_header.cc and
// raw_file_header.hh, generalized from the original's single-level
// indirect-only layout to the spec's direct/single-indirect/
// double-indirect trio (SPEC_FULL.md §4.3).
type FileHeader struct {
	disk *machine.Disk

	sizeBytes      uint32
	numSectors     uint32
	direct         [NumDirect]uint32
	singleIndirect uint32 // sector of an indirect block, or 0 if unused
	doubleIndirect uint32 // sector of a double-indirect block, or 0 if unused
}

// NewFileHeader returns a zeroed header that will read/write itself
// through disk.
func NewFileHeader(disk *machine.Disk) *FileHeader {
	return &FileHeader{disk: disk}
}

func (h *FileHeader) SizeBytes() int  { return int(h.sizeBytes) }
func (h *FileHeader) NumSectors() int { return int(h.numSectors) }

// indirectBlock is the on-disk layout of one indirect or double-indirect
// table: NumIndirect uint32 sector indices, packed into one sector.
type indirectBlock struct {
	entries [NumIndirect]uint32
}

func (b *indirectBlock) marshal() []byte {
	buf := make([]byte, machine.SectorSize)
	for i, e := range b.entries {
		binary.LittleEndian.PutUint32(buf[i*4:], e)
	}
	return buf
}

func (b *indirectBlock) unmarshal(buf []byte) {
	for i := range b.entries {
		b.entries[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
}

func readIndirect(self *kernel.Thread, disk *machine.Disk, sector uint32) *indirectBlock {
	buf := make([]byte, machine.SectorSize)
	disk.ReadSector(self, int(sector), buf)
	b := &indirectBlock{}
	b.unmarshal(buf)
	return b
}

func writeIndirect(self *kernel.Thread, disk *machine.Disk, sector uint32, b *indirectBlock) {
	disk.WriteSector(self, int(sector), b.marshal())
}

// sectorCounts breaks a sector count down into direct / single-indirect /
// double-indirect portions, the shared arithmetic Allocate, Deallocate and
// Extend all need.
type sectorCounts struct {
	direct       int
	singleIndSect int // data sectors reachable via the single-indirect block
	doubleIndSect int // data sectors reachable via the double-indirect block
	innerTables   int // number of inner indirect tables under the double-indirect block
}

func countSectors(numDataSectors int) sectorCounts {
	c := sectorCounts{}
	c.direct = minInt(numDataSectors, NumDirect)
	rest := numDataSectors - c.direct
	c.singleIndSect = minInt(rest, NumIndirect)
	rest -= c.singleIndSect
	c.doubleIndSect = minInt(rest, NumIndirect*NumIndirect)
	c.innerTables = divRoundUp(c.doubleIndSect, NumIndirect)
	return c
}

// metadataSectors returns how many sectors beyond the raw data sectors a
// layout with the given counts needs: the single-indirect block, the
// double-indirect block, and its inner tables.
func (c sectorCounts) metadataSectors() int {
	n := 0
	if c.singleIndSect > 0 {
		n++
	}
	if c.doubleIndSect > 0 {
		n += 1 + c.innerTables
	}
	return n
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func divRoundUp(n, d int) int {
	return (n + d - 1) / d
}

// Allocate computes the direct/indirect/double-indirect layout for a file
// of the given size, checks that the free map has enough clear sectors for
// both data and metadata, and allocates them in direct, single-indirect,
// then double-indirect order. On failure the header's size/sector counts
// are left as they were before the call.
func (h *FileHeader) Allocate(self *kernel.Thread, freeMap *Bitmap, sizeBytes int) error {
	if sizeBytes > MaxFileBytes {
		return fmt.Errorf("%w: %d exceeds max file size %d", ErrNoSpace, sizeBytes, MaxFileBytes)
	}

	numDataSectors := divRoundUp(sizeBytes, machine.SectorSize)
	counts := countSectors(numDataSectors)

	if freeMap.CountClear() < numDataSectors+counts.metadataSectors() {
		return fmt.Errorf("%w: need %d sectors, %d free", ErrNoSpace, numDataSectors+counts.metadataSectors(), freeMap.CountClear())
	}

	h.sizeBytes = uint32(sizeBytes)
	h.numSectors = uint32(numDataSectors)

	for i := 0; i < counts.direct; i++ {
		h.direct[i] = uint32(freeMap.Find())
	}

	if counts.singleIndSect > 0 {
		sector := uint32(freeMap.Find())
		h.singleIndirect = sector
		blk := &indirectBlock{}
		for j := 0; j < counts.singleIndSect; j++ {
			blk.entries[j] = uint32(freeMap.Find())
		}
		writeIndirect(self, h.disk, sector, blk)
	}

	if counts.doubleIndSect > 0 {
		dblSector := uint32(freeMap.Find())
		h.doubleIndirect = dblSector
		dbl := &indirectBlock{}

		remaining := counts.doubleIndSect
		for t := 0; t < counts.innerTables; t++ {
			innerSector := uint32(freeMap.Find())
			dbl.entries[t] = innerSector

			inner := &indirectBlock{}
			n := minInt(remaining, NumIndirect)
			for j := 0; j < n; j++ {
				inner.entries[j] = uint32(freeMap.Find())
			}
			remaining -= n
			writeIndirect(self, h.disk, innerSector, inner)
		}
		writeIndirect(self, h.disk, dblSector, dbl)
	}

	return nil
}

// Deallocate frees every sector this header owns: direct, single-indirect
// (data then block), double-indirect (data, inner tables, then block).
// Every freed sector must currently be marked in freeMap.
func (h *FileHeader) Deallocate(self *kernel.Thread, freeMap *Bitmap) {
	counts := countSectors(int(h.numSectors))

	for i := 0; i < counts.direct; i++ {
		h.mustBeMarked(freeMap, h.direct[i])
		freeMap.Clear(int(h.direct[i]))
	}

	if counts.singleIndSect > 0 {
		blk := readIndirect(self, h.disk, h.singleIndirect)
		for j := 0; j < counts.singleIndSect; j++ {
			h.mustBeMarked(freeMap, blk.entries[j])
			freeMap.Clear(int(blk.entries[j]))
		}
		h.mustBeMarked(freeMap, h.singleIndirect)
		freeMap.Clear(int(h.singleIndirect))
		h.singleIndirect = 0
	}

	if counts.doubleIndSect > 0 {
		dbl := readIndirect(self, h.disk, h.doubleIndirect)
		remaining := counts.doubleIndSect
		for t := 0; t < counts.innerTables; t++ {
			innerSector := dbl.entries[t]
			inner := readIndirect(self, h.disk, innerSector)
			n := minInt(remaining, NumIndirect)
			for j := 0; j < n; j++ {
				h.mustBeMarked(freeMap, inner.entries[j])
				freeMap.Clear(int(inner.entries[j]))
			}
			remaining -= n
			h.mustBeMarked(freeMap, innerSector)
			freeMap.Clear(int(innerSector))
		}
		h.mustBeMarked(freeMap, h.doubleIndirect)
		freeMap.Clear(int(h.doubleIndirect))
		h.doubleIndirect = 0
	}

	h.numSectors = 0
	h.sizeBytes = 0
}

func (h *FileHeader) mustBeMarked(freeMap *Bitmap, sector uint32) {
	if !freeMap.Test(int(sector)) {
		panic(fmt.Sprintf("fs: deallocating sector %d not marked in free map", sector))
	}
}

// Extend grows the file by delta bytes, allocating only the newly needed
// data and indirect-table sectors. If the sector count is unchanged only
// the byte size grows and nothing is allocated; fails without mutating the
// header if there is insufficient
// free space or the new size would exceed the maximum.
func (h *FileHeader) Extend(self *kernel.Thread, freeMap *Bitmap, delta int) error {
	newSize := int(h.sizeBytes) + delta
	if newSize > MaxFileBytes {
		return fmt.Errorf("%w: extending to %d exceeds max file size %d", ErrNoSpace, newSize, MaxFileBytes)
	}

	oldDataSectors := int(h.numSectors)
	newDataSectors := divRoundUp(newSize, machine.SectorSize)
	if newDataSectors == oldDataSectors {
		h.sizeBytes = uint32(newSize)
		return nil
	}

	oldCounts := countSectors(oldDataSectors)
	newCounts := countSectors(newDataSectors)

	newlyNeededData := newDataSectors - oldDataSectors
	newlyNeededMeta := newCounts.metadataSectors() - oldCounts.metadataSectors()
	if freeMap.CountClear() < newlyNeededData+newlyNeededMeta {
		return fmt.Errorf("%w: need %d more sectors, %d free", ErrNoSpace, newlyNeededData+newlyNeededMeta, freeMap.CountClear())
	}

	// Grow the direct table.
	for i := oldCounts.direct; i < newCounts.direct; i++ {
		h.direct[i] = uint32(freeMap.Find())
	}

	// Grow (or create) the single-indirect table.
	if newCounts.singleIndSect > 0 {
		var blk *indirectBlock
		if oldCounts.singleIndSect > 0 {
			blk = readIndirect(self, h.disk, h.singleIndirect)
		} else {
			h.singleIndirect = uint32(freeMap.Find())
			blk = &indirectBlock{}
		}
		for j := oldCounts.singleIndSect; j < newCounts.singleIndSect; j++ {
			blk.entries[j] = uint32(freeMap.Find())
		}
		writeIndirect(self, h.disk, h.singleIndirect, blk)
	}

	// Grow (or create) the double-indirect table and its inner tables.
	// Partial extension of the last existing inner table is supported: the
	// final old inner table (index oldCounts.innerTables-1) may have spare
	// room before a new inner table is needed.
	if newCounts.doubleIndSect > 0 {
		var dbl *indirectBlock
		if oldCounts.doubleIndSect > 0 {
			dbl = readIndirect(self, h.disk, h.doubleIndirect)
		} else {
			h.doubleIndirect = uint32(freeMap.Find())
			dbl = &indirectBlock{}
		}

		oldRemaining := oldCounts.doubleIndSect
		newRemaining := newCounts.doubleIndSect

		for t := 0; t < newCounts.innerTables; t++ {
			oldN := 0
			if t < oldCounts.innerTables {
				oldN = minInt(oldRemaining, NumIndirect)
				oldRemaining -= oldN
			}
			newN := minInt(newRemaining, NumIndirect)
			newRemaining -= newN

			if newN == oldN {
				continue
			}

			var inner *indirectBlock
			var innerSector uint32
			if t < oldCounts.innerTables {
				innerSector = dbl.entries[t]
				inner = readIndirect(self, h.disk, innerSector)
			} else {
				innerSector = uint32(freeMap.Find())
				dbl.entries[t] = innerSector
				inner = &indirectBlock{}
			}
			for j := oldN; j < newN; j++ {
				inner.entries[j] = uint32(freeMap.Find())
			}
			writeIndirect(self, h.disk, innerSector, inner)
		}
		writeIndirect(self, h.disk, h.doubleIndirect, dbl)
	}

	h.sizeBytes = uint32(newSize)
	h.numSectors = uint32(newDataSectors)
	return nil
}

// FetchFrom reads this header from sector.
func (h *FileHeader) FetchFrom(self *kernel.Thread, sector int) {
	buf := make([]byte, machine.SectorSize)
	h.disk.ReadSector(self, sector, buf)
	h.unmarshal(buf)
}

// WriteBack writes this header to sector.
func (h *FileHeader) WriteBack(self *kernel.Thread, sector int) {
	h.disk.WriteSector(self, sector, h.marshal())
}

func (h *FileHeader) marshal() []byte {
	buf := make([]byte, machine.SectorSize)
	binary.LittleEndian.PutUint32(buf[0:], h.sizeBytes)
	binary.LittleEndian.PutUint32(buf[4:], h.numSectors)
	off := 8
	for _, d := range h.direct {
		binary.LittleEndian.PutUint32(buf[off:], d)
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:], h.singleIndirect)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.doubleIndirect)
	return buf
}

func (h *FileHeader) unmarshal(buf []byte) {
	h.sizeBytes = binary.LittleEndian.Uint32(buf[0:])
	h.numSectors = binary.LittleEndian.Uint32(buf[4:])
	off := 8
	for i := range h.direct {
		h.direct[i] = binary.LittleEndian.Uint32(buf[off:])
		off += 4
	}
	h.singleIndirect = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.doubleIndirect = binary.LittleEndian.Uint32(buf[off:])
}

// ByteToSector translates a file offset to the disk sector containing that
// byte, using the direct table for offsets below NumDirect*SectorSize, the
// single-indirect table for the next NumIndirect*SectorSize bytes, and the
// double-indirect table beyond that.
func (h *FileHeader) ByteToSector(self *kernel.Thread, offset int) int {
	sectorIdx := offset / machine.SectorSize

	if sectorIdx < NumDirect {
		return int(h.direct[sectorIdx])
	}
	sectorIdx -= NumDirect

	if sectorIdx < NumIndirect {
		blk := readIndirect(self, h.disk, h.singleIndirect)
		return int(blk.entries[sectorIdx])
	}
	sectorIdx -= NumIndirect

	tableIdx := sectorIdx / NumIndirect
	inTableIdx := sectorIdx % NumIndirect
	dbl := readIndirect(self, h.disk, h.doubleIndirect)
	inner := readIndirect(self, h.disk, dbl.entries[tableIdx])
	return int(inner.entries[inTableIdx])
}
