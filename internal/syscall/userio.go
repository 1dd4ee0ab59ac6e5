package syscall

import (
	"fmt"

	"nachos/internal/vm"
)

// maxUserString bounds how many bytes ReadStringFromUser will scan before
// giving up looking for a NUL terminator, guarding against a runaway read
// from a malformed user pointer.
const maxUserString = 1024

// ReadBufferFromUser copies n bytes starting at vaddr out of proc's address
// space, translating one byte at a time through the MMU (TLB or direct
// page table, per configuration), per SPEC_FULL.md §6.
func ReadBufferFromUser(proc *Process, tlb *vm.TLB, mem *vm.Memory, vaddr, n int) ([]byte, error) {
	buf := make([]byte, n)
	for i := 0; i < n; i++ {
		frame, offset, err := proc.AS.Translate(tlb, vaddr+i, false)
		if err != nil {
			return nil, fmt.Errorf("syscall: reading user buffer at %d: %w", vaddr+i, err)
		}
		buf[i] = mem.Frame(frame)[offset]
	}
	return buf, nil
}

// WriteBufferToUser copies buf into proc's address space starting at
// vaddr, translating one byte at a time.
func WriteBufferToUser(proc *Process, tlb *vm.TLB, mem *vm.Memory, vaddr int, buf []byte) error {
	for i, b := range buf {
		frame, offset, err := proc.AS.Translate(tlb, vaddr+i, true)
		if err != nil {
			return fmt.Errorf("syscall: writing user buffer at %d: %w", vaddr+i, err)
		}
		mem.Frame(frame)[offset] = b
	}
	return nil
}

// ReadStringFromUser reads a NUL-terminated string starting at vaddr,
// stopping at maxUserString bytes if no NUL is found.
func ReadStringFromUser(proc *Process, tlb *vm.TLB, mem *vm.Memory, vaddr int) (string, error) {
	var out []byte
	for i := 0; i < maxUserString; i++ {
		frame, offset, err := proc.AS.Translate(tlb, vaddr+i, false)
		if err != nil {
			return "", fmt.Errorf("syscall: reading user string at %d: %w", vaddr+i, err)
		}
		b := mem.Frame(frame)[offset]
		if b == 0 {
			return string(out), nil
		}
		out = append(out, b)
	}
	return "", fmt.Errorf("syscall: user string at %d exceeds %d bytes with no terminator", vaddr, maxUserString)
}

// WriteStringToUser writes s followed by a NUL terminator starting at
// vaddr.
func WriteStringToUser(proc *Process, tlb *vm.TLB, mem *vm.Memory, vaddr int, s string) error {
	return WriteBufferToUser(proc, tlb, mem, vaddr, append([]byte(s), 0))
}
