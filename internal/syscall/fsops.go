package syscall

import (
	"encoding/binary"
	"fmt"
	"strings"

	"nachos/internal/kernel"
)

// maxArgv bounds how many argv entries doExec2 will read before concluding
// the pointer array is malformed and has no NULL terminator.
const maxArgv = 64

func (d *Dispatcher) doExec(self *kernel.Thread, proc *Process, args [4]int) int {
	path, err := d.pathArg(self, proc, args[0])
	if err != nil {
		return -1
	}
	allowJoin := args[1] != 0

	child, err := d.Spawn(self, path, nil, allowJoin, proc.Thread.Priority())
	if err != nil {
		return -1
	}
	return child.Thread.Pid
}

func (d *Dispatcher) doExec2(self *kernel.Thread, proc *Process, args [4]int) int {
	path, err := d.pathArg(self, proc, args[0])
	if err != nil {
		return -1
	}
	argv, err := d.readArgv(proc, args[1])
	if err != nil {
		return -1
	}
	allowJoin := args[2] != 0

	child, err := d.Spawn(self, path, argv, allowJoin, proc.Thread.Priority())
	if err != nil {
		return -1
	}
	return child.Thread.Pid
}

// readArgv reads a NULL-terminated array of user string pointers starting
// at vaddr, resolving each to its string, per SPEC_FULL.md §6's Exec2.
func (d *Dispatcher) readArgv(proc *Process, vaddr int) ([]string, error) {
	const ptrSize = 4
	var argv []string
	for i := 0; i < maxArgv; i++ {
		ptrBytes, err := ReadBufferFromUser(proc, d.tlb, d.mem, vaddr+i*ptrSize, ptrSize)
		if err != nil {
			return nil, err
		}
		ptr := int(binary.LittleEndian.Uint32(ptrBytes))
		if ptr == 0 {
			return argv, nil
		}
		s, err := ReadStringFromUser(proc, d.tlb, d.mem, ptr)
		if err != nil {
			return nil, err
		}
		argv = append(argv, s)
	}
	return nil, fmt.Errorf("syscall: argv at %d has no NULL terminator within %d entries", vaddr, maxArgv)
}

// pathArg reads the NUL-terminated path string a syscall's first argument
// points to in proc's address space.
func (d *Dispatcher) pathArg(self *kernel.Thread, proc *Process, vaddr int) (string, error) {
	return ReadStringFromUser(proc, d.tlb, d.mem, vaddr)
}

func (d *Dispatcher) doCreate(self *kernel.Thread, proc *Process, args [4]int) int {
	path, err := d.pathArg(self, proc, args[0])
	if err != nil {
		return -1
	}
	if err := d.fsys.Create(self, proc.Cwd(), path, 0, false); err != nil {
		return -1
	}
	return 0
}

func (d *Dispatcher) doRemove(self *kernel.Thread, proc *Process, args [4]int) int {
	path, err := d.pathArg(self, proc, args[0])
	if err != nil {
		return -1
	}
	if err := d.fsys.Remove(self, proc.Cwd(), path); err != nil {
		return -1
	}
	return 0
}

func (d *Dispatcher) doOpen(self *kernel.Thread, proc *Process, args [4]int) int {
	path, err := d.pathArg(self, proc, args[0])
	if err != nil {
		return -1
	}
	of, err := d.fsys.Open(self, proc.Cwd(), path)
	if err != nil {
		return -1
	}

	proc.filesMu.Lock()
	fd := proc.nextFD
	proc.nextFD++
	proc.openFiles[fd] = of
	proc.filesMu.Unlock()
	return fd
}

func (d *Dispatcher) doClose(self *kernel.Thread, proc *Process, args [4]int) int {
	fd := args[0]
	if fd == consoleInFD || fd == consoleOutFD {
		return 0
	}

	proc.filesMu.Lock()
	of, ok := proc.openFiles[fd]
	delete(proc.openFiles, fd)
	proc.filesMu.Unlock()
	if !ok {
		return -1
	}

	d.fsys.CloseAndMaybeFree(self, of)
	return 0
}

func (d *Dispatcher) doRead(self *kernel.Thread, proc *Process, args [4]int) int {
	vaddr, n, fd := args[0], args[1], args[2]

	if fd == consoleInFD {
		buf := make([]byte, n)
		count := d.console.ReadBuffer(self, buf)
		if err := WriteBufferToUser(proc, d.tlb, d.mem, vaddr, buf[:count]); err != nil {
			return -1
		}
		return count
	}
	if fd == consoleOutFD {
		return -1
	}

	proc.filesMu.Lock()
	of, ok := proc.openFiles[fd]
	proc.filesMu.Unlock()
	if !ok {
		return -1
	}

	buf := make([]byte, n)
	count, err := of.Read(self, buf)
	if err != nil {
		return -1
	}
	if err := WriteBufferToUser(proc, d.tlb, d.mem, vaddr, buf[:count]); err != nil {
		return -1
	}
	return count
}

func (d *Dispatcher) doWrite(self *kernel.Thread, proc *Process, args [4]int) int {
	vaddr, n, fd := args[0], args[1], args[2]

	buf, err := ReadBufferFromUser(proc, d.tlb, d.mem, vaddr, n)
	if err != nil {
		return -1
	}

	if fd == consoleOutFD {
		d.console.WriteBuffer(self, buf)
		return n
	}
	if fd == consoleInFD {
		return -1
	}

	proc.filesMu.Lock()
	of, ok := proc.openFiles[fd]
	proc.filesMu.Unlock()
	if !ok {
		return -1
	}

	count, err := of.Write(self, buf)
	if err != nil {
		return -1
	}
	return count
}

// doCd resolves path against proc's current directory stack, supporting
// "." (no-op), ".." (pop one level, staying at root if already there), and
// named components (push after validating the entry is a directory).
func (d *Dispatcher) doCd(self *kernel.Thread, proc *Process, args [4]int) int {
	path, err := d.pathArg(self, proc, args[0])
	if err != nil {
		return -1
	}

	stack := append([]int(nil), proc.cwdStack...)
	if strings.HasPrefix(path, "/") {
		stack = []int{d.fsys.RootSectorOf()}
	}

	for _, comp := range strings.Split(strings.Trim(path, "/"), "/") {
		switch comp {
		case "", ".":
			continue
		case "..":
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		default:
			dir := d.fsys.OpenDirBySector(self, stack[len(stack)-1])
			sector := dir.Find(comp)
			if sector == -1 || !dir.IsDirectory(sector) {
				return -1
			}
			stack = append(stack, sector)
		}
	}

	proc.cwdStack = stack
	return 0
}

func (d *Dispatcher) doLs(self *kernel.Thread, proc *Process, args [4]int) int {
	names := d.fsys.List(self, proc.Cwd())
	for _, name := range names {
		d.console.WriteBuffer(self, []byte(name+"\n"))
	}
	return len(names)
}
