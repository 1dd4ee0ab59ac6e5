package machine

import (
	"bufio"
	"io"

	"nachos/internal/kernel"
	"nachos/internal/stats"
)

// SynchConsole wraps raw byte-oriented input/output with a reader lock, a
// writer lock, and one semaphore per direction, grounded verbatim on
// original_source/code/machine/synch_console.cc. ReadBuffer/WriteBuffer are
// atomic at the lock granularity: two concurrent writers' bytes are never
// interleaved, and likewise for readers.
type SynchConsole struct {
	in  *bufio.Reader
	out io.Writer

	readLock  *kernel.Lock
	writeLock *kernel.Lock

	readAvail *kernel.Semaphore
	writeDone *kernel.Semaphore

	stats *stats.Statistics
}

// NewSynchConsole wraps in/out, the way the original wraps a raw Console
// backed by readFile/writeFile.
func NewSynchConsole(in io.Reader, out io.Writer, sched *kernel.Scheduler, st *stats.Statistics) *SynchConsole {
	c := &SynchConsole{
		in:        bufio.NewReader(in),
		out:       out,
		readLock:  kernel.NewLock("console.read", sched),
		writeLock: kernel.NewLock("console.write", sched),
		readAvail: kernel.NewSemaphore("console.readAvail", 0, sched),
		writeDone: kernel.NewSemaphore("console.writeDone", 0, sched),
		stats:     st,
	}
	return c
}

// WriteChar writes a single byte, blocking self until the (simulated)
// device signals completion.
func (c *SynchConsole) WriteChar(self *kernel.Thread, ch byte) {
	c.writeLock.Acquire(self)
	defer c.writeLock.Release(self)

	c.out.Write([]byte{ch})
	c.signalWriteDone()
	c.writeDone.P(self)

	if c.stats != nil {
		c.stats.AddConsoleCharsWritten(1)
	}
}

// ReadChar blocks self until a byte is available, then returns it.
func (c *SynchConsole) ReadChar(self *kernel.Thread) byte {
	c.readLock.Acquire(self)
	defer c.readLock.Release(self)

	c.signalReadAvail()
	c.readAvail.P(self)
	b, err := c.in.ReadByte()
	if err != nil {
		b = 0
	}

	if c.stats != nil {
		c.stats.AddConsoleCharsRead(1)
	}
	return b
}

// WriteBuffer writes every byte of buf atomically with respect to other
// writers, blocking on the per-character completion semaphore exactly as
// the original's loop does.
func (c *SynchConsole) WriteBuffer(self *kernel.Thread, buf []byte) {
	c.writeLock.Acquire(self)
	defer c.writeLock.Release(self)

	for _, b := range buf {
		c.out.Write([]byte{b})
		c.signalWriteDone()
		c.writeDone.P(self)
	}

	if c.stats != nil {
		c.stats.AddConsoleCharsWritten(uint64(len(buf)))
	}
}

// ReadBuffer fills buf from the console atomically with respect to other
// readers and returns the number of bytes actually read before EOF.
func (c *SynchConsole) ReadBuffer(self *kernel.Thread, buf []byte) int {
	c.readLock.Acquire(self)
	defer c.readLock.Release(self)

	n := 0
	for i := range buf {
		c.signalReadAvail()
		c.readAvail.P(self)
		b, err := c.in.ReadByte()
		if err != nil {
			break
		}
		buf[i] = b
		n++
	}

	if c.stats != nil {
		c.stats.AddConsoleCharsRead(uint64(n))
	}
	return n
}

// signalWriteDone and signalReadAvail stand in for the device's completion
// interrupt; a real terminal backend would fire these from its own I/O
// goroutine, but since bufio reads/writes here complete synchronously we
// simply signal immediately after issuing the operation.
func (c *SynchConsole) signalWriteDone() { c.writeDone.V() }
func (c *SynchConsole) signalReadAvail() { c.readAvail.V() }
