package kernel

// Channel is a zero-copy synchronous rendezvous, grounded on
// original_source/code/threads/channel.cc and SPEC_FULL.md §4.9. A
// send-lock and receive-lock serialize concurrent senders and receivers
// respectively; a pair of semaphores enforces the handshake so that
// exactly one receiver observes each message and the sender unblocks only
// after delivery.
type Channel struct {
	Name string

	sendLock *Lock
	recvLock *Lock

	slotFull     *Semaphore
	slotConsumed *Semaphore

	buffer int
}

// NewChannel returns an empty rendezvous channel.
func NewChannel(name string, sched *Scheduler) *Channel {
	return &Channel{
		Name:         name,
		sendLock:     NewLock(name+".send", sched),
		recvLock:     NewLock(name+".recv", sched),
		slotFull:     NewSemaphore(name+".full", 0, sched),
		slotConsumed: NewSemaphore(name+".consumed", 0, sched),
	}
}

// Send delivers msg to exactly one Receive call, blocking self until that
// receiver has copied it out.
func (c *Channel) Send(self *Thread, msg int) {
	c.sendLock.Acquire(self)
	defer c.sendLock.Release(self)

	c.buffer = msg
	c.slotFull.V()
	c.slotConsumed.P(self)
}

// Receive blocks self until a sender has a message ready, then returns it.
func (c *Channel) Receive(self *Thread) int {
	c.recvLock.Acquire(self)
	defer c.recvLock.Release(self)

	c.slotFull.P(self)
	msg := c.buffer
	c.slotConsumed.V()
	return msg
}
