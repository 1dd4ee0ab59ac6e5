package kernel

// Condition is a waiter-counted condition variable built on a Semaphore,
// grounded on original_source/code/threads/condition.cc. It is always
// associated with a single Lock for its lifetime, matching the original's
// constructor signature.
type Condition struct {
	Name string

	lock    *Lock
	sem     *Semaphore
	waiters int
}

// NewCondition returns a condition variable associated with lock.
func NewCondition(name string, lock *Lock, sched *Scheduler) *Condition {
	return &Condition{
		Name: name,
		lock: lock,
		sem:  NewSemaphore(name, 0, sched),
	}
}

// Wait releases the associated lock, blocks self until Signal/Broadcast
// wakes it, then reacquires the lock before returning. Panics if self does
// not hold the lock.
func (c *Condition) Wait(self *Thread) {
	if !c.lock.IsHeldBy(self) {
		panic("Condition.Wait: lock not held by current thread")
	}

	c.lock.Release(self)
	c.waiters++
	c.sem.P(self)
	c.lock.Acquire(self)
}

// Signal wakes one waiter, if any. Panics if self does not hold the lock.
func (c *Condition) Signal(self *Thread) {
	if !c.lock.IsHeldBy(self) {
		panic("Condition.Signal: lock not held by current thread")
	}

	if c.waiters > 0 {
		c.sem.V()
		c.waiters--
	}
}

// Broadcast wakes every waiter. Panics if self does not hold the lock.
func (c *Condition) Broadcast(self *Thread) {
	if !c.lock.IsHeldBy(self) {
		panic("Condition.Broadcast: lock not held by current thread")
	}

	for c.waiters > 0 {
		c.sem.V()
		c.waiters--
	}
}
