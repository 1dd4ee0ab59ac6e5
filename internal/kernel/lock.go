package kernel

// Lock is a binary semaphore plus an owner pointer and priority
// inheritance, grounded on original_source/code/threads/lock.cc and
// SPEC_FULL.md §4.9.
type Lock struct {
	Name string

	sem   *Semaphore
	sched *Scheduler

	owner *Thread // GUARDED_BY(sem's internal mutex, accessed only while holding/acquiring)
}

// NewLock returns an unheld lock.
func NewLock(name string, sched *Scheduler) *Lock {
	return &Lock{
		Name:  name,
		sem:   NewSemaphore(name, 1, sched),
		sched: sched,
	}
}

// Acquire blocks self until the lock is free, then takes it. If another
// thread currently holds the lock and has lower priority than self, the
// holder's priority is raised to self's (priority inheritance) and the
// ready queue is re-sorted so the holder can run sooner and release the
// lock. Panics if self already holds the lock.
func (l *Lock) Acquire(self *Thread) {
	if l.IsHeldBy(self) {
		panic("Lock.Acquire: already held by current thread")
	}

	if holder := l.owner; holder != nil && holder.priority < self.priority {
		l.sched.ChangePriority(holder, self.priority)
	}

	l.sem.P(self)
	l.owner = self
}

// Release restores the owner's original priority, clears ownership, and
// wakes the longest-waiting acquirer if any. Panics if self does not hold
// the lock.
func (l *Lock) Release(self *Thread) {
	if !l.IsHeldBy(self) {
		panic("Lock.Release: not held by current thread")
	}

	self.restorePriority()
	l.owner = nil
	l.sem.V()
}

// IsHeldBy reports whether t currently owns the lock.
func (l *Lock) IsHeldBy(t *Thread) bool {
	return l.owner == t
}
