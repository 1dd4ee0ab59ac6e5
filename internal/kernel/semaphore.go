package kernel

import "github.com/jacobsa/syncutil"

// Semaphore is the atomic bedrock every other primitive in this package is
// built from, per SPEC_FULL.md §4.9. count can go negative internally (as
// in the original), representing the number of threads blocked in P; we
// instead keep count non-negative and track waiters explicitly, which is
// equivalent and easier to state as a Go invariant.
type Semaphore struct {
	Name string

	mu syncutil.InvariantMutex

	value   int         // GUARDED_BY(mu)
	waiters []*Thread    // FIFO queue of threads blocked in P. GUARDED_BY(mu)

	sched *Scheduler
}

// NewSemaphore returns a semaphore with the given initial value.
func NewSemaphore(name string, value int, sched *Scheduler) *Semaphore {
	s := &Semaphore{Name: name, value: value, sched: sched}
	s.mu = syncutil.NewInvariantMutex(s.checkInvariants)
	return s
}

func (s *Semaphore) checkInvariants() {
	if s.value < 0 {
		panic("semaphore value went negative")
	}
}

// P decrements the semaphore, blocking self if the result would be
// negative. Waiters are released in FIFO order (§5 ordering guarantees).
func (s *Semaphore) P(self *Thread) {
	s.mu.Lock()
	if s.value > 0 {
		s.value--
		s.mu.Unlock()
		return
	}

	self.status = Blocked
	s.waiters = append(s.waiters, self)
	s.mu.Unlock()

	s.sched.Sleep(self)
}

// V increments the semaphore, waking the longest-waiting blocked thread if
// any.
func (s *Semaphore) V() {
	s.mu.Lock()
	if len(s.waiters) == 0 {
		s.value++
		s.mu.Unlock()
		return
	}

	t := s.waiters[0]
	s.waiters = s.waiters[1:]
	s.mu.Unlock()

	s.sched.ReadyToRun(t)
}
