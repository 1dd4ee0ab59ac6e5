package kernel_test

import (
	"testing"

	"nachos/internal/kernel"
)

// TestConditionWaitSignal drives a single-slot producer/consumer: the
// consumer waits for the slot to be filled, the producer fills it and
// signals.
func TestConditionWaitSignal(t *testing.T) {
	sched := kernel.NewScheduler()
	lock := kernel.NewLock("l", sched)
	cond := kernel.NewCondition("c", lock, sched)

	filled := false
	var consumed int

	consumer := kernel.NewThread("consumer", 1, 4)
	sched.Fork(consumer, func(self *kernel.Thread) int {
		lock.Acquire(self)
		for !filled {
			cond.Wait(self)
		}
		consumed = 99
		lock.Release(self)
		return 0
	})

	producer := kernel.NewThread("producer", 2, 4)
	sched.Fork(producer, func(self *kernel.Thread) int {
		lock.Acquire(self)
		filled = true
		cond.Signal(self)
		lock.Release(self)
		return 0
	})

	sched.Run()

	if consumed != 99 {
		t.Fatalf("consumer never observed the fill: consumed = %d", consumed)
	}
}

func TestConditionBroadcastWakesAllWaiters(t *testing.T) {
	sched := kernel.NewScheduler()
	lock := kernel.NewLock("l", sched)
	cond := kernel.NewCondition("c", lock, sched)

	ready := false
	woken := 0

	for i := 0; i < 3; i++ {
		waiter := kernel.NewThread("waiter", i, 4)
		sched.Fork(waiter, func(self *kernel.Thread) int {
			lock.Acquire(self)
			for !ready {
				cond.Wait(self)
			}
			woken++
			lock.Release(self)
			return 0
		})
	}

	waker := kernel.NewThread("waker", 10, 1)
	sched.Fork(waker, func(self *kernel.Thread) int {
		lock.Acquire(self)
		ready = true
		cond.Broadcast(self)
		lock.Release(self)
		return 0
	})

	sched.Run()

	if woken != 3 {
		t.Fatalf("woken = %d, want 3", woken)
	}
}

func TestConditionWaitWithoutLockPanics(t *testing.T) {
	sched := kernel.NewScheduler()
	lock := kernel.NewLock("l", sched)
	cond := kernel.NewCondition("c", lock, sched)
	self := kernel.NewThread("t", 1, 1)

	sched.Fork(self, func(self *kernel.Thread) int {
		defer func() {
			if recover() == nil {
				t.Error("Wait without holding the lock did not panic")
			}
		}()
		cond.Wait(self)
		return 0
	})
	sched.Run()
}
