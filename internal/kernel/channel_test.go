package kernel_test

import (
	"testing"

	"nachos/internal/kernel"
)

func TestChannelSendReceiveRendezvous(t *testing.T) {
	sched := kernel.NewScheduler()
	ch := kernel.NewChannel("c", sched)

	var received int

	receiver := kernel.NewThread("receiver", 1, 4)
	sched.Fork(receiver, func(self *kernel.Thread) int {
		received = ch.Receive(self)
		return 0
	})

	sender := kernel.NewThread("sender", 2, 4)
	sched.Fork(sender, func(self *kernel.Thread) int {
		ch.Send(self, 42)
		return 0
	})

	sched.Run()

	if received != 42 {
		t.Fatalf("received = %d, want 42", received)
	}
}

func TestChannelDeliversEachMessageOnce(t *testing.T) {
	sched := kernel.NewScheduler()
	ch := kernel.NewChannel("c", sched)

	results := make([]int, 2)

	for i := 0; i < 2; i++ {
		i := i
		receiver := kernel.NewThread("receiver", i, 4)
		sched.Fork(receiver, func(self *kernel.Thread) int {
			results[i] = ch.Receive(self)
			return 0
		})
	}

	sender := kernel.NewThread("sender", 10, 4)
	sched.Fork(sender, func(self *kernel.Thread) int {
		ch.Send(self, 1)
		ch.Send(self, 2)
		return 0
	})

	sched.Run()

	sum := results[0] + results[1]
	if sum != 3 {
		t.Fatalf("receivers collectively saw %v, want values summing to 3", results)
	}
}
