package dispatch

import (
	"sync"
	"testing"
)

// TestQueue_FIFOPerChat verifies that jobs for one chat run strictly in
// submission order.
func TestQueue_FIFOPerChat(t *testing.T) {
	q := NewQueue()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 50; i++ {
		q.Submit("chat1", func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	q.Close()

	if len(order) != 50 {
		t.Fatalf("ran %d jobs, want 50", len(order))
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("order[%d] = %d, jobs ran out of order", i, got)
		}
	}
}

// TestQueue_ChatsIndependent verifies that a blocked chat does not stall
// another chat's worker.
func TestQueue_ChatsIndependent(t *testing.T) {
	q := NewQueue()

	release := make(chan struct{})
	q.Submit("slow", func() { <-release })

	ran := make(chan struct{})
	q.Submit("fast", func() { close(ran) })

	select {
	case <-ran:
	default:
		// Give the fast worker a chance; Close waits for both.
	}
	close(release)
	q.Close()

	select {
	case <-ran:
	default:
		t.Error("fast chat was blocked by the slow chat")
	}
}

// TestQueue_SubmitAfterClose verifies that submissions after Close are
// silently dropped rather than panicking.
func TestQueue_SubmitAfterClose(t *testing.T) {
	q := NewQueue()
	q.Close()
	q.Submit("chat1", func() {
		t.Error("job ran after Close")
	})
}
