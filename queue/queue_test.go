package queue

import (
	"testing"
	"time"
)

func TestPushPopWaitFIFO(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Push(2)
	q.Push(3)

	for _, want := range []int{1, 2, 3} {
		got, ok := q.PopWait()
		if !ok {
			t.Fatalf("PopWait: ok = false, want true")
		}
		if got != want {
			t.Fatalf("PopWait = %d, want %d", got, want)
		}
	}
}

func TestPopWaitBlocksUntilPush(t *testing.T) {
	q := New[string]()
	resultCh := make(chan string, 1)
	go func() {
		v, ok := q.PopWait()
		if !ok {
			resultCh <- "CLOSED"
			return
		}
		resultCh <- v
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-resultCh:
		t.Fatal("PopWait returned before any item was pushed")
	default:
	}

	q.Push("hello")
	select {
	case v := <-resultCh:
		if v != "hello" {
			t.Fatalf("got %q, want %q", v, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("PopWait never returned after Push")
	}
}

func TestPopWaitTimeout(t *testing.T) {
	q := New[int]()
	_, ok := q.PopWaitTimeout(30 * time.Millisecond)
	if ok {
		t.Fatal("PopWaitTimeout on empty queue returned ok=true")
	}

	q.Push(42)
	v, ok := q.PopWaitTimeout(time.Second)
	if !ok || v != 42 {
		t.Fatalf("PopWaitTimeout = (%d, %v), want (42, true)", v, ok)
	}
}

func TestCloseReleasesAllBlockedWaiters(t *testing.T) {
	q := New[int]()
	const waiters = 5
	doneCh := make(chan bool, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			_, ok := q.PopWait()
			doneCh <- ok
		}()
	}
	time.Sleep(20 * time.Millisecond)
	q.Close()

	for i := 0; i < waiters; i++ {
		select {
		case ok := <-doneCh:
			if ok {
				t.Fatal("waiter woke with ok=true after Close, want false")
			}
		case <-time.After(time.Second):
			t.Fatal("waiter never woke after Close")
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	q := New[int]()
	q.Close()
	q.Close() // must not panic or deadlock
}

func TestPushAfterCloseIsDropped(t *testing.T) {
	q := New[int]()
	q.Close()
	q.Push(1)
	if n := q.Len(); n != 0 {
		t.Fatalf("Len() = %d after Push on closed queue, want 0", n)
	}
}
