package sink

import (
	"sync"
	"testing"

	"github.com/danmuck/rsockcore/internal/buffer"
	"github.com/danmuck/rsockcore/internal/testutil/testlog"
)

func TestQueuePreservesOrder(t *testing.T) {
	testlog.Start(t)
	q := New()
	for i := byte(0); i < 5; i++ {
		q.Push(buffer.Default.Wrap([]byte{i}))
	}
	select {
	case <-q.Ready():
	default:
		t.Fatalf("expected ready signal after push")
	}
	for i := byte(0); i < 5; i++ {
		fr, ok := q.Poll()
		if !ok {
			t.Fatalf("poll %d: empty", i)
		}
		if fr.Bytes()[0] != i {
			t.Fatalf("poll %d: got %d", i, fr.Bytes()[0])
		}
		fr.Release()
	}
	if !q.IsEmpty() {
		t.Fatalf("queue should be empty")
	}
	if _, ok := q.Poll(); ok {
		t.Fatalf("poll on empty queue")
	}
}

func TestCloseReleasesPending(t *testing.T) {
	testlog.Start(t)
	tr := buffer.NewTracker()
	q := New()
	q.Push(tr.Allocate(8))
	q.Push(tr.Allocate(8))
	if q.Closed() {
		t.Fatalf("queue closed before Close")
	}
	if n := q.Close(); n != 2 {
		t.Fatalf("released=%d", n)
	}
	if !q.Closed() {
		t.Fatalf("queue should report closed")
	}
	if q.Push(tr.Allocate(8)) {
		t.Fatalf("push after close should be rejected")
	}
	if q.Close() != 0 {
		t.Fatalf("second close should release nothing")
	}
	if tr.Live() != 0 || tr.OverReleased() != 0 {
		t.Fatalf("live=%d over=%d", tr.Live(), tr.OverReleased())
	}
}

func TestConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	testlog.Start(t)
	q := New()
	const producers, per = 4, 200
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p byte) {
			defer wg.Done()
			for i := 0; i < per; i++ {
				q.Push(buffer.Default.Wrap([]byte{p, byte(i)}))
			}
		}(byte(p))
	}
	wg.Wait()

	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	for {
		fr, ok := q.Poll()
		if !ok {
			break
		}
		b := fr.Bytes()
		if int(b[1]) <= last[b[0]] {
			t.Fatalf("producer %d out of order", b[0])
		}
		last[b[0]] = int(b[1])
		fr.Release()
	}
	for p, l := range last {
		if l != per-1 {
			t.Fatalf("producer %d last=%d", p, l)
		}
	}
}
