package buffer

import (
	"errors"
	"sync"
	"testing"

	"github.com/danmuck/rsockcore/internal/testutil/testlog"
)

func TestRetainReleaseLifecycle(t *testing.T) {
	testlog.Start(t)
	tr := NewTracker()
	b := tr.Wrap([]byte("abc"))
	if b.RefCnt() != 1 {
		t.Fatalf("fresh refcnt=%d", b.RefCnt())
	}
	if err := b.Retain(); err != nil {
		t.Fatalf("retain: %v", err)
	}
	if b.Release() {
		t.Fatalf("first release should not free")
	}
	if !b.Release() {
		t.Fatalf("second release should free")
	}
	if tr.Live() != 0 {
		t.Fatalf("live=%d", tr.Live())
	}
	if err := b.Retain(); !errors.Is(err, ErrIllegalRefCount) {
		t.Fatalf("expected ErrIllegalRefCount, got %v", err)
	}
	if b.Release() {
		t.Fatalf("over-release must not report a free")
	}
	if tr.OverReleased() != 1 {
		t.Fatalf("overReleased=%d", tr.OverReleased())
	}
}

func TestReadRetainedSliceSharesCount(t *testing.T) {
	testlog.Start(t)
	tr := NewTracker()
	b := tr.Wrap([]byte("metadata+data"))

	md, err := b.ReadRetainedSlice(8)
	if err != nil {
		t.Fatalf("slice: %v", err)
	}
	if string(md.Bytes()) != "metadata" {
		t.Fatalf("slice bytes=%q", md.Bytes())
	}
	if string(b.Bytes()) != "+data" {
		t.Fatalf("parent reader index not advanced: %q", b.Bytes())
	}
	if b.RefCnt() != 2 || md.RefCnt() != 2 {
		t.Fatalf("shared refcnt parent=%d view=%d", b.RefCnt(), md.RefCnt())
	}

	rest, err := b.RetainedSlice()
	if err != nil {
		t.Fatalf("retained slice: %v", err)
	}
	if rest.Readable() != 5 {
		t.Fatalf("rest readable=%d", rest.Readable())
	}

	b.Release()
	md.Release()
	if !rest.Release() {
		t.Fatalf("last view should free the backing buffer")
	}
	if tr.Live() != 0 || tr.OverReleased() != 0 {
		t.Fatalf("live=%d over=%d", tr.Live(), tr.OverReleased())
	}
}

func TestReadRetainedSliceOutOfRange(t *testing.T) {
	testlog.Start(t)
	b := Default.Wrap([]byte("ab"))
	if _, err := b.ReadRetainedSlice(3); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected range error")
	}
	if b.RefCnt() != 1 {
		t.Fatalf("failed slice must not retain, refcnt=%d", b.RefCnt())
	}
}

func TestConcurrentReleaseFreesOnce(t *testing.T) {
	testlog.Start(t)
	for i := 0; i < 200; i++ {
		tr := NewTracker()
		b := tr.Allocate(16)
		for j := 0; j < 7; j++ {
			if err := b.Retain(); err != nil {
				t.Fatalf("retain: %v", err)
			}
		}
		var wg sync.WaitGroup
		var mu sync.Mutex
		frees := 0
		for j := 0; j < 8; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if b.Release() {
					mu.Lock()
					frees++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if frees != 1 {
			t.Fatalf("frees=%d", frees)
		}
		if tr.Live() != 0 {
			t.Fatalf("live=%d", tr.Live())
		}
	}
}
