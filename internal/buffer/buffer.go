// Package buffer provides reference-counted byte buffers.
//
// A Buf is a view over a byte slice plus a reader index. Views created with
// RetainedSlice share the reference count of the buffer they were cut from,
// so releasing every view and the original frees the backing memory once.
package buffer

import (
	"errors"
	"sync/atomic"
)

var (
	ErrIllegalRefCount = errors.New("buffer: illegal reference count")
	ErrOutOfRange      = errors.New("buffer: slice out of range")
)

// Allocator hands out fresh buffers with a reference count of one.
type Allocator interface {
	Allocate(n int) *Buf
	Wrap(b []byte) *Buf
}

// Default is the plain heap allocator.
var Default Allocator = heap{}

type heap struct{}

func (heap) Allocate(n int) *Buf { return newBuf(make([]byte, n), nil) }
func (heap) Wrap(b []byte) *Buf  { return newBuf(b, nil) }

type refCount struct {
	n       atomic.Int32
	tracker *Tracker
}

// Buf is a reference-counted byte view. The reader index is owned by one
// goroutine at a time; only the reference count is safe for concurrent use.
type Buf struct {
	data []byte
	r    int
	rc   *refCount
}

func newBuf(b []byte, t *Tracker) *Buf {
	rc := &refCount{tracker: t}
	rc.n.Store(1)
	if t != nil {
		t.allocated.Add(1)
	}
	return &Buf{data: b, rc: rc}
}

// RefCnt reports the shared reference count.
func (b *Buf) RefCnt() int32 {
	return b.rc.n.Load()
}

// Retain adds one reference. It fails on a buffer that was already freed.
func (b *Buf) Retain() error {
	for {
		n := b.rc.n.Load()
		if n <= 0 {
			return ErrIllegalRefCount
		}
		if b.rc.n.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Release drops one reference and reports whether this call freed the buffer.
// Releasing a freed buffer is recorded by the tracker and returns false.
func (b *Buf) Release() bool {
	for {
		n := b.rc.n.Load()
		if n <= 0 {
			if t := b.rc.tracker; t != nil {
				t.overReleased.Add(1)
			}
			return false
		}
		if b.rc.n.CompareAndSwap(n, n-1) {
			if n == 1 {
				if t := b.rc.tracker; t != nil {
					t.freed.Add(1)
				}
				return true
			}
			return false
		}
	}
}

// Bytes returns the readable bytes without copying.
func (b *Buf) Bytes() []byte {
	return b.data[b.r:]
}

// Readable returns the number of unread bytes.
func (b *Buf) Readable() int {
	return len(b.data) - b.r
}

func (b *Buf) IsReadable() bool {
	return b.r < len(b.data)
}

// RetainedSlice returns a view of the readable bytes sharing this buffer's
// reference count, which is incremented once.
func (b *Buf) RetainedSlice() (*Buf, error) {
	if err := b.Retain(); err != nil {
		return nil, err
	}
	return &Buf{data: b.data[b.r:len(b.data):len(b.data)], rc: b.rc}, nil
}

// ReadRetainedSlice cuts the next n readable bytes into a retained view and
// advances the reader index past them.
func (b *Buf) ReadRetainedSlice(n int) (*Buf, error) {
	if n < 0 || n > b.Readable() {
		return nil, ErrOutOfRange
	}
	if err := b.Retain(); err != nil {
		return nil, err
	}
	end := b.r + n
	v := &Buf{data: b.data[b.r:end:end], rc: b.rc}
	b.r = end
	return v, nil
}

// RetainedRange returns a retained view of n bytes starting off bytes past
// the reader index. The reader index does not move.
func (b *Buf) RetainedRange(off, n int) (*Buf, error) {
	if off < 0 || n < 0 || off+n > b.Readable() {
		return nil, ErrOutOfRange
	}
	if err := b.Retain(); err != nil {
		return nil, err
	}
	start := b.r + off
	end := start + n
	return &Buf{data: b.data[start:end:end], rc: b.rc}, nil
}

// SafeRelease releases b if it is non-nil and still referenced.
func SafeRelease(b *Buf) {
	if b != nil && b.RefCnt() > 0 {
		b.Release()
	}
}

// Tracker is an Allocator that counts allocations, frees and over-releases.
// Tests use it to prove every buffer was released exactly once.
type Tracker struct {
	allocated    atomic.Int64
	freed        atomic.Int64
	overReleased atomic.Int64
}

func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) Allocate(n int) *Buf { return newBuf(make([]byte, n), t) }
func (t *Tracker) Wrap(b []byte) *Buf  { return newBuf(b, t) }

// Live is the number of allocated buffers not yet freed.
func (t *Tracker) Live() int64 {
	return t.allocated.Load() - t.freed.Load()
}

func (t *Tracker) Allocated() int64 {
	return t.allocated.Load()
}

func (t *Tracker) OverReleased() int64 {
	return t.overReleased.Load()
}
