package fragment

import (
	"errors"
	"sync/atomic"

	"github.com/danmuck/rsockcore/internal/buffer"
	"github.com/danmuck/rsockcore/internal/payload"
	"github.com/danmuck/rsockcore/internal/protocol/frame"
)

var ErrDisposed = errors.New("fragment: reassembler disposed")

// Reassembler concatenates the metadata and data of a fragment sequence.
//
// Append is called by one goroutine at a time (the inbound dispatcher).
// Dispose may race with it from any goroutine: the accumulator is checked out
// of the atomic slot for the duration of an Append, so exactly one side ends
// up releasing it.
type Reassembler struct {
	alloc buffer.Allocator
	slot  atomic.Pointer[accumulator]
}

// disposedMark occupies the slot once Dispose ran.
var disposedMark = &accumulator{}

type accumulator struct {
	metadata    []*buffer.Buf
	data        []*buffer.Buf
	hasMetadata bool
	metadataLen int
	dataLen     int
}

func NewReassembler(alloc buffer.Allocator) *Reassembler {
	if alloc == nil {
		alloc = buffer.Default
	}
	return &Reassembler{alloc: alloc}
}

// Append retains the metadata and data ranges of fr; the caller keeps its own
// reference to fr. When hasFollows is false the accumulated parts become one
// payload owned by the caller. A nil payload with a nil error means more
// fragments are expected.
func (r *Reassembler) Append(fr *buffer.Buf, hasFollows bool) (*payload.Payload, error) {
	cur := r.slot.Load()
	if cur == disposedMark || !r.slot.CompareAndSwap(cur, nil) {
		return nil, ErrDisposed
	}
	acc := cur
	if acc == nil {
		acc = &accumulator{}
	}
	if err := acc.add(fr); err != nil {
		r.checkIn(acc)
		return nil, err
	}
	if hasFollows {
		if !r.checkIn(acc) {
			return nil, ErrDisposed
		}
		return nil, nil
	}
	return acc.build(r.alloc), nil
}

// pending reports whether a partial sequence is accumulated.
func (r *Reassembler) pending() bool {
	cur := r.slot.Load()
	return cur != nil && cur != disposedMark
}

// Dispose releases any partial accumulation once and turns later Appends
// into no-ops.
func (r *Reassembler) Dispose() {
	old := r.slot.Swap(disposedMark)
	if old != nil && old != disposedMark {
		old.release()
	}
}

func (r *Reassembler) checkIn(acc *accumulator) bool {
	if r.slot.CompareAndSwap(nil, acc) {
		return true
	}
	acc.release()
	return false
}

func (a *accumulator) add(fr *buffer.Buf) error {
	b := fr.Bytes()
	md, hasMetadata, err := frame.Metadata(b)
	if err != nil {
		return err
	}
	data, err := frame.Data(b)
	if err != nil {
		return err
	}
	dataOff := len(b) - len(data)
	if hasMetadata {
		a.hasMetadata = true
		if len(md) > 0 {
			view, err := fr.RetainedRange(dataOff-len(md), len(md))
			if err != nil {
				return err
			}
			a.metadata = append(a.metadata, view)
			a.metadataLen += len(md)
		}
	}
	if len(data) > 0 {
		view, err := fr.RetainedRange(dataOff, len(data))
		if err != nil {
			return err
		}
		a.data = append(a.data, view)
		a.dataLen += len(data)
	}
	return nil
}

// build hands single-part sequences over without copying.
func (a *accumulator) build(alloc buffer.Allocator) *payload.Payload {
	data := join(alloc, a.data, a.dataLen)
	var md *buffer.Buf
	if a.hasMetadata {
		md = join(alloc, a.metadata, a.metadataLen)
	}
	a.metadata, a.data = nil, nil
	return payload.FromBufs(data, md)
}

func join(alloc buffer.Allocator, parts []*buffer.Buf, total int) *buffer.Buf {
	switch len(parts) {
	case 0:
		return alloc.Wrap([]byte{})
	case 1:
		return parts[0]
	}
	out := alloc.Allocate(total)
	dst := out.Bytes()
	off := 0
	for _, p := range parts {
		off += copy(dst[off:], p.Bytes())
		p.Release()
	}
	return out
}

func (a *accumulator) release() {
	for _, b := range a.metadata {
		b.Release()
	}
	for _, b := range a.data {
		b.Release()
	}
	a.metadata, a.data = nil, nil
}
