// Package fragment splits outbound payloads into MTU-bounded frames and
// reassembles inbound fragments into one payload.
package fragment

import (
	"errors"

	"github.com/danmuck/rsockcore/internal/buffer"
	"github.com/danmuck/rsockcore/internal/payload"
	"github.com/danmuck/rsockcore/internal/protocol/frame"
)

// MinMTU is the smallest fragment size accepted when fragmentation is on.
const MinMTU = 64

var (
	ErrPayloadTooLarge = errors.New("fragment: too big payload size")
	ErrInvalidMTU      = errors.New("fragment: mtu below minimum")
	ErrDone            = errors.New("fragment: no more frames")
)

// ValidMTU reports whether mtu disables fragmentation or fits a frame.
func ValidMTU(mtu int) bool {
	return mtu == 0 || (mtu >= MinMTU && mtu <= frame.MaxFrameLength)
}

// Encoder emits the frames for one payload in order. It owns retained views
// of the payload's metadata and data and releases them exactly once, whether
// it is drained or closed early. The caller still owns the payload itself.
//
// An Encoder is used by one goroutine.
type Encoder struct {
	alloc    buffer.Allocator
	mtu      int
	first    frame.Header
	complete bool

	hasMetadata bool
	metadata    *buffer.Buf
	data        *buffer.Buf

	started bool
	done    bool
}

// Request encodes p as a REQUEST_RESPONSE frame or fragment sequence.
func Request(alloc buffer.Allocator, mtu int, streamID uint32, p *payload.Payload) (*Encoder, error) {
	return newEncoder(alloc, mtu, frame.Header{StreamID: streamID, Type: frame.TypeRequestResponse}, false, p)
}

// Response encodes p as PAYLOAD frames with NEXT set and COMPLETE on the last one.
func Response(alloc buffer.Allocator, mtu int, streamID uint32, p *payload.Payload) (*Encoder, error) {
	return newEncoder(alloc, mtu, frame.Header{StreamID: streamID, Type: frame.TypePayload, Flags: frame.FlagNext}, true, p)
}

func newEncoder(alloc buffer.Allocator, mtu int, first frame.Header, complete bool, p *payload.Payload) (*Encoder, error) {
	if !ValidMTU(mtu) {
		return nil, ErrInvalidMTU
	}
	if p.RefCnt() <= 0 {
		return nil, buffer.ErrIllegalRefCount
	}
	data, err := p.DataBuf().RetainedSlice()
	if err != nil {
		return nil, err
	}
	e := &Encoder{
		alloc:       alloc,
		mtu:         mtu,
		first:       first,
		complete:    complete,
		hasMetadata: p.HasMetadata(),
		data:        data,
	}
	if e.hasMetadata {
		md, err := p.MetadataBuf().RetainedSlice()
		if err != nil {
			e.Close()
			return nil, err
		}
		e.metadata = md
	}
	if mtu == 0 && frame.Size(first.Type, e.hasMetadata, e.metadataLen(), data.Readable()) > frame.MaxFrameLength {
		e.Close()
		return nil, ErrPayloadTooLarge
	}
	return e, nil
}

// More reports whether Next has another frame to produce.
func (e *Encoder) More() bool {
	return !e.done
}

// Next returns the next frame. The caller owns the returned buffer.
func (e *Encoder) Next() (*buffer.Buf, error) {
	if e.done {
		return nil, ErrDone
	}
	if !e.started {
		e.started = true
		if e.mtu == 0 || frame.Size(e.first.Type, e.hasMetadata, e.metadataLen(), e.data.Readable()) <= e.mtu {
			return e.whole()
		}
		return e.fragment(e.first, e.hasMetadata)
	}
	h := frame.Header{StreamID: e.first.StreamID, Type: frame.TypePayload, Flags: frame.FlagNext}
	return e.fragment(h, e.metadataLen() > 0)
}

// Close releases any views not yet drained. It is safe to call repeatedly.
func (e *Encoder) Close() {
	e.done = true
	if e.data != nil {
		e.data.Release()
		e.data = nil
	}
	if e.metadata != nil {
		e.metadata.Release()
		e.metadata = nil
	}
}

func (e *Encoder) whole() (*buffer.Buf, error) {
	h := e.first
	if e.complete {
		h.Flags |= frame.FlagComplete
	}
	var md []byte
	if e.metadata != nil {
		md = e.metadata.Bytes()
	}
	fr, err := frame.Encode(e.alloc, h, e.hasMetadata, md, e.data.Bytes())
	e.Close()
	if err != nil {
		if errors.Is(err, frame.ErrFrameTooLarge) {
			return nil, ErrPayloadTooLarge
		}
		return nil, err
	}
	return fr, nil
}

// fragment fills one mtu-sized frame, metadata first, then data.
func (e *Encoder) fragment(h frame.Header, withMetadata bool) (*buffer.Buf, error) {
	remaining := e.mtu - frame.Size(h.Type, withMetadata, 0, 0)

	var mdPart *buffer.Buf
	if withMetadata && e.metadata != nil {
		n := min(e.metadata.Readable(), remaining)
		part, err := e.metadata.ReadRetainedSlice(n)
		if err != nil {
			e.Close()
			return nil, err
		}
		mdPart = part
		remaining -= n
	}
	dataPart, err := e.data.ReadRetainedSlice(min(e.data.Readable(), remaining))
	if err != nil {
		buffer.SafeRelease(mdPart)
		e.Close()
		return nil, err
	}

	follows := e.data.IsReadable() || e.metadataLen() > 0
	if follows {
		h.Flags |= frame.FlagFollows
	} else if e.complete {
		h.Flags |= frame.FlagComplete
	}

	var md []byte
	if mdPart != nil {
		md = mdPart.Bytes()
	}
	fr, err := frame.Encode(e.alloc, h, withMetadata, md, dataPart.Bytes())
	buffer.SafeRelease(mdPart)
	dataPart.Release()
	if err != nil || !follows {
		e.Close()
	}
	return fr, err
}

func (e *Encoder) metadataLen() int {
	if e.metadata == nil {
		return 0
	}
	return e.metadata.Readable()
}
