// Package payload defines the data/metadata pair carried by request and
// response frames.
package payload

import (
	"fmt"
	"sync/atomic"

	"github.com/danmuck/rsockcore/internal/buffer"
)

// Payload is immutable once published and reference counted. Its data and
// metadata buffers are owned by the payload and released when the payload's
// own count reaches zero.
type Payload struct {
	data     *buffer.Buf
	metadata *buffer.Buf
	refs     atomic.Int32
	pinned   bool
}

// Empty carries no data and no metadata. It is never freed.
var Empty = &Payload{data: buffer.Default.Wrap(nil), pinned: true}

// New takes ownership of data and metadata. A nil metadata slice means the
// payload has no metadata; an empty non-nil slice means empty metadata.
func New(alloc buffer.Allocator, data, metadata []byte) *Payload {
	if alloc == nil {
		alloc = buffer.Default
	}
	var md *buffer.Buf
	if metadata != nil {
		md = alloc.Wrap(metadata)
	}
	return FromBufs(alloc.Wrap(data), md)
}

// NewString builds a payload that always has metadata.
func NewString(alloc buffer.Allocator, data, metadata string) *Payload {
	return New(alloc, []byte(data), []byte(metadata))
}

// NewData builds a payload without metadata.
func NewData(alloc buffer.Allocator, data []byte) *Payload {
	return New(alloc, data, nil)
}

// FromBufs transfers ownership of data and metadata (which may be nil).
func FromBufs(data, metadata *buffer.Buf) *Payload {
	if data == nil {
		data = buffer.Default.Wrap(nil)
	}
	p := &Payload{data: data, metadata: metadata}
	p.refs.Store(1)
	return p
}

func (p *Payload) Data() []byte {
	return p.data.Bytes()
}

// Metadata returns nil when the payload has no metadata.
func (p *Payload) Metadata() []byte {
	if p.metadata == nil {
		return nil
	}
	return p.metadata.Bytes()
}

func (p *Payload) HasMetadata() bool {
	return p.metadata != nil
}

func (p *Payload) DataBuf() *buffer.Buf {
	return p.data
}

func (p *Payload) MetadataBuf() *buffer.Buf {
	return p.metadata
}

func (p *Payload) RefCnt() int32 {
	if p.pinned {
		return 1
	}
	return p.refs.Load()
}

func (p *Payload) Retain() error {
	if p.pinned {
		return nil
	}
	for {
		n := p.refs.Load()
		if n <= 0 {
			return buffer.ErrIllegalRefCount
		}
		if p.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Release drops one reference and reports whether this call freed the payload.
func (p *Payload) Release() bool {
	if p.pinned {
		return false
	}
	for {
		n := p.refs.Load()
		if n <= 0 {
			return false
		}
		if p.refs.CompareAndSwap(n, n-1) {
			if n != 1 {
				return false
			}
			p.data.Release()
			if p.metadata != nil {
				p.metadata.Release()
			}
			return true
		}
	}
}

func (p *Payload) String() string {
	if p.metadata == nil {
		return fmt.Sprintf("Payload{data=%d bytes}", p.data.Readable())
	}
	return fmt.Sprintf("Payload{data=%d bytes, metadata=%d bytes}", p.data.Readable(), p.metadata.Readable())
}

// SafeRelease releases p if it is non-nil and still referenced.
func SafeRelease(p *Payload) {
	if p != nil && p.RefCnt() > 0 {
		p.Release()
	}
}
