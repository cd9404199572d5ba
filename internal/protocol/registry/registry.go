// Package registry tracks the active streams of one connection by stream id.
package registry

import (
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/danmuck/rsockcore/internal/buffer"
	"github.com/danmuck/rsockcore/internal/observability"
)

// Stream is the inbound side of an interaction as seen by the dispatcher.
type Stream interface {
	// Reassemble consumes one PAYLOAD fragment. The caller keeps its
	// reference to fr.
	Reassemble(fr *buffer.Buf, hasFollows bool)
	OnComplete()
	OnError(err error)
}

// Registry is a sharded map of stream id to Stream. Entries are compared by
// identity, so implementations must be pointer types.
type Registry struct {
	streams cmap.ConcurrentMap[uint32, Stream]
}

func shard(id uint32) uint32 {
	// ids advance by two; fold the parity bit away so both sides spread evenly
	return id>>1 ^ id>>7
}

func New() *Registry {
	return &Registry{streams: cmap.NewWithCustomShardingFunction[uint32, Stream](shard)}
}

// PutIfAbsent registers s under id and reports whether it won the slot.
func (r *Registry) PutIfAbsent(id uint32, s Stream) bool {
	if !r.streams.SetIfAbsent(id, s) {
		return false
	}
	observability.AddActiveStreams(1)
	return true
}

// RemoveIfSame removes the entry for id only if it still maps to s. A true
// result is the sole license to put a CANCEL frame on the wire for id.
func (r *Registry) RemoveIfSame(id uint32, s Stream) bool {
	removed := r.streams.RemoveCb(id, func(_ uint32, cur Stream, exists bool) bool {
		return exists && cur == s
	})
	if removed {
		observability.AddActiveStreams(-1)
	}
	return removed
}

func (r *Registry) Get(id uint32) (Stream, bool) {
	return r.streams.Get(id)
}

// Contains satisfies streamid.InUse.
func (r *Registry) Contains(id uint32) bool {
	return r.streams.Has(id)
}

func (r *Registry) Len() int {
	return r.streams.Count()
}

// Drain removes every entry that still maps to the stream seen in the
// snapshot and returns the removed streams.
func (r *Registry) Drain() []Stream {
	var out []Stream
	for id, s := range r.streams.Items() {
		if r.RemoveIfSame(id, s) {
			out = append(out, s)
		}
	}
	return out
}
