// Package streamid allocates per-connection stream ids.
package streamid

import (
	"sync/atomic"

	"github.com/danmuck/rsockcore/internal/protocol/frame"
)

// InUse reports ids that must be skipped.
type InUse interface {
	Contains(id uint32) bool
}

// Supplier hands out odd ids to clients and even ids to servers,
// incrementing by two and skipping ids still active after wraparound.
type Supplier struct {
	next atomic.Int64
}

// Client returns a supplier yielding 1, 3, 5, ...
func Client() *Supplier {
	s := &Supplier{}
	s.next.Store(-1)
	return s
}

// Server returns a supplier yielding 2, 4, 6, ...
func Server() *Supplier {
	return &Supplier{}
}

// Next returns a fresh id that is neither 0 nor present in active.
func (s *Supplier) Next(active InUse) uint32 {
	for {
		id := uint32(s.next.Add(2) & frame.StreamIDMask)
		if id == 0 {
			continue
		}
		if active != nil && active.Contains(id) {
			continue
		}
		return id
	}
}

// IsBeforeOrCurrent reports whether id is at or below the last id handed out,
// i.e. it belongs to a stream this side already opened.
func (s *Supplier) IsBeforeOrCurrent(id uint32) bool {
	return s.next.Load() >= int64(id) && id > 0
}
