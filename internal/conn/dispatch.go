package conn

import (
	"github.com/danmuck/rsockcore/internal/buffer"
	"github.com/danmuck/rsockcore/internal/observability"
	"github.com/danmuck/rsockcore/internal/protocol"
	"github.com/danmuck/rsockcore/internal/protocol/frame"
)

// dispatch routes one inbound frame. The caller releases fr afterwards.
func (c *Conn) dispatch(fr *buffer.Buf) {
	b := fr.Bytes()
	hdr, err := frame.DecodeHeader(b)
	if err != nil {
		c.logger.Debug().Err(err).Msg("undecodable frame dropped")
		return
	}
	observability.RecordFrameReceived(hdr.Type.String())
	if e := c.logger.Trace(); e.Enabled() {
		e.Str("frame", frame.Dump(b)).Msg("recv")
	}
	if hdr.StreamID == 0 {
		// connection-level frames (setup, keepalive, lease) are not handled here
		c.logger.Debug().Str("frame_type", hdr.Type.String()).Msg("connection frame ignored")
		return
	}

	switch hdr.Type {
	case frame.TypeRequestResponse:
		c.accept(fr, hdr)
	case frame.TypePayload:
		s, ok := c.streams.Get(hdr.StreamID)
		if !ok {
			c.unknown(hdr)
			return
		}
		switch {
		case hdr.Flags.Has(frame.FlagNext):
			s.Reassemble(fr, hdr.Flags.Has(frame.FlagFollows))
		case hdr.Flags.Has(frame.FlagComplete):
			s.OnComplete()
		}
	case frame.TypeError:
		s, ok := c.streams.Get(hdr.StreamID)
		if !ok {
			c.unknown(hdr)
			return
		}
		wireErr, err := frame.WireError(b)
		if err != nil {
			s.OnError(err)
			return
		}
		s.OnError(wireErr)
	case frame.TypeCancel:
		s, ok := c.streams.Get(hdr.StreamID)
		if !ok {
			c.unknown(hdr)
			return
		}
		if r, ok := s.(*responder); ok {
			r.cancelled()
		}
	case frame.TypeRequestN:
		// single-item interactions carry no credit
	default:
		c.logger.Debug().
			Uint32("stream_id", hdr.StreamID).
			Str("frame_type", hdr.Type.String()).
			Msg("unsupported frame dropped")
	}
}

// accept registers a peer-initiated request/response stream.
func (c *Conn) accept(fr *buffer.Buf, hdr frame.Header) {
	if c.localStream(hdr.StreamID) {
		c.logger.Warn().Uint32("stream_id", hdr.StreamID).Msg("request with local stream id parity")
		c.out.Push(frame.EncodeError(c.alloc, hdr.StreamID, protocol.CodeInvalid, "stream id parity"))
		return
	}
	if c.opts.Handler == nil {
		c.out.Push(frame.EncodeError(c.alloc, hdr.StreamID, protocol.CodeRejected, "no handler"))
		observability.RecordInteraction(responderRole, observability.OutcomeRejected)
		return
	}
	if err := c.CheckAvailable(); err != nil {
		return
	}
	r := newResponder(c, hdr.StreamID)
	if !c.streams.PutIfAbsent(hdr.StreamID, r) {
		c.logger.Warn().Uint32("stream_id", hdr.StreamID).Msg("duplicate request stream dropped")
		r.stop()
		return
	}
	r.Reassemble(fr, hdr.Flags.Has(frame.FlagFollows))
}

func (c *Conn) localStream(id uint32) bool {
	odd := id%2 == 1
	return odd == (c.opts.Role == RoleClient)
}

type orphan int

const (
	// orphanPeer is a peer-parity id with no live responder.
	orphanPeer orphan = iota
	// orphanLate belongs to a local stream that already terminated.
	orphanLate
	// orphanUnopened names a local-parity id this side never handed out.
	orphanUnopened
)

// unknown drops a frame whose stream is not registered and reports which
// kind of orphan it was.
func (c *Conn) unknown(hdr frame.Header) orphan {
	kind := orphanPeer
	if c.localStream(hdr.StreamID) {
		kind = orphanLate
		if !c.ids.IsBeforeOrCurrent(hdr.StreamID) {
			kind = orphanUnopened
		}
	}
	switch kind {
	case orphanUnopened:
		observability.RecordDropped("unopened_stream")
		c.logger.Warn().
			Uint32("stream_id", hdr.StreamID).
			Str("frame_type", hdr.Type.String()).
			Msg("frame for never opened stream dropped")
	case orphanLate:
		c.logger.Debug().
			Uint32("stream_id", hdr.StreamID).
			Str("frame_type", hdr.Type.String()).
			Msg("late frame for finished stream dropped")
	default:
		c.logger.Debug().
			Uint32("stream_id", hdr.StreamID).
			Str("frame_type", hdr.Type.String()).
			Msg("frame for unknown stream dropped")
	}
	return kind
}
