package conn

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/danmuck/rsockcore/internal/buffer"
	"github.com/danmuck/rsockcore/internal/observability"
	"github.com/danmuck/rsockcore/internal/payload"
	"github.com/danmuck/rsockcore/internal/protocol"
	"github.com/danmuck/rsockcore/internal/protocol/fragment"
	"github.com/danmuck/rsockcore/internal/protocol/frame"
)

const responderRole = "responder"

// responder serves one peer-initiated request. It sits in the same registry
// as outbound interactions; parity keeps the ids apart.
type responder struct {
	c           *Conn
	id          uint32
	reassembler *fragment.Reassembler
	ctx         context.Context
	cancel      context.CancelFunc
	started     atomic.Bool
}

func newResponder(c *Conn, id uint32) *responder {
	ctx, cancel := context.WithCancel(context.Background())
	return &responder{
		c:           c,
		id:          id,
		reassembler: fragment.NewReassembler(c.alloc),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (r *responder) Reassemble(fr *buffer.Buf, hasFollows bool) {
	p, err := r.reassembler.Append(fr, hasFollows)
	if err != nil {
		if errors.Is(err, fragment.ErrDisposed) {
			return
		}
		if r.remove() {
			r.c.out.Push(frame.EncodeError(r.c.alloc, r.id, protocol.CodeInvalid, err.Error()))
			observability.RecordInteraction(responderRole, observability.OutcomeErrored)
		}
		return
	}
	if p == nil {
		return
	}
	if !r.started.CompareAndSwap(false, true) {
		p.Release()
		return
	}
	r.c.handlers.Add(1)
	go r.serve(p)
}

// OnComplete has no meaning for an inbound request.
func (r *responder) OnComplete() {}

// OnError is a peer ERROR on the request stream or connection teardown.
func (r *responder) OnError(err error) {
	r.c.logger.Debug().Err(err).Uint32("stream_id", r.id).Msg("responder stream failed")
	r.stop()
	r.remove()
}

func (r *responder) cancelled() {
	if r.remove() {
		observability.RecordInteraction(responderRole, observability.OutcomeCancelled)
	}
	r.stop()
}

func (r *responder) stop() {
	r.cancel()
	r.reassembler.Dispose()
}

func (r *responder) remove() bool {
	return r.c.streams.RemoveIfSame(r.id, r)
}

func (r *responder) serve(req *payload.Payload) {
	defer r.c.handlers.Done()
	defer r.stop()

	resp, err := r.c.opts.Handler(r.ctx, req)
	req.Release()

	// whoever removes the entry owns the terminal frame
	if !r.remove() {
		payload.SafeRelease(resp)
		return
	}
	if err != nil {
		payload.SafeRelease(resp)
		wireErr := protocol.AsError(err)
		r.c.out.Push(frame.EncodeError(r.c.alloc, r.id, wireErr.Code, wireErr.Message))
		observability.RecordInteraction(responderRole, observability.OutcomeErrored)
		return
	}
	if resp == nil {
		fr, err := frame.EncodePayload(r.c.alloc, r.id, frame.FlagComplete, false, nil, nil)
		if err == nil {
			r.c.out.Push(fr)
		}
		observability.RecordInteraction(responderRole, observability.OutcomeCompleted)
		return
	}
	r.respond(resp)
}

func (r *responder) respond(resp *payload.Payload) {
	enc, err := fragment.Response(r.c.alloc, r.c.opts.MTU, r.id, resp)
	resp.Release()
	if err != nil {
		wireErr := protocol.ApplicationError(err.Error())
		r.c.out.Push(frame.EncodeError(r.c.alloc, r.id, wireErr.Code, wireErr.Message))
		observability.RecordInteraction(responderRole, observability.OutcomeErrored)
		return
	}
	defer enc.Close()
	for enc.More() {
		fr, err := enc.Next()
		if err != nil {
			r.c.logger.Warn().Err(err).Uint32("stream_id", r.id).Msg("response encoding failed")
			return
		}
		r.c.out.Push(fr)
	}
	observability.RecordInteraction(responderRole, observability.OutcomeCompleted)
}
