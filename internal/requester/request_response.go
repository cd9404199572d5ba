package requester

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/danmuck/rsockcore/internal/buffer"
	"github.com/danmuck/rsockcore/internal/hooks"
	"github.com/danmuck/rsockcore/internal/logging"
	"github.com/danmuck/rsockcore/internal/observability"
	"github.com/danmuck/rsockcore/internal/payload"
	"github.com/danmuck/rsockcore/internal/protocol/fragment"
	"github.com/danmuck/rsockcore/internal/protocol/frame"
	"github.com/danmuck/rsockcore/internal/protocol/registry"
	"github.com/danmuck/rsockcore/internal/protocol/streamid"
)

const role = "requester"

// stateCancelled is TERMINATED reached through Cancel. It is reported as
// StateTerminated; the emitter needs the distinction to decide whether a
// CANCEL frame is owed.
const stateCancelled = int32(StateTerminated) + 1

// stateCancelledUnsubscribed is a Cancel that won before any Subscribe, so a
// later subscriber is told the interaction was cancelled rather than taken.
const stateCancelledUnsubscribed = stateCancelled + 1

// Sink accepts encoded frames in order and owns them once pushed.
type Sink interface {
	Push(fr *buffer.Buf) bool
}

// Options are the connection-scoped collaborators shared by interactions.
type Options struct {
	Allocator buffer.Allocator
	// MTU bounds outbound frames; 0 disables fragmentation.
	MTU          int
	Availability Availability
	StreamIDs    *streamid.Supplier
	Registry     *registry.Registry
	Sink         Sink
}

// RequestResponse is one request/response interaction. Nothing touches the
// wire until the first positive Request.
type RequestResponse struct {
	alloc   buffer.Allocator
	payload *payload.Payload
	mtu     int
	avail   Availability
	ids     *streamid.Supplier
	streams *registry.Registry
	out     Sink

	state    atomic.Int32
	streamID atomic.Uint32
	emitting atomic.Bool
	actual   atomic.Pointer[subscriberRef]

	reassembler *fragment.Reassembler
	logger      zerolog.Logger
}

type subscriberRef struct {
	Subscriber
}

// New takes ownership of p. The payload is released exactly once whatever
// the interaction's outcome.
func New(opts Options, p *payload.Payload) *RequestResponse {
	alloc := opts.Allocator
	if alloc == nil {
		alloc = buffer.Default
	}
	return &RequestResponse{
		alloc:       alloc,
		payload:     p,
		mtu:         opts.MTU,
		avail:       opts.Availability,
		ids:         opts.StreamIDs,
		streams:     opts.Registry,
		out:         opts.Sink,
		reassembler: fragment.NewReassembler(alloc),
		logger:      logging.For(role),
	}
}

// State collapses the cancelled marker into StateTerminated.
func (rr *RequestResponse) State() State {
	s := rr.state.Load()
	if s >= int32(StateTerminated) {
		return StateTerminated
	}
	return State(s)
}

// StreamID is 0 until the first frame is about to be emitted.
func (rr *RequestResponse) StreamID() uint32 {
	return rr.streamID.Load()
}

func (rr *RequestResponse) String() string {
	return fmt.Sprintf("RequestResponse{stream=%d state=%s}", rr.StreamID(), rr.State())
}

// Subscribe attaches sub. Only the first caller is attached; every other
// caller receives a no-op subscription followed by an error.
func (rr *RequestResponse) Subscribe(sub Subscriber) {
	if rr.state.CompareAndSwap(int32(StateUnsubscribed), int32(StateSubscribed)) {
		rr.actual.Store(&subscriberRef{sub})
		sub.OnSubscribe(rr)
		return
	}
	sub.OnSubscribe(noopSubscription{})
	if rr.state.Load() == stateCancelledUnsubscribed {
		sub.OnError(ErrCancelled)
		return
	}
	sub.OnError(ErrSingleSubscriber)
}

// Request sends the request on the first positive demand. The goroutine that
// wins SUBSCRIBED -> REQUESTED owns the payload and the whole frame emission.
func (rr *RequestResponse) Request(n int64) {
	if n <= 0 {
		hooks.OnErrorDropped(fmt.Errorf("%w: %d", ErrInvalidDemand, n))
		return
	}
	if rr.state.Load() != int32(StateSubscribed) ||
		!rr.state.CompareAndSwap(int32(StateSubscribed), int32(StateRequested)) {
		return
	}

	p := rr.payload
	if err := rr.checkAvailable(); err != nil {
		p.Release()
		rr.fail(err, observability.OutcomeRejected)
		return
	}
	if p.RefCnt() <= 0 {
		rr.fail(buffer.ErrIllegalRefCount, observability.OutcomeRejected)
		return
	}

	id := rr.ids.Next(rr.streams)
	enc, err := fragment.Request(rr.alloc, rr.mtu, id, p)
	p.Release()
	if err != nil {
		rr.fail(err, observability.OutcomeRejected)
		return
	}

	rr.emitting.Store(true)
	err = rr.emit(enc, id)
	enc.Close()
	rr.emitting.Store(false)
	if err != nil {
		rr.fail(err, observability.OutcomeErrored)
	}
	rr.settle(id)
}

func (rr *RequestResponse) checkAvailable() error {
	if rr.avail == nil {
		return nil
	}
	return rr.avail.CheckAvailable()
}

// emit registers the interaction before its first frame is pushed, then
// pushes the rest in order until the encoder is drained or the interaction
// terminates underneath it.
func (rr *RequestResponse) emit(enc *fragment.Encoder, id uint32) error {
	rr.streamID.Store(id)
	if rr.state.Load() != int32(StateRequested) {
		return nil
	}
	first, err := enc.Next()
	if err != nil {
		return err
	}
	if !rr.streams.PutIfAbsent(id, rr) {
		first.Release()
		return fmt.Errorf("%w: %d", ErrStreamInUse, id)
	}
	rr.out.Push(first)
	frames := 1
	for enc.More() && rr.state.Load() == int32(StateRequested) {
		fr, err := enc.Next()
		if err != nil {
			return err
		}
		rr.out.Push(fr)
		frames++
	}
	rr.logger.Debug().Uint32("stream_id", id).Int("frames", frames).Int("mtu", rr.mtu).Msg("request sent")
	return nil
}

// settle runs after emission. A Cancel that landed while frames were being
// pushed leaves the wire cleanup to this goroutine so the CANCEL frame never
// overtakes the request.
func (rr *RequestResponse) settle(id uint32) {
	switch rr.state.Load() {
	case stateCancelled:
		if rr.streams.RemoveIfSame(id, rr) {
			rr.sendCancel(id)
		}
	case int32(StateTerminated):
		rr.streams.RemoveIfSame(id, rr)
	}
}

// terminate moves any live state to target(prev) and returns the state it
// left.
func (rr *RequestResponse) terminate(target func(prev int32) int32) (int32, bool) {
	for {
		s := rr.state.Load()
		if s >= int32(StateTerminated) {
			return s, false
		}
		if rr.state.CompareAndSwap(s, target(s)) {
			return s, true
		}
	}
}

func terminated(int32) int32 {
	return int32(StateTerminated)
}

// cancelState picks the cancelled marker for a Cancel leaving s.
func cancelState(s int32) int32 {
	if s == int32(StateUnsubscribed) {
		return stateCancelledUnsubscribed
	}
	return stateCancelled
}

// release drops the outbound payload if demand never took it over.
func (rr *RequestResponse) release(prev int32) {
	if prev < int32(StateRequested) {
		rr.payload.Release()
	}
}

func (rr *RequestResponse) subscriber() Subscriber {
	if ref := rr.actual.Load(); ref != nil {
		return ref.Subscriber
	}
	return nil
}

// fail terminates from the emitting goroutine. Once registered, the CANCEL
// frame goes out only if this call is the one that removed the entry.
func (rr *RequestResponse) fail(err error, outcome string) {
	if _, ok := rr.terminate(terminated); !ok {
		hooks.OnErrorDropped(err)
		return
	}
	rr.reassembler.Dispose()
	if id := rr.streamID.Load(); id != 0 && rr.streams.RemoveIfSame(id, rr) {
		rr.sendCancel(id)
	}
	observability.RecordInteraction(role, outcome)
	rr.logger.Debug().Err(err).Uint32("stream_id", rr.streamID.Load()).Msg("request failed")
	rr.deliverError(err)
}

// OnNext terminates with p (nil means no value). A payload arriving after
// termination is reported to hooks and released.
func (rr *RequestResponse) OnNext(p *payload.Payload) {
	prev, ok := rr.terminate(terminated)
	if !ok {
		rr.dropNext(p)
		return
	}
	rr.finish(prev)
	observability.RecordInteraction(role, observability.OutcomeCompleted)

	sub := rr.subscriber()
	if sub == nil {
		rr.dropNext(p)
		return
	}
	if p != nil {
		sub.OnNext(p)
	}
	sub.OnComplete()
}

// dropNext hands a late value or completion to hooks.
func (rr *RequestResponse) dropNext(p *payload.Payload) {
	if p == nil {
		hooks.OnCompleteDropped()
		return
	}
	hooks.OnNextDropped(p)
}

func (rr *RequestResponse) OnComplete() {
	rr.OnNext(nil)
}

func (rr *RequestResponse) OnError(err error) {
	prev, ok := rr.terminate(terminated)
	if !ok {
		hooks.OnErrorDropped(err)
		return
	}
	rr.finish(prev)
	observability.RecordInteraction(role, observability.OutcomeErrored)
	rr.deliverError(err)
}

func (rr *RequestResponse) deliverError(err error) {
	sub := rr.subscriber()
	if sub == nil {
		hooks.OnErrorDropped(err)
		return
	}
	sub.OnError(err)
}

// finish is the shared cleanup of a winning terminal signal.
func (rr *RequestResponse) finish(prev int32) {
	rr.reassembler.Dispose()
	rr.release(prev)
	if id := rr.streamID.Load(); id != 0 {
		rr.streams.RemoveIfSame(id, rr)
	}
}

// Reassemble feeds one inbound PAYLOAD fragment. The caller keeps its
// reference to fr. Fragments arriving after termination are ignored.
func (rr *RequestResponse) Reassemble(fr *buffer.Buf, hasFollows bool) {
	if rr.state.Load() >= int32(StateTerminated) {
		return
	}
	p, err := rr.reassembler.Append(fr, hasFollows)
	if err != nil {
		if errors.Is(err, fragment.ErrDisposed) {
			return
		}
		rr.OnError(err)
		return
	}
	if p != nil {
		rr.OnNext(p)
	}
}

// Cancel terminates the interaction. Before demand it only releases the
// payload. After demand it sends CANCEL if it removed the registry entry.
func (rr *RequestResponse) Cancel() {
	prev, ok := rr.terminate(cancelState)
	if !ok {
		return
	}
	rr.reassembler.Dispose()
	observability.RecordInteraction(role, observability.OutcomeCancelled)
	if prev < int32(StateRequested) {
		rr.release(prev)
		return
	}
	if rr.emitting.Load() {
		return
	}
	if id := rr.streamID.Load(); id != 0 && rr.streams.RemoveIfSame(id, rr) {
		rr.sendCancel(id)
	}
}

func (rr *RequestResponse) sendCancel(id uint32) {
	rr.logger.Debug().Uint32("stream_id", id).Msg("cancel sent")
	rr.out.Push(frame.EncodeCancel(rr.alloc, id))
}
