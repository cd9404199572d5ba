// Package conn runs request/response interactions over one ordered,
// length-prefixed byte stream.
package conn

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/rsockcore/internal/buffer"
	"github.com/danmuck/rsockcore/internal/logging"
	"github.com/danmuck/rsockcore/internal/observability"
	"github.com/danmuck/rsockcore/internal/payload"
	"github.com/danmuck/rsockcore/internal/protocol/fragment"
	"github.com/danmuck/rsockcore/internal/protocol/frame"
	"github.com/danmuck/rsockcore/internal/protocol/registry"
	"github.com/danmuck/rsockcore/internal/protocol/sink"
	"github.com/danmuck/rsockcore/internal/protocol/streamid"
	"github.com/danmuck/rsockcore/internal/requester"
)

var (
	ErrClosed     = errors.New("conn: connection closed")
	ErrInvalidMTU = errors.New("conn: invalid mtu")
)

type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// Handler answers one inbound request. The request payload is released by
// the connection once Handler returns; a nil response completes the stream
// without a value.
type Handler func(ctx context.Context, req *payload.Payload) (*payload.Payload, error)

type Options struct {
	Role      Role
	MTU       int
	Limits    frame.Limits
	Allocator buffer.Allocator
	// Handler serves peer-initiated requests. Without one they are rejected.
	Handler Handler
	// TLS, when set, wraps the transports made by Dial and Serve.
	TLS *tls.Config
}

// Conn multiplexes interactions on one transport.
type Conn struct {
	id      string
	rw      io.ReadWriteCloser
	opts    Options
	alloc   buffer.Allocator
	ids     *streamid.Supplier
	streams *registry.Registry
	out     *sink.Queue
	logger  zerolog.Logger

	handlers  sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func New(rw io.ReadWriteCloser, opts Options) (*Conn, error) {
	if !fragment.ValidMTU(opts.MTU) {
		return nil, ErrInvalidMTU
	}
	if opts.Allocator == nil {
		opts.Allocator = buffer.Default
	}
	if opts.Limits.MaxFrameBytes == 0 {
		opts.Limits = frame.DefaultLimits()
	}
	ids := streamid.Client()
	if opts.Role == RoleServer {
		ids = streamid.Server()
	}
	id := uuid.NewString()
	return &Conn{
		id:      id,
		rw:      rw,
		opts:    opts,
		alloc:   opts.Allocator,
		ids:     ids,
		streams: registry.New(),
		out:     sink.New(),
		logger:  logging.For("conn").With().Str("conn_id", id).Str("role", opts.Role.String()).Logger(),
		done:    make(chan struct{}),
	}, nil
}

func (c *Conn) ID() string {
	return c.id
}

// ActiveStreams counts registered streams in both directions.
func (c *Conn) ActiveStreams() int {
	return c.streams.Len()
}

// CheckAvailable fails once the connection is closing.
func (c *Conn) CheckAvailable() error {
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}

// RequestResponse prepares an interaction for p. Nothing is sent until the
// interaction is subscribed and demanded.
func (c *Conn) RequestResponse(p *payload.Payload) *requester.RequestResponse {
	return requester.New(requester.Options{
		Allocator:    c.alloc,
		MTU:          c.opts.MTU,
		Availability: c,
		StreamIDs:    c.ids,
		Registry:     c.streams,
		Sink:         c.out,
	}, p)
}

// Request sends p and waits for the response.
func (c *Conn) Request(ctx context.Context, p *payload.Payload) (*payload.Payload, error) {
	return requester.Block(ctx, c.RequestResponse(p))
}

// Run drives the read and write loops until ctx ends, the peer goes away or
// either loop fails. The connection is closed on return.
func (c *Conn) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(c.readLoop)
	g.Go(func() error { return c.writeLoop(ctx) })
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-c.done:
		}
		c.Close()
		return nil
	})
	c.logger.Debug().Int("mtu", c.opts.MTU).Msg("connection running")

	err := g.Wait()
	c.handlers.Wait()
	if errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close fails every active stream with ErrClosed and drops undelivered
// frames. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.rw.Close()
		streams := c.streams.Drain()
		for _, s := range streams {
			s.OnError(ErrClosed)
		}
		dropped := c.out.Close()
		close(c.done)
		c.logger.Info().Int("streams", len(streams)).Int("dropped_frames", dropped).Msg("connection closed")
	})
	return err
}

// Done is closed once Close ran.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) readLoop() error {
	r := bufio.NewReader(c.rw)
	for {
		fr, err := frame.ReadFrame(r, c.alloc, c.opts.Limits)
		if err != nil {
			if c.closed.Load() || errors.Is(err, io.EOF) {
				return ErrClosed
			}
			c.logger.Warn().Err(err).Msg("read failed")
			return err
		}
		c.dispatch(fr)
		fr.Release()
	}
}

func (c *Conn) writeLoop(ctx context.Context) error {
	w := bufio.NewWriter(c.rw)
	for {
		for {
			fr, ok := c.out.Poll()
			if !ok {
				break
			}
			err := c.write(w, fr)
			fr.Release()
			if err != nil {
				return c.writeErr(err)
			}
		}
		if err := w.Flush(); err != nil {
			return c.writeErr(err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrClosed
		case <-c.out.Ready():
			if c.out.Closed() {
				return ErrClosed
			}
		}
	}
}

func (c *Conn) write(w io.Writer, fr *buffer.Buf) error {
	b := fr.Bytes()
	if hdr, err := frame.DecodeHeader(b); err == nil {
		observability.RecordFrameSent(hdr.Type.String())
	}
	if e := c.logger.Trace(); e.Enabled() {
		e.Str("frame", frame.Dump(b)).Msg("send")
	}
	return frame.WriteFrame(w, b)
}

func (c *Conn) writeErr(err error) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.logger.Warn().Err(err).Msg("write failed")
	return err
}
