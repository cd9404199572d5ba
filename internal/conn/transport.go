package conn

import (
	"context"
	"crypto/tls"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/danmuck/rsockcore/internal/logging"
)

// Dial connects to addr over TCP as the client side. With opts.TLS set the
// handshake completes before the connection is returned.
func Dial(ctx context.Context, addr string, opts Options) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if opts.TLS != nil {
		tc := tls.Client(nc, opts.TLS)
		if err := tc.HandshakeContext(ctx); err != nil {
			nc.Close()
			return nil, err
		}
		nc = tc
	}
	opts.Role = RoleClient
	c, err := New(nc, opts)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

// Serve accepts connections on ln as the server side and runs each one until
// ctx ends. onConn, if set, sees every accepted connection before it runs.
func Serve(ctx context.Context, ln net.Listener, opts Options, onConn func(*Conn)) error {
	opts.Role = RoleServer
	if opts.TLS != nil {
		ln = tls.NewListener(ln, opts.TLS)
	}
	logger := logging.For("conn")
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		ln.Close()
		return nil
	})
	g.Go(func() error {
		for {
			nc, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			c, err := New(nc, opts)
			if err != nil {
				nc.Close()
				return err
			}
			logger.Info().Str("conn_id", c.ID()).Str("remote", nc.RemoteAddr().String()).Bool("tls", opts.TLS != nil).Msg("accepted")
			if onConn != nil {
				onConn(c)
			}
			g.Go(func() error {
				if err := c.Run(ctx); err != nil {
					logger.Warn().Err(err).Str("conn_id", c.ID()).Msg("connection ended")
				}
				return nil
			})
		}
	})
	return g.Wait()
}
