package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/rsockcore/internal/config"
	"github.com/danmuck/rsockcore/internal/conn"
	"github.com/danmuck/rsockcore/internal/logging"
	"github.com/danmuck/rsockcore/internal/observability"
	"github.com/danmuck/rsockcore/internal/payload"
)

var serveUpper bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "answer requests by echoing their payload",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.Role = config.RoleServer
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ln, err := net.Listen("tcp", cfg.Addr)
		if err != nil {
			return err
		}
		return serve(ctx, cfg, ln, echoHandler(serveUpper))
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveUpper, "upper", false, "upper-case the echoed data")
}

func echoHandler(upper bool) conn.Handler {
	return func(_ context.Context, req *payload.Payload) (*payload.Payload, error) {
		data := string(req.Data())
		if upper {
			data = strings.ToUpper(data)
		}
		var md []byte
		if req.HasMetadata() {
			md = append([]byte(nil), req.Metadata()...)
		}
		return payload.New(nil, []byte(data), md), nil
	}
}

// serve owns ln and closes it when ctx ends.
func serve(ctx context.Context, cfg config.Config, ln net.Listener, handler conn.Handler) error {
	logger := logging.For("rrctl")
	logger.Info().Str("addr", ln.Addr().String()).Int("mtu", cfg.MTU).Bool("tls", cfg.TLS.Enabled).Msg("serving")

	opts, err := cfg.ConnOptions(handler)
	if err != nil {
		ln.Close()
		return err
	}

	var mln net.Listener
	if cfg.MetricsAddr != "" {
		if mln, err = net.Listen("tcp", cfg.MetricsAddr); err != nil {
			ln.Close()
			return err
		}
	}

	var conns atomic.Int64
	started := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return conn.Serve(ctx, ln, opts, func(*conn.Conn) {
			conns.Add(1)
		})
	})
	if mln != nil {
		srv := observability.NewServer("rrctl", logging.For("metrics"), func() map[string]any {
			return map[string]any{
				"uptime":         time.Since(started).Round(time.Second).String(),
				"accepted_conns": conns.Load(),
			}
		})
		g.Go(func() error { return srv.Serve(ctx, mln) })
	}
	return g.Wait()
}
