package config

import (
	"fmt"

	"github.com/danmuck/rsockcore/internal/conn"
	"github.com/danmuck/rsockcore/internal/protocol/frame"
)

// ConnOptions maps the file settings onto connection options, loading the
// TLS material for the configured role.
func (c Config) ConnOptions(handler conn.Handler) (conn.Options, error) {
	opts := conn.Options{
		Role:    conn.RoleClient,
		MTU:     c.MTU,
		Limits:  frame.Limits{MaxFrameBytes: c.MaxFrameBytes},
		Handler: handler,
	}
	var err error
	if c.Role == RoleServer {
		opts.Role = conn.RoleServer
		opts.TLS, err = c.TLS.ServerConfig()
	} else {
		opts.TLS, err = c.TLS.ClientConfig(c.Addr)
	}
	if err != nil {
		return conn.Options{}, fmt.Errorf("tls: %w", err)
	}
	return opts, nil
}
