package config

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/rsockcore/internal/conn"
	"github.com/danmuck/rsockcore/internal/payload"
	"github.com/danmuck/rsockcore/internal/testutil/testlog"
	"github.com/danmuck/rsockcore/internal/testutil/tlstest"
)

func TestTLSValidation(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		role string
		tls  TLS
		want error
	}{
		{"disabled", RoleServer, TLS{}, nil},
		{"mutual without tls", RoleClient, TLS{Mutual: true}, ErrTLSRequired},
		{"server without cert", RoleServer, TLS{Enabled: true, KeyFile: "k"}, ErrTLSCertFileRequired},
		{"server without key", RoleServer, TLS{Enabled: true, CertFile: "c"}, ErrTLSKeyFileRequired},
		{"server skip verify", RoleServer, TLS{Enabled: true, CertFile: "c", KeyFile: "k", InsecureSkipVerify: true}, ErrTLSInsecureSkipNotAllow},
		{"server mutual without ca", RoleServer, TLS{Enabled: true, Mutual: true, CertFile: "c", KeyFile: "k"}, ErrTLSCAFileRequired},
		{"client without ca", RoleClient, TLS{Enabled: true}, ErrTLSCAFileRequired},
		{"client skip verify", RoleClient, TLS{Enabled: true, InsecureSkipVerify: true}, nil},
		{"client mutual without cert", RoleClient, TLS{Enabled: true, Mutual: true, CAFile: "ca", KeyFile: "k"}, ErrTLSCertFileRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.tls.validate(tc.role)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestLoadTLSTable(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
role = "client"

[tls]
enabled = true
ca_file = "/etc/rsock/ca.crt"
server_name = "rsock.internal"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.TLS.Enabled)
	assert.Equal(t, "/etc/rsock/ca.crt", cfg.TLS.CAFile)
	assert.Equal(t, "rsock.internal", cfg.TLS.ServerName)

	_, err = Load(writeConfig(t, "[tls]\nenabled = true\n"))
	assert.ErrorIs(t, err, ErrTLSCertFileRequired, "server default needs a certificate")
}

func TestMutualTLSRequestResponse(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.New(t)
	serverCert, serverKey := ca.Server(t, "rsock server")
	clientCert, clientKey := ca.Client(t, "rsock client")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := Default()
	srv.TLS = TLS{Enabled: true, Mutual: true, CertFile: serverCert, KeyFile: serverKey, CAFile: ca.CAFile()}
	require.NoError(t, Validate(srv))
	srvOpts, err := srv.ConnOptions(func(_ context.Context, req *payload.Payload) (*payload.Payload, error) {
		return payload.NewString(nil, fmt.Sprintf("secure %s", req.Data()), ""), nil
	})
	require.NoError(t, err)
	require.NotNil(t, srvOpts.TLS)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- conn.Serve(ctx, ln, srvOpts, nil) }()

	cli := Default()
	cli.Role = RoleClient
	cli.Addr = ln.Addr().String()
	cli.TLS = TLS{Enabled: true, Mutual: true, CertFile: clientCert, KeyFile: clientKey, CAFile: ca.CAFile()}
	require.NoError(t, Validate(cli))
	cliOpts, err := cli.ConnOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cliOpts.TLS.ServerName)

	reqCtx, reqCancel := context.WithTimeout(ctx, 5*time.Second)
	defer reqCancel()
	c, err := conn.Dial(reqCtx, cli.Addr, cliOpts)
	require.NoError(t, err)
	ran := make(chan error, 1)
	go func() { ran <- c.Run(ctx) }()

	resp, err := c.Request(reqCtx, payload.NewString(nil, "hello", ""))
	require.NoError(t, err)
	assert.Equal(t, "secure hello", string(resp.Data()))
	resp.Release()

	cancel()
	assert.NoError(t, <-ran)
	assert.NoError(t, <-served)
}

func TestTLSRejectsUnknownClient(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.New(t)
	other := tlstest.New(t)
	serverCert, serverKey := ca.Server(t, "rsock server")
	strangerCert, strangerKey := other.Client(t, "stranger")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := TLS{Enabled: true, Mutual: true, CertFile: serverCert, KeyFile: serverKey, CAFile: ca.CAFile()}
	serverTLS, err := srv.ServerConfig()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- conn.Serve(ctx, ln, conn.Options{TLS: serverTLS}, nil) }()

	cli := TLS{Enabled: true, Mutual: true, CertFile: strangerCert, KeyFile: strangerKey, CAFile: ca.CAFile()}
	clientTLS, err := cli.ClientConfig(ln.Addr().String())
	require.NoError(t, err)

	reqCtx, reqCancel := context.WithTimeout(ctx, 5*time.Second)
	defer reqCancel()
	c, err := conn.Dial(reqCtx, ln.Addr().String(), conn.Options{TLS: clientTLS})
	if err == nil {
		// TLS 1.3 reports the client certificate failure on first use.
		go c.Run(ctx)
		_, err = c.Request(reqCtx, payload.NewString(nil, "x", ""))
	}
	assert.Error(t, err)

	cancel()
	assert.NoError(t, <-served)
}
