package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/rsockcore/internal/config"
	"github.com/danmuck/rsockcore/internal/payload"
	"github.com/danmuck/rsockcore/internal/testutil/testlog"
)

func TestEchoHandler(t *testing.T) {
	testlog.Start(t)
	resp, err := echoHandler(true)(context.Background(), payload.NewString(nil, "hello", "md"))
	require.NoError(t, err)
	assert.Equal(t, "HELLO", string(resp.Data()))
	assert.Equal(t, "md", string(resp.Metadata()))
}

func TestServeAndRequest(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srvCfg := config.Default()
	srvCfg.MetricsAddr = ""
	srvCfg.MTU = 64

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, srvCfg, ln, echoHandler(false)) }()

	cliCfg := config.Default()
	cliCfg.Role = config.RoleClient
	cliCfg.Addr = ln.Addr().String()
	cliCfg.MTU = 64
	cliCfg.RequestTimeout = 5 * time.Second

	data := make([]byte, 500)
	for i := range data {
		data[i] = byte('a' + i%26)
	}
	resp, err := request(context.Background(), cliCfg, payload.New(nil, data, []byte("meta")))
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, data, resp.Data())
	assert.Equal(t, "meta", string(resp.Metadata()))
	resp.Release()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not stop")
	}
}
