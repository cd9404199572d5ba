package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/rsockcore/internal/conn"
	"github.com/danmuck/rsockcore/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rrctl.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadOverlaysDefinedKeys(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
role = "client"
mtu = 64
request_timeout = "250ms"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, RoleClient, cfg.Role)
	assert.Equal(t, 64, cfg.MTU)
	assert.Equal(t, 250*time.Millisecond, cfg.RequestTimeout)
	assert.Equal(t, def.Addr, cfg.Addr)
	assert.Equal(t, def.MaxFrameBytes, cfg.MaxFrameBytes)

	opts, err := cfg.ConnOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, conn.RoleClient, opts.Role)
	assert.Equal(t, 64, opts.MTU)
}

func TestLoadRejectsInvalid(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"mtu below minimum": `mtu = 32`,
		"unknown role":      `role = "proxy"`,
		"bad duration":      `request_timeout = "soon"`,
		"unknown key":       `mtuu = 64`,
		"bad log level":     `log_level = "loud"`,
		"mtu over frame":    "mtu = 4096\nmax_frame_bytes = 1024",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestTemplatesRoundTrip(t *testing.T) {
	testlog.Start(t)
	for _, kind := range []string{RoleClient, RoleServer} {
		path := filepath.Join(t.TempDir(), kind+".toml")
		require.NoError(t, WriteTemplate(path, kind, false))
		require.Error(t, WriteTemplate(path, kind, false), "refuses to overwrite")
		require.NoError(t, WriteTemplate(path, kind, true))

		cfg, err := Load(path)
		require.NoError(t, err, kind)
		assert.Equal(t, kind, cfg.Role)
	}
	_, err := Template("mirage")
	assert.Error(t, err)
}
