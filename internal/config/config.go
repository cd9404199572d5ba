// Package config loads rrctl settings from TOML.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/danmuck/rsockcore/internal/protocol/fragment"
	"github.com/danmuck/rsockcore/internal/protocol/frame"
)

const (
	RoleClient = "client"
	RoleServer = "server"
)

type Config struct {
	Role string
	Addr string
	// MTU is the outbound fragment size; 0 sends every payload whole.
	MTU            int
	MaxFrameBytes  int
	MetricsAddr    string
	RequestTimeout time.Duration
	LogLevel       string
	TLS            TLS
}

// fileConfig mirrors the TOML layout. Durations are strings.
type fileConfig struct {
	Role           string  `toml:"role"`
	Addr           string  `toml:"addr"`
	MTU            int     `toml:"mtu"`
	MaxFrameBytes  int     `toml:"max_frame_bytes"`
	MetricsAddr    string  `toml:"metrics_addr"`
	RequestTimeout string  `toml:"request_timeout"`
	LogLevel       string  `toml:"log_level"`
	TLS            fileTLS `toml:"tls"`
}

func Default() Config {
	return Config{
		Role:           RoleServer,
		Addr:           "127.0.0.1:7878",
		MTU:            0,
		MaxFrameBytes:  frame.MaxFrameLength,
		MetricsAddr:    "127.0.0.1:9478",
		RequestTimeout: 10 * time.Second,
		LogLevel:       "info",
	}
}

// Load overlays the keys present in path on Default and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	if meta.IsDefined("role") {
		cfg.Role = strings.ToLower(strings.TrimSpace(raw.Role))
	}
	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("mtu") {
		cfg.MTU = raw.MTU
	}
	if meta.IsDefined("max_frame_bytes") {
		cfg.MaxFrameBytes = raw.MaxFrameBytes
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("request_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RequestTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse request_timeout: %w", err)
		}
		cfg.RequestTimeout = d
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("tls") {
		cfg.TLS = TLS(raw.TLS)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	switch cfg.Role {
	case RoleClient, RoleServer:
	default:
		return fmt.Errorf("role must be %q or %q, got %q", RoleClient, RoleServer, cfg.Role)
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("config missing addr")
	}
	if !fragment.ValidMTU(cfg.MTU) {
		return fmt.Errorf("mtu must be 0 or between %d and %d, got %d", fragment.MinMTU, frame.MaxFrameLength, cfg.MTU)
	}
	if cfg.MaxFrameBytes < frame.HeaderLen || cfg.MaxFrameBytes > frame.MaxFrameLength {
		return fmt.Errorf("max_frame_bytes must be between %d and %d, got %d", frame.HeaderLen, frame.MaxFrameLength, cfg.MaxFrameBytes)
	}
	if cfg.MTU > cfg.MaxFrameBytes {
		return fmt.Errorf("mtu %d exceeds max_frame_bytes %d", cfg.MTU, cfg.MaxFrameBytes)
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if err := cfg.TLS.validate(cfg.Role); err != nil {
		return err
	}
	return nil
}
