package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Template renders the defaults for kind ("client" or "server") as TOML.
func Template(kind string) (string, error) {
	cfg := Default()
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case RoleServer:
		cfg.Role = RoleServer
	case RoleClient:
		cfg.Role = RoleClient
		cfg.MTU = 1024
		cfg.MetricsAddr = ""
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
	out, err := toml.Marshal(toFile(cfg))
	if err != nil {
		return "", fmt.Errorf("render %s template: %w", kind, err)
	}
	return string(out), nil
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

func toFile(cfg Config) fileConfig {
	return fileConfig{
		Role:           cfg.Role,
		Addr:           cfg.Addr,
		MTU:            cfg.MTU,
		MaxFrameBytes:  cfg.MaxFrameBytes,
		MetricsAddr:    cfg.MetricsAddr,
		RequestTimeout: cfg.RequestTimeout.String(),
		LogLevel:       cfg.LogLevel,
		TLS:            cfg.TLS.toFile(),
	}
}
