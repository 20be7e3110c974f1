package main

import (
	"path/filepath"
	"testing"

	"github.com/skobkin/xaescope/internal/config"
)

func TestWriteDefaultConfigCreatesLoadableFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "xaescope.toml")

	if err := writeDefaultConfig(path); err != nil {
		t.Fatalf("write default config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load written config: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Fatalf("expected default listen addr, got %q", cfg.Server.ListenAddr)
	}

	if err := writeDefaultConfig(path); err == nil {
		t.Fatalf("expected existing config to be left alone")
	}
}
