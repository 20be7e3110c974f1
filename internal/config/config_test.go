package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAppConfigFillMissingDefaults(t *testing.T) {
	cfg := AppConfig{}
	cfg.FillMissingDefaults()

	if cfg.Server.ListenAddr != DefaultListenAddr {
		t.Fatalf("expected default listen addr %q, got %q", DefaultListenAddr, cfg.Server.ListenAddr)
	}
	if cfg.Device.Program != DefaultDeviceProgram {
		t.Fatalf("expected default device program %q, got %q", DefaultDeviceProgram, cfg.Device.Program)
	}
	if cfg.Device.InvokeTimeout.Std() != DefaultInvokeTimeout {
		t.Fatalf("expected default invoke timeout %s, got %s", DefaultInvokeTimeout, cfg.Device.InvokeTimeout.Std())
	}
	if cfg.Device.QueueCapacity != DefaultQueueCapacity {
		t.Fatalf("expected default queue capacity %d, got %d", DefaultQueueCapacity, cfg.Device.QueueCapacity)
	}
	if cfg.Session.ActionBuffer != DefaultActionBuffer {
		t.Fatalf("expected default action buffer %d, got %d", DefaultActionBuffer, cfg.Session.ActionBuffer)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("expected default log level info, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != LogFormatText {
		t.Fatalf("expected default log format text, got %q", cfg.Logging.Format)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("load missing config: %v", err)
	}
	if cfg.Server.ListenAddr != DefaultListenAddr {
		t.Fatalf("expected defaults, got listen addr %q", cfg.Server.ListenAddr)
	}
	if !cfg.Journal.Enabled {
		t.Fatalf("expected journal to be enabled by default")
	}
}

func TestLoadJSONKeepsExplicitValuesAndFillsTheRest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{
  "server": {"listen_addr": "127.0.0.1:9000"},
  "device": {"program": "/opt/xae/xmos_adc", "invoke_timeout": "2500ms"},
  "logging": {"level": "debug"}
}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.ListenAddr != "127.0.0.1:9000" {
		t.Fatalf("unexpected listen addr: %q", cfg.Server.ListenAddr)
	}
	if cfg.Device.Program != "/opt/xae/xmos_adc" {
		t.Fatalf("unexpected device program: %q", cfg.Device.Program)
	}
	if cfg.Device.InvokeTimeout.Std() != 2500*time.Millisecond {
		t.Fatalf("unexpected invoke timeout: %s", cfg.Device.InvokeTimeout.Std())
	}
	if cfg.Device.QueueCapacity != DefaultQueueCapacity {
		t.Fatalf("expected queue capacity default, got %d", cfg.Device.QueueCapacity)
	}
	if cfg.Session.WriteTimeout.Std() != DefaultWriteTimeout {
		t.Fatalf("expected write timeout default, got %s", cfg.Session.WriteTimeout.Std())
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	raw := `
[server]
listen_addr = ":8181"

[device]
program = "/usr/local/bin/xmos_adc"
invoke_timeout = "3s"
queue_capacity = 8

[capture]
ttl = "30s"
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load toml config: %v", err)
	}
	if cfg.Server.ListenAddr != ":8181" {
		t.Fatalf("unexpected listen addr: %q", cfg.Server.ListenAddr)
	}
	if cfg.Device.InvokeTimeout.Std() != 3*time.Second {
		t.Fatalf("unexpected invoke timeout: %s", cfg.Device.InvokeTimeout.Std())
	}
	if cfg.Device.QueueCapacity != 8 {
		t.Fatalf("unexpected queue capacity: %d", cfg.Device.QueueCapacity)
	}
	if cfg.Capture.TTL.Std() != 30*time.Second {
		t.Fatalf("unexpected capture ttl: %s", cfg.Capture.TTL.Std())
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"device": {"invoke_timeout": "soon"}}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for malformed duration")
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "verbose"

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "verbose") {
		t.Fatalf("expected error to mention level, got %v", err)
	}
}

func TestValidateLogFormat(t *testing.T) {
	cfg := Default()
	cfg.Logging.Format = "JSON"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected json format to be accepted, got %v", err)
	}

	cfg.Logging.Format = "logfmt"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "logfmt") {
		t.Fatalf("expected error mentioning format, got %v", err)
	}
}

func TestSaveRoundTripsBothFormats(t *testing.T) {
	for _, name := range []string{"config.json", "config.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			cfg := Default()
			cfg.Device.Program = "/srv/xae/xmos_adc"
			cfg.Device.InvokeTimeout = Duration(1500 * time.Millisecond)

			if err := Save(path, cfg); err != nil {
				t.Fatalf("save config: %v", err)
			}
			if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
				t.Fatalf("expected temp file to be renamed away, stat err: %v", err)
			}

			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("load saved config: %v", err)
			}
			if loaded.Device.Program != cfg.Device.Program {
				t.Fatalf("expected program %q, got %q", cfg.Device.Program, loaded.Device.Program)
			}
			if loaded.Device.InvokeTimeout != cfg.Device.InvokeTimeout {
				t.Fatalf("expected timeout %s, got %s", cfg.Device.InvokeTimeout.Std(), loaded.Device.InvokeTimeout.Std())
			}
		})
	}
}

func TestSaveRejectsInvalidConfig(t *testing.T) {
	cfg := Default()
	cfg.Device.Program = " "

	if err := Save(filepath.Join(t.TempDir(), "config.json"), cfg); err == nil {
		t.Fatalf("expected save to fail validation")
	}
}
