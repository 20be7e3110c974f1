package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultListenAddr     = ":8081"
	DefaultAssetRoot      = "/home/pi/development/xae"
	DefaultDeviceProgram  = "/home/pi/development/xae/xmos_adc"
	DefaultInvokeTimeout  = 10 * time.Second
	DefaultQueueCapacity  = 64
	DefaultReadLimit      = 64 << 10
	DefaultActionBuffer   = 16
	DefaultWriteTimeout   = 5 * time.Second
	DefaultCaptureTTL     = time.Minute
	DefaultJournalRetains = 7 * 24 * time.Hour
	DefaultLogMaxSizeMB   = 10
	DefaultLogMaxBackups  = 3

	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Duration is a time.Duration that reads and writes as a Go duration string ("5s").
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(raw []byte) error {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	*d = Duration(parsed)

	return nil
}

// ServerConfig controls the HTTP listener and the browser event channel.
type ServerConfig struct {
	ListenAddr string `json:"listen_addr" toml:"listen_addr"`
	AssetRoot  string `json:"asset_root" toml:"asset_root"`
	ReadLimit  int64  `json:"read_limit" toml:"read_limit"`
}

// DeviceConfig describes how the capture program is invoked.
type DeviceConfig struct {
	Program       string   `json:"program" toml:"program"`
	Args          []string `json:"args,omitempty" toml:"args,omitempty"`
	WorkDir       string   `json:"work_dir" toml:"work_dir"`
	InvokeTimeout Duration `json:"invoke_timeout" toml:"invoke_timeout"`
	QueueCapacity int      `json:"queue_capacity" toml:"queue_capacity"`
}

// SessionConfig bounds per-connection buffering.
type SessionConfig struct {
	ActionBuffer int      `json:"action_buffer" toml:"action_buffer"`
	WriteTimeout Duration `json:"write_timeout" toml:"write_timeout"`
}

// CaptureConfig controls how long the last capture snapshot stays readable.
type CaptureConfig struct {
	TTL Duration `json:"ttl" toml:"ttl"`
}

// JournalConfig controls the action journal.
type JournalConfig struct {
	Enabled   bool     `json:"enabled" toml:"enabled"`
	Retention Duration `json:"retention" toml:"retention"`
}

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level      string `json:"level" toml:"level"`
	Format     string `json:"format" toml:"format"`
	LogToFile  bool   `json:"log_to_file" toml:"log_to_file"`
	MaxSizeMB  int    `json:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" toml:"max_age_days"`
}

// AppConfig is the root application configuration.
type AppConfig struct {
	Server  ServerConfig  `json:"server" toml:"server"`
	Device  DeviceConfig  `json:"device" toml:"device"`
	Session SessionConfig `json:"session" toml:"session"`
	Capture CaptureConfig `json:"capture" toml:"capture"`
	Journal JournalConfig `json:"journal" toml:"journal"`
	Logging LoggingConfig `json:"logging" toml:"logging"`
}

func Default() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			ListenAddr: DefaultListenAddr,
			AssetRoot:  DefaultAssetRoot,
			ReadLimit:  DefaultReadLimit,
		},
		Device: DeviceConfig{
			Program:       DefaultDeviceProgram,
			InvokeTimeout: Duration(DefaultInvokeTimeout),
			QueueCapacity: DefaultQueueCapacity,
		},
		Session: SessionConfig{
			ActionBuffer: DefaultActionBuffer,
			WriteTimeout: Duration(DefaultWriteTimeout),
		},
		Capture: CaptureConfig{
			TTL: Duration(DefaultCaptureTTL),
		},
		Journal: JournalConfig{
			Enabled:   true,
			Retention: Duration(DefaultJournalRetains),
		},
		Logging: LoggingConfig{
			Level:      "info",
			LogToFile:  false,
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
		},
	}
}

// Load reads the config at path. A missing file yields defaults.
// Files ending in .toml are decoded as TOML, everything else as JSON.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path comes from the command line or the user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if isTOML(cleanPath) {
		if _, err := toml.Decode(string(raw), &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("decode config toml: %w", err)
		}
	} else {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("decode config json: %w", err)
		}
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if strings.TrimSpace(c.Server.ListenAddr) == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.ReadLimit <= 0 {
		c.Server.ReadLimit = DefaultReadLimit
	}
	if strings.TrimSpace(c.Device.Program) == "" {
		c.Device.Program = DefaultDeviceProgram
	}
	if c.Device.InvokeTimeout <= 0 {
		c.Device.InvokeTimeout = Duration(DefaultInvokeTimeout)
	}
	if c.Device.QueueCapacity <= 0 {
		c.Device.QueueCapacity = DefaultQueueCapacity
	}
	if c.Session.ActionBuffer <= 0 {
		c.Session.ActionBuffer = DefaultActionBuffer
	}
	if c.Session.WriteTimeout <= 0 {
		c.Session.WriteTimeout = Duration(DefaultWriteTimeout)
	}
	if c.Capture.TTL <= 0 {
		c.Capture.TTL = Duration(DefaultCaptureTTL)
	}
	if c.Journal.Retention < 0 {
		c.Journal.Retention = Duration(DefaultJournalRetains)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.Logging.Format) == "" {
		c.Logging.Format = LogFormatText
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups < 0 {
		c.Logging.MaxBackups = DefaultLogMaxBackups
	}
}

func (c AppConfig) Validate() error {
	if strings.TrimSpace(c.Server.ListenAddr) == "" {
		return errors.New("server listen address is required")
	}
	if strings.TrimSpace(c.Device.Program) == "" {
		return errors.New("device program is required")
	}
	if c.Device.InvokeTimeout <= 0 {
		return errors.New("device invoke timeout must be positive")
	}
	if c.Device.QueueCapacity <= 0 {
		return errors.New("device queue capacity must be positive")
	}
	if c.Session.ActionBuffer <= 0 {
		return errors.New("session action buffer must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level: %s", c.Logging.Level)
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("unknown log format: %s", c.Logging.Format)
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := encode(path, cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}

func encode(path string, cfg AppConfig) ([]byte, error) {
	if !isTOML(path) {
		return json.MarshalIndent(cfg, "", "  ")
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}
