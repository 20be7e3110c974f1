package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/skobkin/xaescope/internal/config"
)

// Manager owns the process logger. The level can change at runtime through
// Configure without dropping loggers already handed to components.
type Manager struct {
	mu     sync.Mutex
	level  slog.LevelVar
	root   *slog.Logger
	out    io.Writer
	rotate *lumberjack.Logger
}

func NewManager() *Manager {
	m := &Manager{out: os.Stdout}
	m.level.Set(slog.LevelInfo)
	m.root = slog.New(newHandler(config.LogFormatText, m.out, &m.level))

	return m
}

// Configure applies cfg and installs the result as the slog default.
// filePath is used only when cfg.LogToFile is set.
func (m *Manager) Configure(cfg config.LoggingConfig, filePath string) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}
	format, err := parseFormat(cfg.Format)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var rotate *lumberjack.Logger
	out := io.Writer(os.Stdout)
	if cfg.LogToFile {
		cleanPath := filepath.Clean(filePath)
		if err := os.MkdirAll(filepath.Dir(cleanPath), 0o750); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		rotate = &lumberjack.Logger{
			Filename:   cleanPath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		out = newFanoutWriter(os.Stdout, rotate)
	}

	if m.rotate != nil {
		_ = m.rotate.Close()
	}
	m.rotate = rotate
	m.out = out
	m.level.Set(level)
	m.root = slog.New(newHandler(format, out, &m.level))
	slog.SetDefault(m.root)

	return nil
}

// Logger returns a child logger tagged with component.
func (m *Manager) Logger(component string) *slog.Logger {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.root.With("component", component)
}

// Level reports the current minimum level.
func (m *Manager) Level() slog.Level {
	return m.level.Level()
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rotate == nil {
		return nil
	}

	err := m.rotate.Close()
	m.rotate = nil
	m.out = os.Stdout
	if err != nil {
		return fmt.Errorf("close log file: %w", err)
	}

	return nil
}

func newHandler(format string, w io.Writer, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.NewJSONHandler(w, opts)
	}

	return slog.NewTextHandler(w, opts)
}

func parseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level: %q", raw)
	}
}

func parseFormat(raw string) (string, error) {
	switch format := strings.ToLower(strings.TrimSpace(raw)); format {
	case "", config.LogFormatText:
		return config.LogFormatText, nil
	case config.LogFormatJSON:
		return format, nil
	default:
		return "", fmt.Errorf("unsupported log format: %q", raw)
	}
}

// fanoutWriter copies every record to all destinations. A broken stdout
// (e.g. detached terminal) must not stop the log file from receiving records.
type fanoutWriter struct {
	writers []io.Writer
}

func newFanoutWriter(writers ...io.Writer) io.Writer {
	filtered := make([]io.Writer, 0, len(writers))
	for _, w := range writers {
		if w != nil {
			filtered = append(filtered, w)
		}
	}

	return &fanoutWriter{writers: filtered}
}

func (w *fanoutWriter) Write(p []byte) (int, error) {
	var errs []error
	delivered := false
	for _, dst := range w.writers {
		n, err := dst.Write(p)
		switch {
		case err != nil:
			errs = append(errs, err)
		case n != len(p):
			errs = append(errs, io.ErrShortWrite)
		default:
			delivered = true
		}
	}
	if !delivered && len(errs) > 0 {
		return 0, errors.Join(errs...)
	}

	return len(p), nil
}
