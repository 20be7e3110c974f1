package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skobkin/xaescope/internal/bus"
	"github.com/skobkin/xaescope/internal/events"
)

const (
	defaultActionBuffer = 16
	defaultWriteTimeout = 5 * time.Second
)

// Manager tracks open sessions and the last device status seen on the bus.
type Manager struct {
	logger    *slog.Logger
	submitter Submitter
	opts      Options

	mu       sync.RWMutex
	sessions map[string]*Session
	device   events.DeviceStatus
}

func NewManager(logger *slog.Logger, submitter Submitter, opts Options) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ActionBuffer <= 0 {
		opts.ActionBuffer = defaultActionBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	return &Manager{
		logger:    logger,
		submitter: submitter,
		opts:      opts,
		sessions:  make(map[string]*Session),
		device:    events.DeviceStatus{State: events.DeviceStateReady},
	}
}

// Open registers a new connection and greets it with the ready status.
func (m *Manager) Open(ctx context.Context, emitter Emitter) (*Session, error) {
	s := newSession(ctx, uuid.NewString(), m.logger, emitter, m.submitter, m.opts)
	if err := s.start(); err != nil {
		m.logger.Warn("session greeting failed", "session", s.id, "error", err)
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	count := len(m.sessions)
	m.mu.Unlock()

	m.logger.Info("session opened", "session", s.id, "sessions", count)
	return s, nil
}

// Release disconnects s and forgets it.
func (m *Manager) Release(s *Session) {
	if s == nil {
		return
	}
	s.Close()

	m.mu.Lock()
	delete(m.sessions, s.id)
	count := len(m.sessions)
	m.mu.Unlock()

	m.logger.Info("session closed", "session", s.id, "sessions", count)
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// DeviceStatus is the process-wide ready/busy view shared by all sessions.
func (m *Manager) DeviceStatus() events.DeviceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.device
}

// CloseAll disconnects every open session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range open {
		s.Close()
	}
}

// TrackDeviceStatus follows device status events until ctx is done.
func (m *Manager) TrackDeviceStatus(ctx context.Context, b bus.MessageBus) {
	bus.Listen(ctx, b, events.TopicDeviceStatus, func(status events.DeviceStatus) {
		m.mu.Lock()
		m.device = status
		m.mu.Unlock()
	})
}
