package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/skobkin/xaescope/internal/command"
	"github.com/skobkin/xaescope/internal/dispatch"
	"github.com/skobkin/xaescope/internal/protocol"
)

// State is the lifecycle position of one browser connection.
type State string

const (
	StateConnected    State = "connected"
	StateIdle         State = "idle"
	StateExecuting    State = "executing"
	StateDisconnected State = "disconnected"
)

// ErrBacklogFull is reported to the browser when it sends actions faster than the device runs them.
var ErrBacklogFull = errors.New("too many pending actions for this session")

var ErrClosed = errors.New("session closed")

// Emitter writes envelopes to one browser connection.
type Emitter interface {
	Emit(ctx context.Context, env protocol.Envelope) error
}

// Submitter queues a command for execution on the device.
type Submitter interface {
	Submit(ctx context.Context, sessionID string, cmd command.Command) (<-chan dispatch.Result, error)
}

type Options struct {
	ActionBuffer int
	WriteTimeout time.Duration
}

// pendingAction is one entry of the session backlog. Rejected entries keep
// their place so the backlog error reaches the browser in action order.
type pendingAction struct {
	text     string
	rejected bool
}

// Session serializes one connection's actions and routes each result back to it.
type Session struct {
	id        string
	logger    *slog.Logger
	emitter   Emitter
	submitter Submitter
	opts      Options

	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}

	queueMu  sync.Mutex
	backlog  []pendingAction
	accepted int
	wake     chan struct{}

	mu    sync.RWMutex
	state State
}

func newSession(parent context.Context, id string, logger *slog.Logger, emitter Emitter, submitter Submitter, opts Options) *Session {
	ctx, cancel := context.WithCancel(parent)

	return &Session{
		id:        id,
		logger:    logger.With("session", id),
		emitter:   emitter,
		submitter: submitter,
		opts:      opts,
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		stopped:   make(chan struct{}),
		state:     StateConnected,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Done is closed once the session loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.stopped
}

// Enqueue hands a raw command string to the session loop without blocking.
// Once ActionBuffer actions are waiting, further ones are rejected: each
// rejection is answered with a results error in its turn. A client that also
// fills ActionBuffer rejections is disconnected.
func (s *Session) Enqueue(text string) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}

	s.queueMu.Lock()
	switch rejected := len(s.backlog) - s.accepted; {
	case s.accepted < s.opts.ActionBuffer:
		s.backlog = append(s.backlog, pendingAction{text: text})
		s.accepted++
		s.queueMu.Unlock()
		s.signal()
		return nil
	case rejected < s.opts.ActionBuffer:
		s.backlog = append(s.backlog, pendingAction{text: text, rejected: true})
		s.queueMu.Unlock()
		s.signal()
		s.logger.Warn("action rejected, backlog full", "command", text)
		return ErrBacklogFull
	default:
		s.queueMu.Unlock()
		s.logger.Warn("closing session, client keeps sending into a full backlog", "command", text)
		s.Close()
		return ErrBacklogFull
	}
}

func (s *Session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) next() (pendingAction, bool) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if len(s.backlog) == 0 {
		return pendingAction{}, false
	}
	item := s.backlog[0]
	s.backlog[0] = pendingAction{}
	s.backlog = s.backlog[1:]
	if !item.rejected {
		s.accepted--
	}

	return item, true
}

// Close disconnects the session. A sequence already on the device keeps
// running; its result is discarded.
func (s *Session) Close() {
	s.setState(StateDisconnected)
	s.cancel()
}

func (s *Session) start() error {
	if err := s.emit(protocol.Status(protocol.StatReady)); err != nil {
		s.Close()
		close(s.stopped)
		return err
	}
	s.setState(StateIdle)
	go s.loop()

	return nil
}

func (s *Session) loop() {
	defer close(s.stopped)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
			for {
				item, ok := s.next()
				if !ok {
					break
				}
				if !s.process(item) {
					return
				}
			}
		}
	}
}

func (s *Session) process(item pendingAction) bool {
	if !item.rejected {
		return s.handle(item.text)
	}
	if err := s.emit(protocol.Results(nil, ErrBacklogFull)); err != nil {
		s.logger.Debug("emit backlog error failed", "error", err)
		return false
	}

	return true
}

// handle runs one action and reports whether the session is still usable.
func (s *Session) handle(text string) bool {
	cmd, err := command.Parse(text)
	if err != nil {
		s.logger.Warn("command treated as capture-only", "error", err)
	}

	s.setState(StateExecuting)
	results, err := s.submitter.Submit(s.ctx, s.id, cmd)
	if err != nil {
		if s.ctx.Err() != nil {
			return false
		}
		s.logger.Error("submit action failed", "command", cmd.Text(), "error", err)
		s.setState(StateIdle)
		return s.emit(protocol.Results(nil, err)) == nil
	}

	var res dispatch.Result
	select {
	case <-s.ctx.Done():
		s.logger.Info("session closed while executing, result will be discarded", "command", cmd.Text())
		return false
	case res = <-results:
	}

	s.setState(StateIdle)
	if err := s.emit(protocol.Results(res.Capture, res.Err)); err != nil {
		s.logger.Warn("emit results failed", "error", err)
		return false
	}

	return true
}

func (s *Session) emit(env protocol.Envelope) error {
	ctx := s.ctx
	if s.opts.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.WriteTimeout)
		defer cancel()
	}

	return s.emitter.Emit(ctx, env)
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return
	}
	s.state = next
}
