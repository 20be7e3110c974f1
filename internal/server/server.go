package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/skobkin/xaescope/internal/dispatch"
	"github.com/skobkin/xaescope/internal/domain"
	"github.com/skobkin/xaescope/internal/session"
)

const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 2 * time.Minute
)

// DeviceView is the read side of the dispatcher used by the HTTP API.
type DeviceView interface {
	Busy() bool
	QueueDepth() int
	LastCapture() (dispatch.Capture, bool)
}

// ActionLister reads the action journal.
type ActionLister interface {
	ListRecent(ctx context.Context, limit int) ([]domain.ActionRecord, error)
}

type Options struct {
	ListenAddr string
	AssetRoot  string
	ReadLimit  int64
	Version    string
}

// Server serves the browser assets, the event channel and a small read-only API.
type Server struct {
	logger   *slog.Logger
	opts     Options
	sessions *session.Manager
	device   DeviceView
	journal  ActionLister

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	serveErr   chan error
}

// New builds a server. journal may be nil when the journal is disabled.
func New(logger *slog.Logger, opts Options, sessions *session.Manager, device DeviceView, journal ActionLister) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		logger:   logger,
		opts:     opts,
		sessions: sessions,
		device:   device,
		journal:  journal,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleEvents)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/capture", s.handleCapture)
	mux.HandleFunc("GET /api/actions", s.handleActions)
	mux.Handle("GET /", http.FileServer(http.Dir(s.opts.AssetRoot)))

	return mux
}

// Start binds the listener and serves in the background until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return errors.New("server already started")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.opts.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.ListenAddr, err)
	}

	s.listener = ln
	s.serveErr = make(chan error, 1)
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("http server listening", "addr", ln.Addr().String(), "assets", s.opts.AssetRoot)
	go func() {
		err := s.httpServer.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			s.logger.Error("http server stopped", "error", err)
		}
		s.serveErr <- err
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests and disconnects every browser session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, serveErr := s.httpServer, s.serveErr
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.sessions.CloseAll()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
