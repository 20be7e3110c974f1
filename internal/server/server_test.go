package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/skobkin/xaescope/internal/device"
	"github.com/skobkin/xaescope/internal/dispatch"
	"github.com/skobkin/xaescope/internal/domain"
	"github.com/skobkin/xaescope/internal/protocol"
	"github.com/skobkin/xaescope/internal/session"
)

type scriptedInvoker struct {
	mu    sync.Mutex
	calls []string
}

func (s *scriptedInvoker) Invoke(_ context.Context, op device.Op) ([]byte, error) {
	s.mu.Lock()
	s.calls = append(s.calls, strings.Join(op.Argv(), " "))
	s.mu.Unlock()
	if op.Result == device.ResultCapture {
		return []byte("1,2,3,4"), nil
	}
	return nil, nil
}

func (s *scriptedInvoker) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type staticJournal struct {
	mu      sync.Mutex
	records []domain.ActionRecord
	limit   int
}

func (j *staticJournal) lastLimit() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.limit
}

func (j *staticJournal) ListRecent(_ context.Context, limit int) ([]domain.ActionRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.limit = limit
	if limit < len(j.records) {
		return j.records[:limit], nil
	}
	return j.records, nil
}

type testEnv struct {
	srv      *httptest.Server
	invoker  *scriptedInvoker
	sessions *session.Manager
	dispatch *dispatch.Dispatcher
}

func newTestEnv(t *testing.T, journal ActionLister) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	assets := t.TempDir()
	if err := os.WriteFile(filepath.Join(assets, "index.html"), []byte("<html>scope</html>"), 0o600); err != nil {
		t.Fatalf("write asset: %v", err)
	}

	inv := &scriptedInvoker{}
	d := dispatch.New(logger, nil, inv, dispatch.Options{})
	d.Start(ctx)
	sessions := session.NewManager(logger, d, session.Options{})

	s := New(logger, Options{AssetRoot: assets, ReadLimit: 4096, Version: "v1.0.0"}, sessions, d, journal)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		sessions.CloseAll()
		srv.Close()
	})

	return &testEnv{srv: srv, invoker: inv, sessions: sessions, dispatch: d}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(e.srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })

	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var env protocol.Envelope
	if err := wsjson.Read(ctx, conn, &env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return env
}

func writeFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, v); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestEventChannelReadyThenResults(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t)

	ready := readEnvelope(t, conn)
	if ready.Event != protocol.EventStatus || string(ready.Data) != `{"stat":"ready"}` {
		t.Fatalf("expected ready status, got %+v", ready)
	}

	writeFrame(t, conn, protocol.Action("timebase 2"))
	text, errText, err := protocol.DecodeResults(readEnvelope(t, conn))
	if err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if text != "1,2,3,4" || errText != "" {
		t.Fatalf("unexpected results %q / %q", text, errText)
	}

	want := []string{"4 2", "3", "0"}
	if got := env.invoker.Calls(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("expected invocations %v, got %v", want, got)
	}
}

func TestEventChannelBareStringAndMalformedAction(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t)
	readEnvelope(t, conn)

	writeFrame(t, conn, map[string]any{"event": "action", "data": "trigdir 1"})
	readEnvelope(t, conn)

	writeFrame(t, conn, map[string]any{"event": "action", "data": 17})
	readEnvelope(t, conn)

	want := []string{"8 1", "3", "0", "3", "0"}
	if got := env.invoker.Calls(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("expected invocations %v, got %v", want, got)
	}
}

func TestEventChannelIgnoresUnknownEventsAndGarbage(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t)
	readEnvelope(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	writeFrame(t, conn, map[string]any{"event": "sweep"})
	writeFrame(t, conn, protocol.Action("noop"))

	res := readEnvelope(t, conn)
	if res.Event != protocol.EventResults {
		t.Fatalf("expected results after ignored frames, got %+v", res)
	}
}

func TestDisconnectReleasesSession(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t)
	readEnvelope(t, conn)
	if env.sessions.Count() != 1 {
		t.Fatalf("expected 1 session, got %d", env.sessions.Count())
	}

	_ = conn.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(2 * time.Second)
	for env.sessions.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected session to be released")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStaticAssets(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.srv.URL + "/index.html")
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "scope") {
		t.Fatalf("unexpected asset response %d %q", resp.StatusCode, body)
	}

	resp, err = http.Get(env.srv.URL + "/missing.js")
	if err != nil {
		t.Fatalf("get missing asset: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for missing asset, got %d", resp.StatusCode)
	}
}

func TestHealthAndStatus(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(body) != "ok" {
		t.Fatalf("expected ok, got %q", body)
	}

	conn := env.dial(t)
	readEnvelope(t, conn)

	resp, err = http.Get(env.srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Sessions != 1 || status.Busy || status.Version != "v1.0.0" || status.State != "ready" {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestCaptureEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.srv.URL + "/api/capture")
	if err != nil {
		t.Fatalf("get capture: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 before any capture, got %d", resp.StatusCode)
	}

	conn := env.dial(t)
	readEnvelope(t, conn)
	writeFrame(t, conn, protocol.Action("noop"))
	readEnvelope(t, conn)

	resp, err = http.Get(env.srv.URL + "/api/capture")
	if err != nil {
		t.Fatalf("get capture: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "1,2,3,4" {
		t.Fatalf("unexpected capture response %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Capture-Session") == "" {
		t.Fatalf("expected capture session header")
	}
}

func TestActionsEndpoint(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	journal := &staticJournal{records: []domain.ActionRecord{
		{ID: 2, Command: "noop", StartedAt: started, FinishedAt: started.Add(1500 * time.Millisecond)},
		{ID: 1, Command: "timebase 2"},
	}}
	env := newTestEnv(t, journal)

	resp, err := http.Get(env.srv.URL + "/api/actions?limit=1")
	if err != nil {
		t.Fatalf("get actions: %v", err)
	}
	defer resp.Body.Close()
	var records []struct {
		domain.ActionRecord
		ElapsedMS int64 `json:"elapsed_ms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		t.Fatalf("decode actions: %v", err)
	}
	if len(records) != 1 || records[0].ID != 2 || journal.lastLimit() != 1 {
		t.Fatalf("unexpected records %+v (limit %d)", records, journal.lastLimit())
	}
	if records[0].ElapsedMS != 1500 || !records[0].StartedAt.Equal(started) {
		t.Fatalf("expected 1500ms elapsed from %s, got %+v", started, records[0])
	}

	for _, query := range []string{"?limit=0", "?limit=abc"} {
		bad, err := http.Get(env.srv.URL + "/api/actions" + query)
		if err != nil {
			t.Fatalf("get actions %s: %v", query, err)
		}
		_ = bad.Body.Close()
		if bad.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", query, bad.StatusCode)
		}
	}
}

func TestActionsEndpointDisabledJournal(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.srv.URL + "/api/actions")
	if err != nil {
		t.Fatalf("get actions: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 with journal disabled, got %d", resp.StatusCode)
	}
}

func TestStartAndShutdown(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := dispatch.New(logger, nil, &scriptedInvoker{}, dispatch.Options{})
	sessions := session.NewManager(logger, d, session.Options{})
	s := New(logger, Options{ListenAddr: "127.0.0.1:0", AssetRoot: t.TempDir()}, sessions, d, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected second start to fail")
	}

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	_ = resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
