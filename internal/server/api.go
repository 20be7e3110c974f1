package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/skobkin/xaescope/internal/domain"
	"github.com/skobkin/xaescope/internal/events"
)

const (
	defaultActionsLimit = 50
	maxActionsLimit     = 500
)

type statusResponse struct {
	State      events.DeviceState `json:"state"`
	Busy       bool               `json:"busy"`
	QueueDepth int                `json:"queue_depth"`
	Sessions   int                `json:"sessions"`
	Version    string             `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := statusResponse{
		State:      s.sessions.DeviceStatus().State,
		Busy:       s.device.Busy(),
		QueueDepth: s.device.QueueDepth(),
		Sessions:   s.sessions.Count(),
		Version:    s.opts.Version,
	}
	if status.Busy {
		status.State = events.DeviceStateBusy
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCapture(w http.ResponseWriter, _ *http.Request) {
	capture, ok := s.device.LastCapture()
	if !ok {
		http.Error(w, "no recent capture", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Capture-Session", capture.SessionID)
	w.Header().Set("X-Capture-Time", capture.At.UTC().Format(time.RFC3339Nano))
	_, _ = w.Write(capture.Data)
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		http.Error(w, "action journal disabled", http.StatusNotFound)
		return
	}

	limit := defaultActionsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(parsed, maxActionsLimit)
	}

	records, err := s.journal.ListRecent(r.Context(), limit)
	if err != nil {
		s.logger.Error("list actions failed", "error", err)
		http.Error(w, "journal unavailable", http.StatusInternalServerError)
		return
	}
	views := make([]actionView, 0, len(records))
	for _, rec := range records {
		views = append(views, actionView{ActionRecord: rec, ElapsedMS: rec.Duration().Milliseconds()})
	}
	writeJSON(w, http.StatusOK, views)
}

// actionView is a journal row as served by /api/actions.
type actionView struct {
	domain.ActionRecord
	ElapsedMS int64 `json:"elapsed_ms"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
