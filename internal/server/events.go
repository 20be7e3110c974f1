package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/skobkin/xaescope/internal/protocol"
	"github.com/skobkin/xaescope/internal/session"
)

type wsEmitter struct {
	conn *websocket.Conn
}

func (e wsEmitter) Emit(ctx context.Context, env protocol.Envelope) error {
	return wsjson.Write(ctx, e.conn, env)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	if s.opts.ReadLimit > 0 {
		conn.SetReadLimit(s.opts.ReadLimit)
	}

	ctx := r.Context()
	sess, err := s.sessions.Open(ctx, wsEmitter{conn: conn})
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "session setup failed")
		return
	}
	logger := s.logger.With("session", sess.ID(), "remote", r.RemoteAddr)

	readerDone := make(chan struct{})
	go func() {
		select {
		case <-sess.Done():
			_ = conn.Close(websocket.StatusGoingAway, "session closed")
		case <-readerDone:
		}
	}()

	s.readFrames(ctx, conn, sess, logger)
	close(readerDone)
	s.sessions.Release(sess)
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) readFrames(ctx context.Context, conn *websocket.Conn, sess *session.Session, logger *slog.Logger) {
	for {
		msgType, raw, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				logger.Debug("browser disconnected")
			default:
				if ctx.Err() == nil {
					logger.Debug("event channel read ended", "error", err)
				}
			}
			return
		}
		if msgType != websocket.MessageText {
			logger.Warn("ignoring binary frame", "size", len(raw))
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logger.Warn("ignoring malformed frame", "error", err)
			continue
		}

		switch env.Event {
		case protocol.EventAction:
			text, err := protocol.DecodeAction(env)
			if err != nil {
				logger.Warn("malformed action payload, capturing only", "error", err)
				text = ""
			}
			if err := sess.Enqueue(text); errors.Is(err, session.ErrClosed) {
				return
			}
		default:
			logger.Warn("ignoring unknown event", "event", env.Event)
		}
	}
}
