package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"privacyspace/internal/broadcast"
)

const subscribeWriteTimeout = 5 * time.Second

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	reporterID := strings.TrimSpace(r.URL.Query().Get("reporter_id"))

	opts := &websocket.AcceptOptions{}
	if len(s.originPatterns) > 0 {
		opts.OriginPatterns = s.originPatterns
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	session := s.hub.Subscribe(reporterID)
	defer s.hub.Unsubscribe(session)

	write := func(frame broadcast.Frame) bool {
		writeCtx, cancelWrite := context.WithTimeout(ctx, subscribeWriteTimeout)
		err := wsjson.Write(writeCtx, conn, frame)
		cancelWrite()
		if err != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
			return false
		}
		return true
	}

	if !write(broadcast.Frame{Type: broadcast.FrameReady, SessionID: session.ID}) {
		return
	}

	heartbeats := make(chan struct{}, 1)
	readErr := make(chan error, 1)
	go func() {
		for {
			var frame broadcast.Frame
			if err := wsjson.Read(ctx, conn, &frame); err != nil {
				readErr <- err
				return
			}
			if frame.Type != broadcast.FrameHeartbeat {
				continue
			}
			select {
			case heartbeats <- struct{}{}:
			default:
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-session.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case update := <-session.Updates():
			if !write(broadcast.UpdateFrame(update)) {
				return
			}
		case <-heartbeats:
			s.activity.Touch(reporterID)
			reply := broadcast.Frame{Type: broadcast.FrameHeartbeatAck}
			if s.hub.Heartbeat(session) {
				log.Debug("Subscriber must resync", "session", session.ID)
				reply.Type = broadcast.FrameResync
			}
			if !write(reply) {
				return
			}
		}
	}
}

// ParseOriginPatterns splits a comma separated WS_ALLOWED_ORIGINS value.
func ParseOriginPatterns(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

