package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/optics-suite/optics/pkg/events"
)

// defaultHeartbeat is the SSE keep-alive interval.
const defaultHeartbeat = 15 * time.Second

func (s *Server) heartbeatInterval() time.Duration {
	if s.heartbeat > 0 {
		return s.heartbeat
	}
	return defaultHeartbeat
}

// eventsHandler handles GET /v1/sessions/:id/events. It subscribes to the
// session bus and streams every event as an SSE `data:` line until the
// client disconnects or the session terminates. Heartbeats keep proxies from
// reaping idle connections.
func (s *Server) eventsHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	sess, err := s.manager.Get(sessionID)
	if err != nil {
		return respondError(c, err)
	}

	var w http.ResponseWriter = c.Response()
	flusher, ok := w.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming not supported")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	subID := "sse-" + uuid.New().String()
	stream := events.NewStreamSubscriber(subID, 0, s.logger)
	if err := sess.Bus().Subscribe(subID, stream); err != nil {
		return nil // bus already shut down; nothing to stream
	}
	defer func() {
		sess.Bus().Unsubscribe(subID)
		_ = stream.Close()
	}()

	s.logger.Info("Event stream connected", "session_id", sessionID, "subscriber_id", subID)
	defer s.logger.Info("Event stream closed", "session_id", sessionID, "subscriber_id", subID)

	ctx := c.Request().Context()
	heartbeat := time.NewTicker(s.heartbeatInterval())
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, open := <-stream.Events():
			if !open {
				return nil // session terminated, bus closed the stream
			}
			if err := writeSSE(w, flusher, ev); err != nil {
				return nil
			}

		case <-heartbeat.C:
			beat := map[string]any{
				"execution_id": "heartbeat",
				"status":       events.StatusHeartbeat,
			}
			if err := writeSSE(w, flusher, beat); err != nil {
				return nil
			}
		}
	}
}

// writeSSE marshals v and writes it as one `data: <json>\n\n` frame.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
