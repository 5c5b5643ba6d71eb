package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// sseHeartbeat keeps intermediaries from timing out idle streams.
const sseHeartbeat = 30 * time.Second

// handleEventStream streams a session's run events via Server-Sent
// Events. The stream stays open across runs until the client
// disconnects; each event is emitted as `event: <type>` with a JSON
// data payload.
func (s *Server) handleEventStream(c echo.Context) error {
	sessionID := c.Param("id")
	if _, err := s.sessions.Get(sessionID); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()

	ch, cancel := s.bus.Subscribe(sessionID)
	defer cancel()

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			data, err := json.Marshal(event)
			if err != nil {
				s.logger.Warn("marshal event", zap.Error(err))
				continue
			}
			fmt.Fprintf(c.Response(), "event: %s\n", event.Type)
			fmt.Fprintf(c.Response(), "data: %s\n\n", data)
			c.Response().Flush()

		case <-ticker.C:
			fmt.Fprintf(c.Response(), ": heartbeat\n\n")
			c.Response().Flush()

		case <-c.Request().Context().Done():
			return nil
		}
	}
}
