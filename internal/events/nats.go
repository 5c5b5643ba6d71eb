package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSPublisher mirrors events to a NATS server as JSON messages on
// <prefix>.<session_id>.<event_type> subjects.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewNATSPublisher wraps an existing NATS connection.
func NewNATSPublisher(conn *nats.Conn, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	if prefix == "" {
		prefix = "pentestd.sessions"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}, nil
}

// Publish implements Publisher. Marshal or publish failures are logged,
// never surfaced to the run that emitted the event.
func (p *NATSPublisher) Publish(sessionID string, t Type, data map[string]any) {
	ev := Event{
		Type:      t,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("marshal event", zap.String("type", string(t)), zap.Error(err))
		return
	}
	subject := fmt.Sprintf("%s.%s.%s", p.prefix, sessionID, t)
	if err := p.conn.Publish(subject, payload); err != nil {
		p.logger.Warn("publish event to nats", zap.String("subject", subject), zap.Error(err))
	}
}
