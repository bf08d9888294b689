package telemetry

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSEmitter publishes lifecycle events to a NATS subject tree, one subject
// per event name under the configured prefix.
type NATSEmitter struct {
	conn    *nats.Conn
	subject string
}

// NewNATSEmitter connects to a NATS server. The caller decides whether a
// connection failure disables the sink or aborts startup.
func NewNATSEmitter(url, subjectPrefix string) (*NATSEmitter, error) {
	if subjectPrefix == "" {
		subjectPrefix = "agentd.executions"
	}
	conn, err := nats.Connect(url, nats.Name("agentd"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSEmitter{conn: conn, subject: subjectPrefix}, nil
}

// Emit publishes the event as JSON to <prefix>.<event>.
func (n *NATSEmitter) Emit(event string, fields map[string]interface{}) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return n.conn.Publish(n.subject+"."+event, payload)
}

// Close drains the connection.
func (n *NATSEmitter) Close() {
	if n.conn != nil {
		_ = n.conn.Drain()
	}
}
