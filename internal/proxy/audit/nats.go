package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/crosspartition/inference-proxy/internal/shared/models"
)

// NATSSink publishes audit records to a subject for external consumers
// (dashboards, long-term archival). Delivery is at-most-once; the durable
// sinks should be used where the audit trail must survive broker loss.
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

func NewNATSSink(natsURL, subject string) (*NATSSink, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSSink{conn: conn, subject: subject}, nil
}

func (s *NATSSink) Append(_ context.Context, rec *models.AuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}
	if err := s.conn.Publish(s.subject, data); err != nil {
		return fmt.Errorf("failed to publish audit record: %w", err)
	}
	return nil
}

func (s *NATSSink) Close() error {
	if err := s.conn.Flush(); err != nil {
		s.conn.Close()
		return err
	}
	s.conn.Close()
	return nil
}
