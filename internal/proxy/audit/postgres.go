package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/crosspartition/inference-proxy/internal/shared/models"
)

// PostgresSink appends audit records to a Postgres table.
type PostgresSink struct {
	conn *sql.DB
}

func NewPostgresSink(databaseURL string) (*PostgresSink, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &PostgresSink{conn: conn}, nil
}

func (s *PostgresSink) Append(ctx context.Context, rec *models.AuditRecord) error {
	query := `
		INSERT INTO audit_records (
			request_id, path, principal, model_id, started_at, completed_at,
			outcome, http_status, request_bytes, response_bytes, failover, error_detail
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.conn.ExecContext(ctx,
		query,
		rec.RequestID,
		rec.Path,
		rec.Principal,
		rec.ModelID,
		rec.StartedAt,
		rec.CompletedAt,
		string(rec.Outcome),
		rec.HTTPStatus,
		rec.RequestBytes,
		rec.ResponseBytes,
		rec.Failover,
		rec.ErrorDetail,
	)

	return err
}

func (s *PostgresSink) Close() error {
	return s.conn.Close()
}
