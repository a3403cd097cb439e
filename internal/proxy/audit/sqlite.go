package audit

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/crosspartition/inference-proxy/internal/shared/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_records (
	request_id     TEXT NOT NULL,
	path           TEXT NOT NULL,
	principal      TEXT NOT NULL,
	model_id       TEXT NOT NULL,
	started_at     TIMESTAMP NOT NULL,
	completed_at   TIMESTAMP NOT NULL,
	outcome        TEXT NOT NULL,
	http_status    INTEGER,
	request_bytes  INTEGER NOT NULL,
	response_bytes INTEGER NOT NULL,
	failover       BOOLEAN NOT NULL DEFAULT 0,
	error_detail   TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_request_id ON audit_records(request_id);
CREATE INDEX IF NOT EXISTS idx_audit_started_at ON audit_records(started_at);
`

// SQLiteSink appends audit records to a local SQLite database. Intended for
// single-node and development deployments.
type SQLiteSink struct {
	conn *sql.DB
}

func NewSQLiteSink(path string) (*SQLiteSink, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// A single writer avoids SQLITE_BUSY under concurrent appends.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create audit schema: %w", err)
	}

	return &SQLiteSink{conn: conn}, nil
}

func (s *SQLiteSink) Append(ctx context.Context, rec *models.AuditRecord) error {
	query := `
		INSERT INTO audit_records (
			request_id, path, principal, model_id, started_at, completed_at,
			outcome, http_status, request_bytes, response_bytes, failover, error_detail
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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

func (s *SQLiteSink) Close() error {
	return s.conn.Close()
}
