package audit

import (
	"context"
	"sync"

	"github.com/crosspartition/inference-proxy/internal/shared/models"
)

// MemorySink keeps records in memory. Used in tests and with
// AUDIT_DRIVER=none.
type MemorySink struct {
	mu      sync.Mutex
	records []*models.AuditRecord
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(_ context.Context, rec *models.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of everything appended so far.
func (s *MemorySink) Records() []*models.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.AuditRecord, len(s.records))
	copy(out, s.records)
	return out
}

func (s *MemorySink) Close() error { return nil }
