// Package audit records one immutable record per routed attempt. Writes go
// through a bounded queue so a slow sink never stalls in-flight requests.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/crosspartition/inference-proxy/internal/shared/models"
)

// Sink is the external audit storage collaborator.
type Sink interface {
	Append(ctx context.Context, rec *models.AuditRecord) error
	Close() error
}

const (
	defaultQueueSize      = 256
	defaultEnqueueTimeout = 50 * time.Millisecond
	appendTimeout         = 5 * time.Second
)

// Writer decouples the hot request path from the sink. Record blocks for at
// most the enqueue timeout when the queue is full, then drops the record
// with a logged warning.
type Writer struct {
	sink           Sink
	queue          chan *models.AuditRecord
	enqueueTimeout time.Duration
	log            *slog.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewWriter(sink Sink, queueSize int, log *slog.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	w := &Writer{
		sink:           sink,
		queue:          make(chan *models.AuditRecord, queueSize),
		enqueueTimeout: defaultEnqueueTimeout,
		log:            log,
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Record enqueues one audit record. Never blocks longer than the enqueue
// timeout.
func (w *Writer) Record(rec *models.AuditRecord) {
	select {
	case w.queue <- rec:
		return
	default:
	}

	timer := time.NewTimer(w.enqueueTimeout)
	defer timer.Stop()
	select {
	case w.queue <- rec:
	case <-timer.C:
		w.log.Warn("audit queue full, dropping record",
			"request_id", rec.RequestID, "path", rec.Path, "outcome", rec.Outcome)
	}
}

func (w *Writer) run() {
	defer w.wg.Done()
	for rec := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		if err := w.sink.Append(ctx, rec); err != nil {
			w.log.Error("audit append failed",
				"request_id", rec.RequestID, "path", rec.Path, "error", err)
		}
		cancel()
	}
}

// Close drains the queue and closes the sink.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		close(w.queue)
	})
	w.wg.Wait()
	return w.sink.Close()
}
