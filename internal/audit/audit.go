// Package audit writes append-only audit entries. Recording never fails the
// caller: entries are queued to a background worker and failures are
// swallowed and logged locally.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkurbatov/freightgate/internal/logging"
	"github.com/dkurbatov/freightgate/internal/models"
	"github.com/dkurbatov/freightgate/internal/repository"
)

const (
	defaultBufferSize = 1024
	batchSize         = 100
	flushInterval     = 5 * time.Second
)

type Recorder struct {
	repo   *repository.AuditRepository
	logger logging.Logger
	ch     chan models.AuditLog
	done   chan struct{}
}

func NewRecorder(repo *repository.AuditRepository, logger logging.Logger, bufferSize int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	r := &Recorder{
		repo:   repo,
		logger: logger,
		ch:     make(chan models.AuditLog, bufferSize),
		done:   make(chan struct{}),
	}

	go r.worker()

	return r
}

// Record queues one audit entry. It never blocks and never returns an error;
// when the queue is full the entry is dropped and logged locally.
func (r *Recorder) Record(actorID int64, category, message, targetID string, details map[string]interface{}) {
	var detailsJSON string
	if len(details) > 0 {
		if raw, err := json.Marshal(details); err == nil {
			detailsJSON = string(raw)
		}
	}

	entry := models.AuditLog{
		Timestamp: time.Now(),
		ActorID:   actorID,
		Category:  category,
		Message:   message,
		TargetID:  targetID,
		Details:   detailsJSON,
	}

	select {
	case r.ch <- entry:
	default:
		r.logger.Warn("audit queue full, dropping entry",
			logging.String("category", category),
		)
	}
}

// Close flushes queued entries and stops the worker.
func (r *Recorder) Close() {
	close(r.ch)
	<-r.done
}

func (r *Recorder) worker() {
	defer close(r.done)

	batch := make([]models.AuditLog, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry, ok := <-r.ch:
			if !ok {
				r.flush(batch)
				return
			}
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				r.flush(batch)
				batch = make([]models.AuditLog, 0, batchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = make([]models.AuditLog, 0, batchSize)
			}
		}
	}
}

func (r *Recorder) flush(batch []models.AuditLog) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.repo.CreateBatch(ctx, batch); err != nil {
		r.logger.Error("failed to insert audit entries",
			logging.Int("count", len(batch)),
			logging.Error(err),
		)
	}
}
