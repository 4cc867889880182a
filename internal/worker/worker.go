package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devjunction/backend/pkg/queue"
)

// ExpiryStore is the slice of the meeting store the sweeper needs.
type ExpiryStore interface {
	DeleteExpiredByID(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
}

// JobQueue is the slice of the job queue the sweeper needs. Implemented by
// *queue.Queue.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
	Requeue(ctx context.Context, job *queue.Job) error
}

// ExpirySweeper processes deferred meeting-expiry jobs: wait out the meeting's
// end time, then issue the conditional delete. Meetings already completed,
// cancelled or swept by the read path make the delete a no-op.
type ExpirySweeper struct {
	store  ExpiryStore
	queue  JobQueue
	logger *zap.Logger
}

// NewExpirySweeper creates an expiry sweep processor.
func NewExpirySweeper(store ExpiryStore, q JobQueue, logger *zap.Logger) *ExpirySweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpirySweeper{store: store, queue: q, logger: logger}
}

// Process executes one expiry job, blocking until the meeting's end time.
func (p *ExpirySweeper) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeMeetingExpiry {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.MeetingExpiryPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	if wait := time.Until(payload.ExpiresAt); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	deleted, err := p.store.DeleteExpiredByID(ctx, payload.MeetingID, time.Now())
	if err != nil {
		return fmt.Errorf("sweep meeting %s: %w", payload.MeetingID, err)
	}
	if deleted {
		p.logger.Info("expired meeting swept", zap.String("meeting_id", payload.MeetingID.String()))
	} else {
		p.logger.Debug("meeting already settled or swept", zap.String("meeting_id", payload.MeetingID.String()))
	}
	return nil
}

// requeue returns an interrupted job to the queue on a fresh context, since
// the worker's own context is already cancelled.
func (p *ExpirySweeper) requeue(job *queue.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.queue.Requeue(ctx, job); err != nil {
		p.logger.Error("requeue on shutdown failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ExpirySweeper) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("expiry worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			if ctx.Err() != nil {
				// Shutdown interrupted the wait; hand the job back so the
				// next worker picks it up instead of losing the sweep.
				p.requeue(job)
				return
			}
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
		}
	}
}
