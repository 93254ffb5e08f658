package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/learnsphere/backend/internal/cache"
	"github.com/learnsphere/backend/internal/polling"
	"github.com/learnsphere/backend/pkg/queue"
)

// CleanupProcessor processes vote-ledger cleanup jobs: once a closed
// question's grace window has passed, its ledger keys are purged.
type CleanupProcessor struct {
	votes  *polling.VoteLedger
	queue  *queue.Queue
	logger *zap.Logger
}

// NewCleanupProcessor creates a ledger cleanup processor.
func NewCleanupProcessor(store cache.Store, q *queue.Queue, logger *zap.Logger) *CleanupProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CleanupProcessor{votes: polling.NewVoteLedger(store, 0), queue: q, logger: logger}
}

// Process executes one cleanup job. Jobs that are not yet due block
// until their run_at time; the queue is filled in close order with a
// uniform grace, so the head job is always the earliest due.
func (p *CleanupProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeLedgerCleanup {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.LedgerCleanupPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	if wait := time.Until(payload.RunAt); wait > 0 {
		p.logger.Debug("job not yet due, waiting",
			zap.String("question_id", payload.QuestionID.String()),
			zap.Duration("wait", wait))
		select {
		case <-ctx.Done():
			// Re-enqueue without burning an attempt so the job survives shutdown.
			return p.requeue(payload)
		case <-time.After(wait):
		}
	}

	if err := p.votes.Cleanup(ctx, payload.QuestionID); err != nil {
		return fmt.Errorf("ledger cleanup: %w", err)
	}
	p.logger.Info("vote ledger purged", zap.String("question_id", payload.QuestionID.String()))
	return nil
}

func (p *CleanupProcessor) requeue(payload queue.LedgerCleanupPayload) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.queue.ScheduleLedgerCleanup(ctx, payload.QuestionID, payload.RunAt)
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *CleanupProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("cleanup worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("cleanup worker stopping")
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
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(context.WithoutCancel(ctx), job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
