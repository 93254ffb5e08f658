package polling

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/learnsphere/backend/internal/cache"
)

// LocalCleanup schedules in-process ledger purges for fallback mode
// (no Redis, so no durable job queue). Scheduled purges are lost on
// restart; the ledger key TTLs remain the safety net.
type LocalCleanup struct {
	votes  *VoteLedger
	logger *zap.Logger
}

// NewLocalCleanup creates an in-process cleanup scheduler.
func NewLocalCleanup(store cache.Store, logger *zap.Logger) *LocalCleanup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalCleanup{votes: NewVoteLedger(store, 0), logger: logger}
}

// ScheduleLedgerCleanup purges the question's ledger keys at runAt.
func (l *LocalCleanup) ScheduleLedgerCleanup(_ context.Context, questionID uuid.UUID, runAt time.Time) error {
	time.AfterFunc(time.Until(runAt), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := l.votes.Cleanup(ctx, questionID); err != nil {
			l.logger.Warn("ledger cleanup failed", zap.Error(err), zap.String("question_id", questionID.String()))
			return
		}
		l.logger.Debug("ledger cleaned up", zap.String("question_id", questionID.String()))
	})
	return nil
}
