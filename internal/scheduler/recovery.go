package scheduler

import (
	"context"

	"go.uber.org/zap"
)

// RecoverStaleJob returns items left in processing by a crashed worker to
// pending so the next sweep picks them up.
func (s *Scheduler) RecoverStaleJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobRecoverStale)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	recovered, err := s.queue.RecoverStale(ctx, s.cfg.StaleAfter)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.recover.failed", JobRecoverStale, "", err)
		return err
	}
	run.addProcessed(int(recovered))
	if recovered > 0 {
		s.logger(ctx).Warn("stale queue items recovered",
			zap.Int64("count", recovered),
			zap.Duration("stale_after", s.cfg.StaleAfter),
		)
	}
	return nil
}

// PruneCompletedJob deletes completed items past the retention window.
// Ledger rows are never pruned.
func (s *Scheduler) PruneCompletedJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobPruneCompleted)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	pruned, err := s.queue.PruneCompleted(ctx, s.cfg.CompletedRetention)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.prune.failed", JobPruneCompleted, "", err)
		return err
	}
	run.addProcessed(int(pruned))
	return nil
}
