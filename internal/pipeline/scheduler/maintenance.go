package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"docgen.io/pipeline/internal/pkg/logger"
	"docgen.io/pipeline/internal/pipeline/store"
)

// RequeueStuckJobsArgs is a periodic maintenance job that resets jobs stuck
// in "running" past a staleness threshold back to pending, grounded on the
// teacher's notification_cleanup periodic-job pattern.
type RequeueStuckJobsArgs struct {
	StaleAfterMinutes int `json:"stale_after_minutes"`
}

// Kind returns the job kind identifier for periodic stuck-job recovery.
func (RequeueStuckJobsArgs) Kind() string { return "requeue_stuck_jobs" }

// InsertOpts ensures at most one recovery sweep is enqueued within the same
// hour.
func (RequeueStuckJobsArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: time.Hour,
			ByQueue:  true,
		},
	}
}

// RequeueStuckJobsWorker resets stuck jobs so the Scheduler can reclaim
// them. Recovery semantics are out of core scope per §4.8; this is an
// operator-facing safety net, not a retry policy.
type RequeueStuckJobsWorker struct {
	river.WorkerDefaults[RequeueStuckJobsArgs]
	store             *store.Store
	defaultStaleAfter time.Duration
}

// NewRequeueStuckJobsWorker builds a RequeueStuckJobsWorker.
func NewRequeueStuckJobsWorker(s *store.Store, defaultStaleAfter time.Duration) *RequeueStuckJobsWorker {
	if defaultStaleAfter <= 0 {
		defaultStaleAfter = 15 * time.Minute
	}
	return &RequeueStuckJobsWorker{store: s, defaultStaleAfter: defaultStaleAfter}
}

// Work requeues jobs whose started_at is older than the staleness window.
func (w *RequeueStuckJobsWorker) Work(ctx context.Context, riverJob *river.Job[RequeueStuckJobsArgs]) error {
	staleAfter := w.defaultStaleAfter
	if riverJob.Args.StaleAfterMinutes > 0 {
		staleAfter = time.Duration(riverJob.Args.StaleAfterMinutes) * time.Minute
	}
	cutoff := time.Now().UTC().Add(-staleAfter)
	n, err := w.store.RequeueStuckJobs(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("requeue stuck jobs: %w", err)
	}
	if n > 0 {
		logger.Info("requeued stuck jobs", zap.Int("count", n), zap.Time("cutoff", cutoff))
	}
	return nil
}
