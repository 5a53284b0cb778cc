// Package scheduler implements the Job Scheduler (C8): a poll-based worker
// loop over the Job table's pending→running→{completed|failed} state
// machine, claiming work with the Artifact Store's row-locked
// SELECT...FOR UPDATE SKIP LOCKED query so concurrent workers never race on
// the same job (§4.8, §5).
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"docgen.io/pipeline/ent"
	"docgen.io/pipeline/ent/job"
	"docgen.io/pipeline/internal/governance/audit"
	"docgen.io/pipeline/internal/pkg/logger"
	"docgen.io/pipeline/internal/pipeline/store"
)

// Handler executes one job's payload and returns its result (or an error,
// which fails the job terminally — §4.8 has no in-place retry for jobs,
// only for section generation attempts within a running job).
type Handler func(ctx context.Context, j *ent.Job) (map[string]interface{}, error)

// Scheduler dispatches claimed jobs to a per-JobType Handler.
type Scheduler struct {
	store        *store.Store
	audit        *audit.Logger
	workerID     string
	pollInterval time.Duration
	handlers     map[job.JobType]Handler
}

// New builds a Scheduler with no registered handlers; call RegisterHandler
// for each job.JobType it should process.
func New(s *store.Store, auditLogger *audit.Logger, workerID string, pollInterval time.Duration) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Scheduler{
		store:        s,
		audit:        auditLogger,
		workerID:     workerID,
		pollInterval: pollInterval,
		handlers:     make(map[job.JobType]Handler),
	}
}

// RegisterHandler binds a Handler to a job.JobType.
func (sch *Scheduler) RegisterHandler(jobType job.JobType, h Handler) {
	sch.handlers[jobType] = h
}

// Run polls for pending jobs until ctx is canceled, dispatching each claimed
// job to its registered handler.
func (sch *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(sch.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for {
				claimed, err := sch.RunOnce(ctx)
				if err != nil {
					logger.Error("scheduler tick failed", zap.Error(err))
					break
				}
				if !claimed {
					break
				}
			}
		}
	}
}

// RunOnce claims at most one pending job and dispatches it, returning
// whether a job was claimed (so callers can drain the queue before the next
// poll tick).
func (sch *Scheduler) RunOnce(ctx context.Context) (bool, error) {
	claimed, err := sch.store.ClaimPendingJob(ctx, sch.workerID)
	if err != nil {
		return false, fmt.Errorf("claim pending job: %w", err)
	}
	if claimed == nil {
		return false, nil
	}

	if err := sch.audit.LogAction(ctx, "job", claimed.ID, audit.ActionJobClaimed, "", map[string]interface{}{
		"job_type":  string(claimed.JobType),
		"worker_id": sch.workerID,
	}); err != nil {
		logger.Error("audit job claim failed", zap.Error(err))
	}

	handler, ok := sch.handlers[claimed.JobType]
	if !ok {
		_, failErr := sch.store.FailJob(ctx, claimed.ID, fmt.Sprintf("no handler registered for job type %q", claimed.JobType))
		return true, failErr
	}

	result, handlerErr := handler(ctx, claimed)
	if handlerErr != nil {
		if _, err := sch.store.FailJob(ctx, claimed.ID, handlerErr.Error()); err != nil {
			return true, fmt.Errorf("fail job %s: %w", claimed.ID, err)
		}
		_ = sch.audit.LogAction(ctx, "job", claimed.ID, audit.ActionJobFailed, "", map[string]interface{}{"error": handlerErr.Error()})
		return true, nil
	}

	if _, err := sch.store.CompleteJob(ctx, claimed.ID, result); err != nil {
		return true, fmt.Errorf("complete job %s: %w", claimed.ID, err)
	}
	_ = sch.audit.LogAction(ctx, "job", claimed.ID, audit.ActionJobCompleted, "", map[string]interface{}{"job_type": string(claimed.JobType)})
	return true, nil
}
