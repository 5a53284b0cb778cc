package store

import (
	"context"
	"fmt"
	"time"

	"entgo.io/ent/dialect/sql"

	"docgen.io/pipeline/ent"
	"docgen.io/pipeline/ent/job"
	apperrors "docgen.io/pipeline/internal/pkg/errors"
)

// CreateJob enqueues a new Job in pending status (§3, §4.8).
func (s *Store) CreateJob(ctx context.Context, jobType job.JobType, payload map[string]interface{}) (*ent.Job, error) {
	return s.client.Job.Create().
		SetID(generateID()).
		SetJobType(jobType).
		SetStatus(job.StatusPending).
		SetPayload(payload).
		Save(ctx)
}

// ClaimPendingJob implements C8's claim_pending: in one transaction, locks
// the oldest pending job with FOR UPDATE SKIP LOCKED so concurrent
// claimants never receive the same row, sets it running, and returns it.
// Returns (nil, nil) when no pending job exists — this is the single point
// where race-free single-assignment is established (§4.8, §5).
func (s *Store) ClaimPendingJob(ctx context.Context, workerID string) (*ent.Job, error) {
	var out *ent.Job
	err := withTx(ctx, s.client, func(tx *ent.Tx) error {
		candidate, err := tx.Job.Query().
			Where(job.StatusEQ(job.StatusPending)).
			Order(ent.Asc(job.FieldCreatedAt)).
			ForUpdate(sql.WithLockAction(sql.SkipLocked)).
			First(ctx)
		if ent.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("query pending job: %w", err)
		}
		now := time.Now().UTC()
		out, err = tx.Job.UpdateOneID(candidate.ID).
			SetStatus(job.StatusRunning).
			SetStartedAt(now).
			SetWorkerID(workerID).
			Save(ctx)
		if err != nil {
			return fmt.Errorf("claim job %s: %w", candidate.ID, err)
		}
		return nil
	})
	return out, err
}

// CompleteJob transitions a job running→completed, recording its result.
// Any other starting status is an invalid_transition (§4.8).
func (s *Store) CompleteJob(ctx context.Context, id string, result map[string]interface{}) (*ent.Job, error) {
	var out *ent.Job
	err := withTx(ctx, s.client, func(tx *ent.Tx) error {
		j, err := tx.Job.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("get job %s: %w", id, err)
		}
		if j.Status != job.StatusRunning {
			return apperrors.ErrInvalidTransition(string(j.Status), string(job.StatusCompleted))
		}
		now := time.Now().UTC()
		out, err = tx.Job.UpdateOneID(id).
			SetStatus(job.StatusCompleted).
			SetResult(result).
			SetCompletedAt(now).
			Save(ctx)
		return err
	})
	return out, err
}

// FailJob transitions a job running→failed, recording the error message.
func (s *Store) FailJob(ctx context.Context, id, errMsg string) (*ent.Job, error) {
	var out *ent.Job
	err := withTx(ctx, s.client, func(tx *ent.Tx) error {
		j, err := tx.Job.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("get job %s: %w", id, err)
		}
		if j.Status != job.StatusRunning {
			return apperrors.ErrInvalidTransition(string(j.Status), string(job.StatusFailed))
		}
		now := time.Now().UTC()
		out, err = tx.Job.UpdateOneID(id).
			SetStatus(job.StatusFailed).
			SetError(errMsg).
			SetCompletedAt(now).
			Save(ctx)
		return err
	})
	return out, err
}

// GetJob fetches a Job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*ent.Job, error) {
	return s.client.Job.Get(ctx, id)
}

// RequeueStuckJobs resets jobs stuck in running past olderThan back to
// pending. Recovery is out of core scope per §4.8, but the pipeline's own
// step-level idempotency (§4.9) makes this operation safe to call from an
// operator tool or a periodic maintenance job.
func (s *Store) RequeueStuckJobs(ctx context.Context, olderThan time.Time) (int, error) {
	return s.client.Job.Update().
		Where(
			job.StatusEQ(job.StatusRunning),
			job.StartedAtLT(olderThan),
		).
		SetStatus(job.StatusPending).
		ClearWorkerID().
		ClearStartedAt().
		Save(ctx)
}
