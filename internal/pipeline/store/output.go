package store

import (
	"context"
	"fmt"
	"time"

	"docgen.io/pipeline/ent"
	"docgen.io/pipeline/ent/sectionoutput"
	"docgen.io/pipeline/ent/sectionoutputbatch"
	apperrors "docgen.io/pipeline/internal/pkg/errors"
)

// CreateOutputBatch creates a pending SectionOutputBatch for an input
// batch (§4.4). Callers must have already checked for an existing output
// batch via OutputBatchByInputBatch to honor the duplicate_output_batch
// idempotency rule.
func (s *Store) CreateOutputBatch(ctx context.Context, inputBatchID, documentID string, versionIntent, totalSections int) (*ent.SectionOutputBatch, error) {
	return s.client.SectionOutputBatch.Create().
		SetID(generateID()).
		SetInputBatchID(inputBatchID).
		SetDocumentID(documentID).
		SetVersionIntent(versionIntent).
		SetStatus(sectionoutputbatch.StatusPending).
		SetTotalSections(totalSections).
		Save(ctx)
}

// MarkOutputBatchInProgress transitions pending→in_progress.
func (s *Store) MarkOutputBatchInProgress(ctx context.Context, id string) (*ent.SectionOutputBatch, error) {
	var out *ent.SectionOutputBatch
	err := withTx(ctx, s.client, func(tx *ent.Tx) error {
		b, err := tx.SectionOutputBatch.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("get output batch %s: %w", id, err)
		}
		if b.IsImmutable {
			return apperrors.ErrImmutabilityViolation(id)
		}
		out, err = tx.SectionOutputBatch.UpdateOneID(id).
			SetStatus(sectionoutputbatch.StatusInProgress).
			Save(ctx)
		return err
	})
	return out, err
}

// CreatePendingOutputs bulk-creates one pending SectionOutput per
// GenerationInput, preserving sequence_order (§5).
func (s *Store) CreatePendingOutputs(ctx context.Context, batchID string, inputs []*ent.GenerationInput, maxRetries int) ([]*ent.SectionOutput, error) {
	creates := make([]*ent.SectionOutputCreate, 0, len(inputs))
	for _, in := range inputs {
		creates = append(creates, s.client.SectionOutput.Create().
			SetID(generateID()).
			SetBatchID(batchID).
			SetGenerationInputID(in.ID).
			SetSectionID(in.SectionID).
			SetSequenceOrder(in.SequenceOrder).
			SetStatus(sectionoutput.StatusPending).
			SetMaxRetries(maxRetries))
	}
	return s.client.SectionOutput.CreateBulk(creates...).Save(ctx)
}

// MarkOutputInProgress transitions an output to in_progress ahead of the
// first generation attempt.
func (s *Store) MarkOutputInProgress(ctx context.Context, id string) (*ent.SectionOutput, error) {
	var out *ent.SectionOutput
	err := withTx(ctx, s.client, func(tx *ent.Tx) error {
		o, err := tx.SectionOutput.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("get output %s: %w", id, err)
		}
		if o.IsImmutable {
			return apperrors.ErrImmutabilityViolation(id)
		}
		out, err = tx.SectionOutput.UpdateOneID(id).
			SetStatus(sectionoutput.StatusInProgress).
			Save(ctx)
		return err
	})
	return out, err
}

// RetryAttemptRecord is one entry appended to SectionOutput.retry_history
// (§4.3).
type RetryAttemptRecord struct {
	AttemptNumber int       `json:"attempt_number"`
	ErrorCode     string    `json:"error_code"`
	ErrorMessage  string    `json:"error_message"`
	Timestamp     time.Time `json:"timestamp"`
}

// RecordRetryAttempt appends a RetryAttempt to retry_history, bumps
// retry_count, and sets status=retrying. The row stays mutable — retries
// are, by definition, not yet terminal (§4.3).
func (s *Store) RecordRetryAttempt(ctx context.Context, id string, attempt RetryAttemptRecord) (*ent.SectionOutput, error) {
	var out *ent.SectionOutput
	err := withTx(ctx, s.client, func(tx *ent.Tx) error {
		o, err := tx.SectionOutput.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("get output %s: %w", id, err)
		}
		if o.IsImmutable {
			return apperrors.ErrImmutabilityViolation(id)
		}
		history := append(append([]map[string]interface{}{}, o.RetryHistory...), map[string]interface{}{
			"attempt_number": attempt.AttemptNumber,
			"error_code":     attempt.ErrorCode,
			"error_message":  attempt.ErrorMessage,
			"timestamp":      attempt.Timestamp,
		})
		out, err = tx.SectionOutput.UpdateOneID(id).
			SetStatus(sectionoutput.StatusRetrying).
			SetRetryCount(attempt.AttemptNumber).
			SetRetryHistory(history).
			Save(ctx)
		return err
	})
	return out, err
}

// MarkOutputValidated persists a successful generation outcome, atomically
// setting is_immutable=true in the same transaction (§4.1 rule 3, §4.3
// step 4).
func (s *Store) MarkOutputValidated(ctx context.Context, id, content, contentHash string, validationResult, metadata map[string]interface{}) (*ent.SectionOutput, error) {
	var out *ent.SectionOutput
	err := withTx(ctx, s.client, func(tx *ent.Tx) error {
		o, err := tx.SectionOutput.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("get output %s: %w", id, err)
		}
		if o.IsImmutable {
			return apperrors.ErrImmutabilityViolation(id)
		}
		now := time.Now().UTC()
		out, err = tx.SectionOutput.UpdateOneID(id).
			SetStatus(sectionoutput.StatusValidated).
			SetGeneratedContent(content).
			SetContentLength(len([]rune(content))).
			SetContentHash(contentHash).
			SetValidationResult(validationResult).
			SetGenerationMetadata(metadata).
			SetCompletedAt(now).
			SetIsImmutable(true).
			Save(ctx)
		return err
	})
	return out, err
}

// MarkOutputFailed persists a terminal failure (not-retryable on first
// occurrence, or retries exhausted), atomically setting is_immutable=true
// (§4.3 steps 5-6).
func (s *Store) MarkOutputFailed(ctx context.Context, id, errorCode, failureCategory string, metadata map[string]interface{}) (*ent.SectionOutput, error) {
	var out *ent.SectionOutput
	err := withTx(ctx, s.client, func(tx *ent.Tx) error {
		o, err := tx.SectionOutput.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("get output %s: %w", id, err)
		}
		if o.IsImmutable {
			return apperrors.ErrImmutabilityViolation(id)
		}
		now := time.Now().UTC()
		out, err = tx.SectionOutput.UpdateOneID(id).
			SetStatus(sectionoutput.StatusFailed).
			SetErrorCode(errorCode).
			SetFailureCategory(failureCategory).
			SetGenerationMetadata(metadata).
			SetCompletedAt(now).
			SetIsImmutable(true).
			Save(ctx)
		return err
	})
	return out, err
}

// UpdateBatchProgress records the completed/failed tally for an output
// batch and, when every section has reached a terminal state, atomically
// marks the batch completed+immutable (§4.4).
func (s *Store) UpdateBatchProgress(ctx context.Context, id string, completed, failed int) (*ent.SectionOutputBatch, error) {
	var out *ent.SectionOutputBatch
	err := withTx(ctx, s.client, func(tx *ent.Tx) error {
		b, err := tx.SectionOutputBatch.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("get output batch %s: %w", id, err)
		}
		if b.IsImmutable {
			return apperrors.ErrImmutabilityViolation(id)
		}
		upd := tx.SectionOutputBatch.UpdateOneID(id).
			SetCompletedSections(completed).
			SetFailedSections(failed)
		if completed+failed >= b.TotalSections {
			upd = upd.SetStatus(sectionoutputbatch.StatusCompleted).SetIsImmutable(true)
		}
		out, err = upd.Save(ctx)
		return err
	})
	return out, err
}

// OutputBatchByInputBatch is the natural-key lookup backing §4.4's
// duplicate_output_batch idempotency check.
func (s *Store) OutputBatchByInputBatch(ctx context.Context, inputBatchID string) (*ent.SectionOutputBatch, error) {
	return s.client.SectionOutputBatch.Query().
		Where(sectionoutputbatch.InputBatchIDEQ(inputBatchID)).
		Only(ctx)
}

// OutputBatchByDocumentAndIntent looks up an output batch by
// (document_id, version_intent), used by the Regeneration Planner (§4.7)
// to find the previous version's outputs.
func (s *Store) OutputBatchByDocumentAndIntent(ctx context.Context, documentID string, versionIntent int) (*ent.SectionOutputBatch, error) {
	return s.client.SectionOutputBatch.Query().
		Where(
			sectionoutputbatch.DocumentIDEQ(documentID),
			sectionoutputbatch.VersionIntentEQ(versionIntent),
		).
		Only(ctx)
}

// GetOutputBatch fetches a SectionOutputBatch by id.
func (s *Store) GetOutputBatch(ctx context.Context, id string) (*ent.SectionOutputBatch, error) {
	return s.client.SectionOutputBatch.Get(ctx, id)
}

// OutputsByBatch returns a batch's SectionOutput children ordered by
// sequence_order.
func (s *Store) OutputsByBatch(ctx context.Context, batchID string) ([]*ent.SectionOutput, error) {
	return s.client.SectionOutput.Query().
		Where(sectionoutput.BatchIDEQ(batchID)).
		Order(ent.Asc(sectionoutput.FieldSequenceOrder)).
		All(ctx)
}

// OutputBySectionID fetches the single output for a section within a
// batch, used by the Assembler (§4.5) to resolve dynamic content.
func (s *Store) OutputBySectionID(ctx context.Context, batchID string, sectionID int) (*ent.SectionOutput, error) {
	return s.client.SectionOutput.Query().
		Where(
			sectionoutput.BatchIDEQ(batchID),
			sectionoutput.SectionIDEQ(sectionID),
		).
		Only(ctx)
}

// GetOutput fetches a SectionOutput by id.
func (s *Store) GetOutput(ctx context.Context, id string) (*ent.SectionOutput, error) {
	return s.client.SectionOutput.Get(ctx, id)
}
