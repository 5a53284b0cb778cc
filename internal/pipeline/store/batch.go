package store

import (
	"context"
	"fmt"

	"docgen.io/pipeline/ent"
	"docgen.io/pipeline/ent/generationinput"
	"docgen.io/pipeline/ent/generationinputbatch"
	apperrors "docgen.io/pipeline/internal/pkg/errors"
)

// GenerationInputSpec is one dynamic-section input to create under a
// GenerationInputBatch (§3, §4.9 stage 1).
type GenerationInputSpec struct {
	SectionID          int
	SequenceOrder      int
	StructuralPath     string
	HierarchyContext   map[string]interface{}
	PromptConfig       map[string]interface{}
	ClientData         map[string]interface{}
	SurroundingContext map[string]interface{}
	InputHash          string
}

// CreateInputBatch creates a pending GenerationInputBatch with its child
// GenerationInput rows, all in one transaction. The batch and its children
// remain mutable until ValidateInputBatch commits them (§3 invariant: a
// batch may only transition pending→validated once).
func (s *Store) CreateInputBatch(ctx context.Context, documentID, templateVersionID string, versionIntent int, inputs []GenerationInputSpec) (*ent.GenerationInputBatch, []*ent.GenerationInput, error) {
	var batch *ent.GenerationInputBatch
	var created []*ent.GenerationInput
	err := withTx(ctx, s.client, func(tx *ent.Tx) error {
		var err error
		batch, err = tx.GenerationInputBatch.Create().
			SetID(generateID()).
			SetDocumentID(documentID).
			SetTemplateVersionID(templateVersionID).
			SetVersionIntent(versionIntent).
			SetStatus(generationinputbatch.StatusPending).
			Save(ctx)
		if err != nil {
			return fmt.Errorf("create input batch: %w", err)
		}

		creates := make([]*ent.GenerationInputCreate, 0, len(inputs))
		for _, in := range inputs {
			c := tx.GenerationInput.Create().
				SetID(generateID()).
				SetBatchID(batch.ID).
				SetSectionID(in.SectionID).
				SetSequenceOrder(in.SequenceOrder).
				SetStructuralPath(in.StructuralPath).
				SetInputHash(in.InputHash)
			if in.HierarchyContext != nil {
				c = c.SetHierarchyContext(in.HierarchyContext)
			}
			if in.PromptConfig != nil {
				c = c.SetPromptConfig(in.PromptConfig)
			}
			if in.ClientData != nil {
				c = c.SetClientData(in.ClientData)
			}
			if in.SurroundingContext != nil {
				c = c.SetSurroundingContext(in.SurroundingContext)
			}
			creates = append(creates, c)
		}
		created, err = tx.GenerationInput.CreateBulk(creates...).Save(ctx)
		if err != nil {
			return fmt.Errorf("create generation inputs: %w", err)
		}
		return nil
	})
	return batch, created, err
}

// ValidateInputBatch transitions a batch pending→validated, sets
// content_hash, and atomically marks the batch and every child input
// immutable in the same transaction (§3, §4.1 rule 3).
func (s *Store) ValidateInputBatch(ctx context.Context, batchID, contentHash string) (*ent.GenerationInputBatch, error) {
	var out *ent.GenerationInputBatch
	err := withTx(ctx, s.client, func(tx *ent.Tx) error {
		b, err := tx.GenerationInputBatch.Get(ctx, batchID)
		if err != nil {
			return fmt.Errorf("get input batch %s: %w", batchID, err)
		}
		if b.IsImmutable {
			return apperrors.ErrImmutabilityViolation(batchID)
		}
		if b.Status != generationinputbatch.StatusPending {
			return apperrors.ErrInvalidTransition(string(b.Status), string(generationinputbatch.StatusValidated))
		}
		out, err = tx.GenerationInputBatch.UpdateOneID(batchID).
			SetStatus(generationinputbatch.StatusValidated).
			SetContentHash(contentHash).
			SetIsImmutable(true).
			Save(ctx)
		if err != nil {
			return fmt.Errorf("validate input batch: %w", err)
		}
		if _, err := tx.GenerationInput.Update().
			Where(generationinput.BatchIDEQ(batchID)).
			SetIsImmutable(true).
			Save(ctx); err != nil {
			return fmt.Errorf("freeze generation inputs: %w", err)
		}
		return nil
	})
	return out, err
}

// MarkInputBatchFailed records a batch-level failure (e.g. zero dynamic
// sections resolved, join error); the batch is left mutable.
func (s *Store) MarkInputBatchFailed(ctx context.Context, batchID string) (*ent.GenerationInputBatch, error) {
	var out *ent.GenerationInputBatch
	err := withTx(ctx, s.client, func(tx *ent.Tx) error {
		b, err := tx.GenerationInputBatch.Get(ctx, batchID)
		if err != nil {
			return fmt.Errorf("get input batch %s: %w", batchID, err)
		}
		if b.IsImmutable {
			return apperrors.ErrImmutabilityViolation(batchID)
		}
		out, err = tx.GenerationInputBatch.UpdateOneID(batchID).
			SetStatus(generationinputbatch.StatusFailed).
			Save(ctx)
		return err
	})
	return out, err
}

// InputBatchByDocumentAndIntent is the natural-key lookup required by
// §4.1 rule 4 and used by the Coordinator's input-preparation idempotency
// check (§4.9 stage 1).
func (s *Store) InputBatchByDocumentAndIntent(ctx context.Context, documentID string, versionIntent int) (*ent.GenerationInputBatch, error) {
	return s.client.GenerationInputBatch.Query().
		Where(
			generationinputbatch.DocumentIDEQ(documentID),
			generationinputbatch.VersionIntentEQ(versionIntent),
		).
		Only(ctx)
}

// GetInputBatch fetches a GenerationInputBatch by id.
func (s *Store) GetInputBatch(ctx context.Context, id string) (*ent.GenerationInputBatch, error) {
	return s.client.GenerationInputBatch.Get(ctx, id)
}

// InputsByBatch returns a batch's GenerationInput children ordered by
// sequence_order (§5: SectionOutput.sequence_order must exactly equal the
// producing GenerationInput.sequence_order).
func (s *Store) InputsByBatch(ctx context.Context, batchID string) ([]*ent.GenerationInput, error) {
	return s.client.GenerationInput.Query().
		Where(generationinput.BatchIDEQ(batchID)).
		Order(ent.Asc(generationinput.FieldSequenceOrder)).
		All(ctx)
}
