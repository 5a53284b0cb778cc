package store

import (
	"context"
	"fmt"

	"docgen.io/pipeline/ent"
	"docgen.io/pipeline/ent/assembleddocument"
	apperrors "docgen.io/pipeline/internal/pkg/errors"
)

// CreateAssembledDocument creates a pending AssembledDocument (§4.5).
func (s *Store) CreateAssembledDocument(ctx context.Context, documentID, templateVersionID, sectionOutputBatchID string, versionIntent int) (*ent.AssembledDocument, error) {
	return s.client.AssembledDocument.Create().
		SetID(generateID()).
		SetDocumentID(documentID).
		SetTemplateVersionID(templateVersionID).
		SetVersionIntent(versionIntent).
		SetSectionOutputBatchID(sectionOutputBatchID).
		SetStatus(assembleddocument.StatusPending).
		Save(ctx)
}

// MarkAssembledInProgress transitions pending→in_progress.
func (s *Store) MarkAssembledInProgress(ctx context.Context, id string) (*ent.AssembledDocument, error) {
	var out *ent.AssembledDocument
	err := withTx(ctx, s.client, func(tx *ent.Tx) error {
		a, err := tx.AssembledDocument.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("get assembled document %s: %w", id, err)
		}
		if a.IsImmutable {
			return apperrors.ErrImmutabilityViolation(id)
		}
		out, err = tx.AssembledDocument.UpdateOneID(id).
			SetStatus(assembleddocument.StatusInProgress).
			Save(ctx)
		return err
	})
	return out, err
}

// AssembledDocumentCompletion bundles the fields set once the splice pass
// over the parsed template finishes (§4.5).
type AssembledDocumentCompletion struct {
	AssemblyHash           string
	TotalBlocks            int
	StaticBlocksCount      int
	DynamicBlocksCount     int
	InjectedSectionsCount  int
	AssembledStructure     map[string]interface{}
	Headers                []map[string]interface{}
	Footers                []map[string]interface{}
	DocumentMetadata       map[string]interface{}
}

// MarkAssembledCompleted records the spliced structure and self-check
// counters, transitioning in_progress→completed. Left mutable: the
// self-consistency check (dynamic_count==injected_count,
// total==static+dynamic) still has to pass before validation.
func (s *Store) MarkAssembledCompleted(ctx context.Context, id string, c AssembledDocumentCompletion) (*ent.AssembledDocument, error) {
	var out *ent.AssembledDocument
	err := withTx(ctx, s.client, func(tx *ent.Tx) error {
		a, err := tx.AssembledDocument.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("get assembled document %s: %w", id, err)
		}
		if a.IsImmutable {
			return apperrors.ErrImmutabilityViolation(id)
		}
		out, err = tx.AssembledDocument.UpdateOneID(id).
			SetStatus(assembleddocument.StatusCompleted).
			SetAssemblyHash(c.AssemblyHash).
			SetTotalBlocks(c.TotalBlocks).
			SetStaticBlocksCount(c.StaticBlocksCount).
			SetDynamicBlocksCount(c.DynamicBlocksCount).
			SetInjectedSectionsCount(c.InjectedSectionsCount).
			SetAssembledStructure(c.AssembledStructure).
			SetHeaders(c.Headers).
			SetFooters(c.Footers).
			SetDocumentMetadata(c.DocumentMetadata).
			Save(ctx)
		return err
	})
	return out, err
}

// MarkAssembledValidated flips a completed AssembledDocument to
// validated+immutable once the self-consistency check (§8 invariant 3)
// has passed.
func (s *Store) MarkAssembledValidated(ctx context.Context, id string) (*ent.AssembledDocument, error) {
	var out *ent.AssembledDocument
	err := withTx(ctx, s.client, func(tx *ent.Tx) error {
		a, err := tx.AssembledDocument.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("get assembled document %s: %w", id, err)
		}
		if a.IsImmutable {
			return apperrors.ErrImmutabilityViolation(id)
		}
		out, err = tx.AssembledDocument.UpdateOneID(id).
			SetStatus(assembleddocument.StatusValidated).
			SetIsImmutable(true).
			Save(ctx)
		return err
	})
	return out, err
}

// MarkAssembledFailed records a stage-fatal assembly failure (e.g.
// missing_validated_content); left mutable since the document was never
// exposed as validated (§4.9: no partial artifact is ever exposed).
func (s *Store) MarkAssembledFailed(ctx context.Context, id, errorCode, errorMessage string) (*ent.AssembledDocument, error) {
	var out *ent.AssembledDocument
	err := withTx(ctx, s.client, func(tx *ent.Tx) error {
		a, err := tx.AssembledDocument.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("get assembled document %s: %w", id, err)
		}
		if a.IsImmutable {
			return apperrors.ErrImmutabilityViolation(id)
		}
		out, err = tx.AssembledDocument.UpdateOneID(id).
			SetStatus(assembleddocument.StatusFailed).
			SetErrorCode(errorCode).
			SetErrorMessage(errorMessage).
			Save(ctx)
		return err
	})
	return out, err
}

// AssembledByDocumentAndIntent is the natural-key lookup required by §4.1
// rule 4 and the Coordinator's assembly-stage idempotency check.
func (s *Store) AssembledByDocumentAndIntent(ctx context.Context, documentID string, versionIntent int) (*ent.AssembledDocument, error) {
	return s.client.AssembledDocument.Query().
		Where(
			assembleddocument.DocumentIDEQ(documentID),
			assembleddocument.VersionIntentEQ(versionIntent),
		).
		Only(ctx)
}

// GetAssembledDocument fetches an AssembledDocument by id.
func (s *Store) GetAssembledDocument(ctx context.Context, id string) (*ent.AssembledDocument, error) {
	return s.client.AssembledDocument.Get(ctx, id)
}
