package store

import (
	"context"
	"fmt"

	"docgen.io/pipeline/ent"
	"docgen.io/pipeline/ent/rendereddocument"
	apperrors "docgen.io/pipeline/internal/pkg/errors"
)

// CreateRenderedDocument creates a pending RenderedDocument (§4.6).
func (s *Store) CreateRenderedDocument(ctx context.Context, assembledDocumentID, documentID string, version int) (*ent.RenderedDocument, error) {
	return s.client.RenderedDocument.Create().
		SetID(generateID()).
		SetAssembledDocumentID(assembledDocumentID).
		SetDocumentID(documentID).
		SetVersion(version).
		SetStatus(rendereddocument.StatusPending).
		Save(ctx)
}

// MarkRenderedInProgress transitions pending→in_progress.
func (s *Store) MarkRenderedInProgress(ctx context.Context, id string) (*ent.RenderedDocument, error) {
	var out *ent.RenderedDocument
	err := withTx(ctx, s.client, func(tx *ent.Tx) error {
		r, err := tx.RenderedDocument.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("get rendered document %s: %w", id, err)
		}
		if r.IsImmutable {
			return apperrors.ErrImmutabilityViolation(id)
		}
		out, err = tx.RenderedDocument.UpdateOneID(id).
			SetStatus(rendereddocument.StatusInProgress).
			Save(ctx)
		return err
	})
	return out, err
}

// MarkRenderedFailed records a rendering/persistence failure (§4.6); the
// row stays mutable, never exposed as validated.
func (s *Store) MarkRenderedFailed(ctx context.Context, id, errorCode, errorMessage string) (*ent.RenderedDocument, error) {
	var out *ent.RenderedDocument
	err := withTx(ctx, s.client, func(tx *ent.Tx) error {
		r, err := tx.RenderedDocument.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("get rendered document %s: %w", id, err)
		}
		if r.IsImmutable {
			return apperrors.ErrImmutabilityViolation(id)
		}
		out, err = tx.RenderedDocument.UpdateOneID(id).
			SetStatus(rendereddocument.StatusFailed).
			SetErrorCode(errorCode).
			SetErrorMessage(errorMessage).
			Save(ctx)
		return err
	})
	return out, err
}

// RenderedDocumentCompletion bundles everything known only after a
// successful render + persist + reload-and-compare cycle (§4.6).
type RenderedDocumentCompletion struct {
	OutputBlobKey   string
	ContentHash     string
	FileSize        int64
	BlockTypeCounts map[string]int
}

// MarkRenderedValidated persists the render outcome and atomically sets
// is_immutable=true, only called after the reload-from-store hash compare
// succeeds (§4.6: "Mark validated+is_immutable only after successful
// reload").
func (s *Store) MarkRenderedValidated(ctx context.Context, id string, c RenderedDocumentCompletion) (*ent.RenderedDocument, error) {
	var out *ent.RenderedDocument
	err := withTx(ctx, s.client, func(tx *ent.Tx) error {
		r, err := tx.RenderedDocument.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("get rendered document %s: %w", id, err)
		}
		if r.IsImmutable {
			return apperrors.ErrImmutabilityViolation(id)
		}
		out, err = tx.RenderedDocument.UpdateOneID(id).
			SetStatus(rendereddocument.StatusValidated).
			SetOutputBlobKey(c.OutputBlobKey).
			SetContentHash(c.ContentHash).
			SetFileSize(c.FileSize).
			SetBlockTypeCounts(c.BlockTypeCounts).
			SetIsImmutable(true).
			Save(ctx)
		return err
	})
	return out, err
}

// RenderedByDocumentAndVersion is the natural-key lookup required by
// §4.1 rule 4 and the Coordinator's render-stage idempotency check.
func (s *Store) RenderedByDocumentAndVersion(ctx context.Context, documentID string, version int) (*ent.RenderedDocument, error) {
	return s.client.RenderedDocument.Query().
		Where(
			rendereddocument.DocumentIDEQ(documentID),
			rendereddocument.VersionEQ(version),
		).
		Only(ctx)
}

// RenderedByContentHash is a deduplication probe (§4.1 rule 4).
func (s *Store) RenderedByContentHash(ctx context.Context, hash string) (*ent.RenderedDocument, error) {
	return s.client.RenderedDocument.Query().
		Where(rendereddocument.ContentHashEQ(hash)).
		Only(ctx)
}

// GetRenderedDocument fetches a RenderedDocument by id.
func (s *Store) GetRenderedDocument(ctx context.Context, id string) (*ent.RenderedDocument, error) {
	return s.client.RenderedDocument.Get(ctx, id)
}
