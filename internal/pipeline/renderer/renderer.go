// Package renderer implements the Renderer Adapter (C6): it turns a
// validated AssembledDocument into a binary artifact via docxcodec, persists
// it to the object store, and reloads-and-compares before marking the
// result validated (§4.6).
package renderer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/go-cmp/cmp"

	"docgen.io/pipeline/ent"
	apperrors "docgen.io/pipeline/internal/pkg/errors"
	"docgen.io/pipeline/internal/docxcodec"
	"docgen.io/pipeline/internal/objectstore"
	"docgen.io/pipeline/internal/pipeline/assembler"
	"docgen.io/pipeline/internal/pipeline/store"
)

// Renderer drives one assembled document's render→persist→verify cycle.
type Renderer struct {
	store    *store.Store
	objects  objectstore.Store
	codec    docxcodec.Renderer
	blobKeyF func(documentID string, version int) string
}

// New builds a Renderer. blobKeyFunc controls the object-store key layout;
// a sensible default is used if nil.
func New(s *store.Store, objects objectstore.Store, codec docxcodec.Renderer, blobKeyFunc func(documentID string, version int) string) *Renderer {
	if blobKeyFunc == nil {
		blobKeyFunc = func(documentID string, version int) string {
			return fmt.Sprintf("documents/%s/%d/output.docx", documentID, version)
		}
	}
	return &Renderer{store: s, objects: objects, codec: codec, blobKeyF: blobKeyFunc}
}

// RenderDocument runs the render stage for one (document, version):
// idempotent-by-reuse when already validated, unless forceRegenerate is set
// (§4.9 stage 4: "reuse unless force_regenerate"). A validated, immutable
// render can never be overwritten in place (§7), so forcing one is a
// conflict, not a silent no-op — matching the original service's
// already_rendered guard, but surfaced as an error instead of returning the
// stale row; without force the validated row is returned. A previous non-terminal
// attempt (failed/in_progress) is never immutable and is always retried in
// place, force or not.
func (r *Renderer) RenderDocument(ctx context.Context, assembledDocumentID, documentID string, version int, forceRegenerate bool) (*ent.RenderedDocument, error) {
	var renderedID string
	if existing, err := r.store.RenderedByDocumentAndVersion(ctx, documentID, version); err == nil {
		if existing.IsImmutable {
			if !forceRegenerate {
				return existing, nil
			}
			return nil, apperrors.ErrAlreadyRendered(documentID, version)
		}
		renderedID = existing.ID
	} else if !ent.IsNotFound(err) {
		return nil, fmt.Errorf("check existing rendered document: %w", err)
	}

	assembled, err := r.store.GetAssembledDocument(ctx, assembledDocumentID)
	if err != nil {
		return nil, fmt.Errorf("get assembled document %s: %w", assembledDocumentID, err)
	}
	if !assembled.IsImmutable {
		return nil, apperrors.ErrDocumentNotImmutable(assembledDocumentID)
	}

	input := buildRenderInput(assembled)

	if renderedID == "" {
		rendered, err := r.store.CreateRenderedDocument(ctx, assembledDocumentID, documentID, version)
		if err != nil {
			return nil, fmt.Errorf("create rendered document: %w", err)
		}
		renderedID = rendered.ID
	}
	if _, err := r.store.MarkRenderedInProgress(ctx, renderedID); err != nil {
		return nil, fmt.Errorf("mark rendered in progress: %w", err)
	}

	output, err := r.codec.Render(ctx, input)
	if err != nil {
		return r.store.MarkRenderedFailed(ctx, renderedID, apperrors.CodeRenderingFailed, err.Error())
	}

	blobKey := r.blobKeyF(documentID, version)
	if err := r.objects.Put(ctx, blobKey, output.Bytes); err != nil {
		return r.store.MarkRenderedFailed(ctx, renderedID, apperrors.CodeRenderPersistFailed, err.Error())
	}

	reloaded, err := r.objects.Get(ctx, blobKey)
	if err != nil {
		return r.store.MarkRenderedFailed(ctx, renderedID, apperrors.CodeRenderPersistFailed, fmt.Sprintf("reload after persist: %v", err))
	}
	reloadHash := contentHash(reloaded)
	if reloadHash != output.ContentHash {
		return r.store.MarkRenderedFailed(ctx, renderedID, apperrors.CodeRenderValidateFailed, "reloaded content hash does not match rendered hash")
	}

	counts := make(map[string]int, len(output.BlockTypeCounts))
	for k, v := range output.BlockTypeCounts {
		counts[string(k)] = v
	}

	return r.store.MarkRenderedValidated(ctx, renderedID, store.RenderedDocumentCompletion{
		OutputBlobKey:   blobKey,
		ContentHash:     output.ContentHash,
		FileSize:        output.FileSize,
		BlockTypeCounts: counts,
	})
}

// VerifyDeterminism renders the same assembled structure twice and confirms
// the outputs are structurally identical, independent of the persisted
// artifact. Used by determinism tests and the demo validate operation
// (§8 invariant: identical inputs yield byte-identical outputs).
func (r *Renderer) VerifyDeterminism(ctx context.Context, assembled *ent.AssembledDocument) (bool, string, error) {
	input := buildRenderInput(assembled)
	first, err := r.codec.Render(ctx, input)
	if err != nil {
		return false, "", fmt.Errorf("first render: %w", err)
	}
	second, err := r.codec.Render(ctx, input)
	if err != nil {
		return false, "", fmt.Errorf("second render: %w", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		return false, diff, nil
	}
	return true, "", nil
}

func buildRenderInput(assembled *ent.AssembledDocument) docxcodec.RenderInput {
	var bodyRaw []map[string]interface{}
	if blocks, ok := assembled.AssembledStructure["blocks"].([]interface{}); ok {
		bodyRaw = toMapSlice(blocks)
	} else if blocks, ok := assembled.AssembledStructure["blocks"].([]map[string]interface{}); ok {
		bodyRaw = blocks
	}
	return docxcodec.RenderInput{
		Blocks:  assembler.FromMaps(bodyRaw),
		Headers: assembler.FromMaps(assembled.Headers),
		Footers: assembler.FromMaps(assembled.Footers),
	}
}

func toMapSlice(raw []interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
