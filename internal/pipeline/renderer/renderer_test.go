package renderer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"docgen.io/pipeline/ent"
	"docgen.io/pipeline/ent/section"
	"docgen.io/pipeline/internal/docxcodec"
	apperrors "docgen.io/pipeline/internal/pkg/errors"
	"docgen.io/pipeline/internal/objectstore"
	"docgen.io/pipeline/internal/pipeline/assembler"
	"docgen.io/pipeline/internal/pipeline/ingest"
	"docgen.io/pipeline/internal/pipeline/store"
	"docgen.io/pipeline/internal/pkg/logger"
	"docgen.io/pipeline/internal/testutil"
)

func init() {
	_ = logger.Init("error", "json")
}

const renderSource = `Heading 1: Introduction
This is the introduction paragraph that the model must generate dynamically.
Heading 1: Conclusion
This is the concluding paragraph that the model must generate dynamically.
`

// flakyCodec fails its first N Render calls, then delegates to a real
// renderer — used to exercise the retry-in-place path on a prior failed row.
type flakyCodec struct {
	failures int
	calls    int
	delegate docxcodec.Renderer
}

func (c *flakyCodec) Render(ctx context.Context, input docxcodec.RenderInput) (*docxcodec.RenderOutput, error) {
	c.calls++
	if c.calls <= c.failures {
		return nil, fmt.Errorf("simulated codec failure on attempt %d", c.calls)
	}
	return c.delegate.Render(ctx, input)
}

type rendererRig struct {
	store   *store.Store
	objects objectstore.Store
	doc     *ent.Document
	tv      *ent.TemplateVersion
}

func newRendererRig(t *testing.T) *rendererRig {
	t.Helper()
	ctx := context.Background()
	client := testutil.OpenEntPostgres(t, "renderer")
	s := store.New(client)
	objects := objectstore.NewMemoryStore()
	parser := docxcodec.NewLineFormatParser()
	ing := ingest.New(s, objects, parser)

	tmpl, err := s.CreateTemplate(ctx, "renderer-rig")
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	sourceKey := fmt.Sprintf("templates/%s/1/source.docx", tmpl.ID)
	if err := objects.Put(ctx, sourceKey, []byte(renderSource)); err != nil {
		t.Fatalf("put source blob: %v", err)
	}
	tv, err := s.CreateTemplateVersion(ctx, tmpl.ID, 1, sourceKey)
	if err != nil {
		t.Fatalf("create template version: %v", err)
	}
	if tv, err = ing.ParseTemplateVersion(ctx, tv.ID); err != nil {
		t.Fatalf("parse template version: %v", err)
	}
	if _, err := ing.ClassifySections(ctx, tv.ID); err != nil {
		t.Fatalf("classify sections: %v", err)
	}
	doc, err := s.CreateDocument(ctx, tv.ID)
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	return &rendererRig{store: s, objects: objects, doc: doc, tv: tv}
}

// validatedAssembledDocument builds a fully validated AssembledDocument for
// version, the precondition RenderDocument requires before it will render.
func (r *rendererRig) validatedAssembledDocument(t *testing.T, ctx context.Context, version int) *ent.AssembledDocument {
	t.Helper()
	sections, err := r.store.SectionsByTemplateVersion(ctx, r.tv.ID)
	if err != nil {
		t.Fatalf("load sections: %v", err)
	}
	var dynamic []*ent.Section
	for _, sec := range sections {
		if sec.SectionType == section.SectionTypeDynamic {
			dynamic = append(dynamic, sec)
		}
	}
	specs := make([]store.GenerationInputSpec, len(dynamic))
	for i, sec := range dynamic {
		specs[i] = store.GenerationInputSpec{SectionID: sec.ID, SequenceOrder: sec.SequenceOrder, StructuralPath: sec.StructuralPath, InputHash: fmt.Sprintf("hash-%d-%d", version, sec.ID)}
	}
	inputBatch, inputs, err := r.store.CreateInputBatch(ctx, r.doc.ID, r.tv.ID, version, specs)
	if err != nil {
		t.Fatalf("create input batch: %v", err)
	}
	if _, err := r.store.ValidateInputBatch(ctx, inputBatch.ID, fmt.Sprintf("content-hash-%d", version)); err != nil {
		t.Fatalf("validate input batch: %v", err)
	}
	outputBatch, err := r.store.CreateOutputBatch(ctx, inputBatch.ID, r.doc.ID, version, len(inputs))
	if err != nil {
		t.Fatalf("create output batch: %v", err)
	}
	outputs, err := r.store.CreatePendingOutputs(ctx, outputBatch.ID, inputs, 0)
	if err != nil {
		t.Fatalf("create pending outputs: %v", err)
	}
	for _, o := range outputs {
		if _, err := r.store.MarkOutputInProgress(ctx, o.ID); err != nil {
			t.Fatalf("mark output in progress: %v", err)
		}
		content := fmt.Sprintf("Generated content for section %d.", o.SectionID)
		if _, err := r.store.MarkOutputValidated(ctx, o.ID, content, fmt.Sprintf("content-hash-%d-%d", version, o.SectionID), map[string]interface{}{"is_valid": true}, nil); err != nil {
			t.Fatalf("mark output validated: %v", err)
		}
	}
	completedBatch, err := r.store.UpdateBatchProgress(ctx, outputBatch.ID, len(outputs), 0)
	if err != nil {
		t.Fatalf("update batch progress: %v", err)
	}

	asm := assembler.New(r.store, r.objects, docxcodec.NewLineFormatParser())
	assembled, err := asm.AssembleDocument(ctx, r.doc.ID, r.tv.ID, completedBatch.ID, version, nil)
	if err != nil {
		t.Fatalf("AssembleDocument: %v", err)
	}
	return assembled
}

func TestRenderDocument_FirstRenderValidates(t *testing.T) {
	ctx := context.Background()
	rig := newRendererRig(t)
	assembled := rig.validatedAssembledDocument(t, ctx, 1)

	rend := New(rig.store, rig.objects, docxcodec.NewLineFormatRenderer(), nil)
	result, err := rend.RenderDocument(ctx, assembled.ID, rig.doc.ID, 1, false)
	if err != nil {
		t.Fatalf("RenderDocument: %v", err)
	}
	if !result.IsImmutable {
		t.Error("expected a validated render to be immutable")
	}
	if result.OutputBlobKey == "" || result.ContentHash == "" {
		t.Errorf("expected blob key and content hash to be populated, got %+v", result)
	}
}

func TestRenderDocument_ReusesValidatedRenderWhenNotForced(t *testing.T) {
	ctx := context.Background()
	rig := newRendererRig(t)
	assembled := rig.validatedAssembledDocument(t, ctx, 1)

	rend := New(rig.store, rig.objects, docxcodec.NewLineFormatRenderer(), nil)
	first, err := rend.RenderDocument(ctx, assembled.ID, rig.doc.ID, 1, false)
	if err != nil {
		t.Fatalf("first RenderDocument: %v", err)
	}
	second, err := rend.RenderDocument(ctx, assembled.ID, rig.doc.ID, 1, false)
	if err != nil {
		t.Fatalf("second RenderDocument: %v", err)
	}
	if second.ID != first.ID {
		t.Error("expected the second call to reuse the already-validated rendered document")
	}
}

func TestRenderDocument_ForceAgainstValidatedRenderConflicts(t *testing.T) {
	ctx := context.Background()
	rig := newRendererRig(t)
	assembled := rig.validatedAssembledDocument(t, ctx, 1)

	rend := New(rig.store, rig.objects, docxcodec.NewLineFormatRenderer(), nil)
	if _, err := rend.RenderDocument(ctx, assembled.ID, rig.doc.ID, 1, false); err != nil {
		t.Fatalf("first RenderDocument: %v", err)
	}

	_, err := rend.RenderDocument(ctx, assembled.ID, rig.doc.ID, 1, true)
	if err == nil {
		t.Fatal("expected forcing a re-render of an already-validated version to conflict")
	}
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected an apperrors.AppError, got %T: %v", err, err)
	}
	if appErr.HTTPStatus != 409 {
		t.Errorf("http status = %d, want 409", appErr.HTTPStatus)
	}
}

func TestRenderDocument_RetriesInPlaceAfterPriorFailure(t *testing.T) {
	ctx := context.Background()
	rig := newRendererRig(t)
	assembled := rig.validatedAssembledDocument(t, ctx, 1)

	codec := &flakyCodec{failures: 1, delegate: docxcodec.NewLineFormatRenderer()}
	rend := New(rig.store, rig.objects, codec, nil)

	failed, err := rend.RenderDocument(ctx, assembled.ID, rig.doc.ID, 1, false)
	if err == nil {
		t.Fatal("expected the first render attempt to fail")
	}
	if failed == nil || failed.IsImmutable {
		t.Fatalf("expected a non-immutable failed rendered document row, got %+v", failed)
	}

	recovered, err := rend.RenderDocument(ctx, assembled.ID, rig.doc.ID, 1, false)
	if err != nil {
		t.Fatalf("retry RenderDocument: %v", err)
	}
	if recovered.ID != failed.ID {
		t.Error("expected the retry to reuse the prior failed row rather than create a new one")
	}
	if !recovered.IsImmutable {
		t.Error("expected the retried render to end up validated and immutable")
	}
}

func TestRenderDocument_RequiresImmutableAssembledDocument(t *testing.T) {
	ctx := context.Background()
	rig := newRendererRig(t)

	inputBatch, _, err := rig.store.CreateInputBatch(ctx, rig.doc.ID, rig.tv.ID, 1, nil)
	if err != nil {
		t.Fatalf("create input batch: %v", err)
	}
	if _, err := rig.store.ValidateInputBatch(ctx, inputBatch.ID, "content-hash"); err != nil {
		t.Fatalf("validate input batch: %v", err)
	}
	outputBatch, err := rig.store.CreateOutputBatch(ctx, inputBatch.ID, rig.doc.ID, 1, 0)
	if err != nil {
		t.Fatalf("create output batch: %v", err)
	}
	notImmutable, err := rig.store.CreateAssembledDocument(ctx, rig.doc.ID, rig.tv.ID, outputBatch.ID, 1)
	if err != nil {
		t.Fatalf("create assembled document: %v", err)
	}

	rend := New(rig.store, rig.objects, docxcodec.NewLineFormatRenderer(), nil)
	if _, err := rend.RenderDocument(ctx, notImmutable.ID, rig.doc.ID, 1, false); err == nil {
		t.Fatal("expected RenderDocument to reject a non-immutable assembled document")
	}
}

func TestVerifyDeterminism_IdenticalOnRepeatedRenders(t *testing.T) {
	ctx := context.Background()
	rig := newRendererRig(t)
	assembled := rig.validatedAssembledDocument(t, ctx, 1)

	rend := New(rig.store, rig.objects, docxcodec.NewLineFormatRenderer(), nil)
	ok, diff, err := rend.VerifyDeterminism(ctx, assembled)
	if err != nil {
		t.Fatalf("VerifyDeterminism: %v", err)
	}
	if !ok {
		t.Fatalf("expected deterministic renders to match, diff: %s", diff)
	}
}
