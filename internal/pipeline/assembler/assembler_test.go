package assembler

import (
	"context"
	"fmt"
	"testing"

	"docgen.io/pipeline/ent"
	"docgen.io/pipeline/ent/section"
	"docgen.io/pipeline/internal/docxcodec"
	"docgen.io/pipeline/internal/objectstore"
	"docgen.io/pipeline/internal/pipeline/ingest"
	"docgen.io/pipeline/internal/pipeline/store"
	"docgen.io/pipeline/internal/pkg/logger"
	"docgen.io/pipeline/internal/testutil"
)

func init() {
	_ = logger.Init("error", "json")
}

const asmSource = `Heading 1: Introduction
This is the introduction paragraph that the model must generate dynamically.
Heading 1: Background
This is the background paragraph that the model must generate dynamically.
Heading 1: Conclusion
This is the concluding paragraph that the model must generate dynamically.
`

type asmRig struct {
	store   *store.Store
	objects objectstore.Store
	parser  docxcodec.Parser
	asm     *Assembler
	doc     *ent.Document
	tv      *ent.TemplateVersion
	dynamic []*ent.Section
}

func newAsmRig(t *testing.T) *asmRig {
	t.Helper()
	ctx := context.Background()
	client := testutil.OpenEntPostgres(t, "assembler")
	s := store.New(client)
	objects := objectstore.NewMemoryStore()
	parser := docxcodec.NewLineFormatParser()
	ing := ingest.New(s, objects, parser)
	asm := New(s, objects, parser)

	tmpl, err := s.CreateTemplate(ctx, "asm-rig")
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	sourceKey := fmt.Sprintf("templates/%s/1/source.docx", tmpl.ID)
	if err := objects.Put(ctx, sourceKey, []byte(asmSource)); err != nil {
		t.Fatalf("put source blob: %v", err)
	}
	tv, err := s.CreateTemplateVersion(ctx, tmpl.ID, 1, sourceKey)
	if err != nil {
		t.Fatalf("create template version: %v", err)
	}
	if tv, err = ing.ParseTemplateVersion(ctx, tv.ID); err != nil {
		t.Fatalf("parse template version: %v", err)
	}
	sections, err := ing.ClassifySections(ctx, tv.ID)
	if err != nil {
		t.Fatalf("classify sections: %v", err)
	}
	doc, err := s.CreateDocument(ctx, tv.ID)
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	var dynamic []*ent.Section
	for _, sec := range sections {
		if sec.SectionType == section.SectionTypeDynamic {
			dynamic = append(dynamic, sec)
		}
	}
	return &asmRig{store: s, objects: objects, parser: parser, asm: asm, doc: doc, tv: tv, dynamic: dynamic}
}

// validatedOutputBatch builds a SectionOutputBatch whose every dynamic
// section already has a validated SectionOutput, the shape AssembleDocument
// expects for a normal (non-reuse) splice.
func (r *asmRig) validatedOutputBatch(t *testing.T, ctx context.Context, versionIntent int) string {
	t.Helper()
	specs := make([]store.GenerationInputSpec, len(r.dynamic))
	for i, sec := range r.dynamic {
		specs[i] = store.GenerationInputSpec{SectionID: sec.ID, SequenceOrder: sec.SequenceOrder, StructuralPath: sec.StructuralPath, InputHash: fmt.Sprintf("hash-%d", sec.ID)}
	}
	inputBatch, inputs, err := r.store.CreateInputBatch(ctx, r.doc.ID, r.tv.ID, versionIntent, specs)
	if err != nil {
		t.Fatalf("create input batch: %v", err)
	}
	if _, err := r.store.ValidateInputBatch(ctx, inputBatch.ID, "content-hash"); err != nil {
		t.Fatalf("validate input batch: %v", err)
	}

	outputBatch, err := r.store.CreateOutputBatch(ctx, inputBatch.ID, r.doc.ID, versionIntent, len(inputs))
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
		if _, err := r.store.MarkOutputValidated(ctx, o.ID, content, fmt.Sprintf("content-hash-%d", o.SectionID), map[string]interface{}{"is_valid": true}, nil); err != nil {
			t.Fatalf("mark output validated: %v", err)
		}
	}
	completed, err := r.store.UpdateBatchProgress(ctx, outputBatch.ID, len(outputs), 0)
	if err != nil {
		t.Fatalf("update batch progress: %v", err)
	}
	return completed.ID
}

func TestAssembleDocument_FirstTimeSplice(t *testing.T) {
	ctx := context.Background()
	rig := newAsmRig(t)
	outputBatchID := rig.validatedOutputBatch(t, ctx, 1)

	assembled, err := rig.asm.AssembleDocument(ctx, rig.doc.ID, rig.tv.ID, outputBatchID, 1, nil)
	if err != nil {
		t.Fatalf("AssembleDocument: %v", err)
	}
	if !assembled.IsImmutable {
		t.Error("expected assembled document to be immutable once validated")
	}
	if assembled.DynamicBlocksCount != 3 || assembled.InjectedSectionsCount != 3 {
		t.Fatalf("assembled = %+v, want dynamic==injected==3", assembled)
	}
	if assembled.TotalBlocks != assembled.StaticBlocksCount+assembled.DynamicBlocksCount {
		t.Errorf("total %d != static %d + dynamic %d", assembled.TotalBlocks, assembled.StaticBlocksCount, assembled.DynamicBlocksCount)
	}
}

func TestAssembleDocument_IdempotentReuseWhenAlreadyValidated(t *testing.T) {
	ctx := context.Background()
	rig := newAsmRig(t)
	outputBatchID := rig.validatedOutputBatch(t, ctx, 1)

	first, err := rig.asm.AssembleDocument(ctx, rig.doc.ID, rig.tv.ID, outputBatchID, 1, nil)
	if err != nil {
		t.Fatalf("first AssembleDocument: %v", err)
	}
	second, err := rig.asm.AssembleDocument(ctx, rig.doc.ID, rig.tv.ID, outputBatchID, 1, nil)
	if err != nil {
		t.Fatalf("second AssembleDocument: %v", err)
	}
	if second.ID != first.ID {
		t.Error("expected the second call to reuse the already-validated assembled document")
	}
}

func TestAssembleDocument_ReusedOutputsFallback(t *testing.T) {
	ctx := context.Background()
	rig := newAsmRig(t)
	// Version 1: every section freshly generated.
	v1OutputBatchID := rig.validatedOutputBatch(t, ctx, 1)
	if _, err := rig.asm.AssembleDocument(ctx, rig.doc.ID, rig.tv.ID, v1OutputBatchID, 1, nil); err != nil {
		t.Fatalf("assemble version 1: %v", err)
	}
	v1Outputs, err := rig.store.OutputsByBatch(ctx, v1OutputBatchID)
	if err != nil {
		t.Fatalf("list version 1 outputs: %v", err)
	}
	previousBySection := make(map[int]string, len(v1Outputs))
	for _, o := range v1Outputs {
		previousBySection[o.SectionID] = o.ID
	}

	// Version 2: only the first dynamic section gets a fresh output; the
	// others must be spliced in from version 1 via reusedOutputs.
	target := rig.dynamic[0]
	specs := []store.GenerationInputSpec{
		{SectionID: target.ID, SequenceOrder: target.SequenceOrder, StructuralPath: target.StructuralPath, InputHash: "hash-v2"},
	}
	inputBatch, inputs, err := rig.store.CreateInputBatch(ctx, rig.doc.ID, rig.tv.ID, 2, specs)
	if err != nil {
		t.Fatalf("create v2 input batch: %v", err)
	}
	if _, err := rig.store.ValidateInputBatch(ctx, inputBatch.ID, "v2-content-hash"); err != nil {
		t.Fatalf("validate v2 input batch: %v", err)
	}
	outputBatch, err := rig.store.CreateOutputBatch(ctx, inputBatch.ID, rig.doc.ID, 2, 1)
	if err != nil {
		t.Fatalf("create v2 output batch: %v", err)
	}
	outputs, err := rig.store.CreatePendingOutputs(ctx, outputBatch.ID, inputs, 0)
	if err != nil {
		t.Fatalf("create v2 pending outputs: %v", err)
	}
	if _, err := rig.store.MarkOutputInProgress(ctx, outputs[0].ID); err != nil {
		t.Fatalf("mark v2 output in progress: %v", err)
	}
	if _, err := rig.store.MarkOutputValidated(ctx, outputs[0].ID, "Freshly regenerated introduction.", "v2-hash", map[string]interface{}{"is_valid": true}, nil); err != nil {
		t.Fatalf("mark v2 output validated: %v", err)
	}
	v2OutputBatch, err := rig.store.UpdateBatchProgress(ctx, outputBatch.ID, 1, 0)
	if err != nil {
		t.Fatalf("update v2 batch progress: %v", err)
	}

	reused := map[int]string{}
	for _, sec := range rig.dynamic[1:] {
		reused[sec.ID] = previousBySection[sec.ID]
	}

	assembled, err := rig.asm.AssembleDocument(ctx, rig.doc.ID, rig.tv.ID, v2OutputBatch.ID, 2, reused)
	if err != nil {
		t.Fatalf("AssembleDocument with reused outputs: %v", err)
	}
	if assembled.DynamicBlocksCount != 3 || assembled.InjectedSectionsCount != 3 {
		t.Fatalf("assembled = %+v, want dynamic==injected==3 despite only 1 fresh output", assembled)
	}
}

func TestAssembleDocument_MissingValidatedContentFails(t *testing.T) {
	ctx := context.Background()
	rig := newAsmRig(t)

	// An output batch with no outputs at all: every dynamic section is
	// missing validated content and reusedOutputs is nil.
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

	assembled, err := rig.asm.AssembleDocument(ctx, rig.doc.ID, rig.tv.ID, outputBatch.ID, 1, nil)
	if err == nil {
		t.Fatal("expected AssembleDocument to fail with no validated content for any dynamic section")
	}
	if assembled == nil || assembled.Status != "failed" {
		t.Fatalf("expected a failed AssembledDocument row to be persisted, got %+v", assembled)
	}
}
