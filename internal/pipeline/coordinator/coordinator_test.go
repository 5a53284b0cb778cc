package coordinator

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"docgen.io/pipeline/ent"
	"docgen.io/pipeline/ent/section"
	"docgen.io/pipeline/internal/docxcodec"
	"docgen.io/pipeline/internal/domain"
	"docgen.io/pipeline/internal/governance/audit"
	"docgen.io/pipeline/internal/modelclient"
	"docgen.io/pipeline/internal/objectstore"
	"docgen.io/pipeline/internal/pipeline/assembler"
	"docgen.io/pipeline/internal/pipeline/batch"
	"docgen.io/pipeline/internal/pipeline/generator"
	"docgen.io/pipeline/internal/pipeline/ingest"
	"docgen.io/pipeline/internal/pipeline/regen"
	"docgen.io/pipeline/internal/pipeline/renderer"
	"docgen.io/pipeline/internal/pipeline/store"
	"docgen.io/pipeline/internal/pipeline/validator"
	"docgen.io/pipeline/internal/pkg/logger"
	"docgen.io/pipeline/internal/testutil"
)

func init() {
	_ = logger.Init("error", "json")
}

const demoSource = `Heading 1: Introduction
This is the introduction paragraph that the model must generate dynamically.
Heading 1: Background
This is the background paragraph that the model must generate dynamically.
Heading 1: Conclusion
This is the concluding paragraph that the model must generate dynamically.
`

func permissiveConstraints() validator.Constraints {
	return validator.Constraints{
		MinLength:  1,
		MaxLength:  5000,
		Structural: validator.DefaultStructuralConfig(),
		Quality:    validator.DefaultQualityConfig(),
	}
}

// testRig wires every pipeline component against a single Postgres-backed
// ent client, mirroring how internal/app/bootstrap.go composes them from
// config, but with in-memory object storage and an injectable model client.
type testRig struct {
	store   *store.Store
	objects objectstore.Store
	ingest  *ingest.Ingestor
	coord   *Coordinator
	planner *regen.Planner
}

func newTestRig(t *testing.T, model modelclient.ModelClient, maxRetries int) *testRig {
	t.Helper()
	client := testutil.OpenEntPostgres(t, "coordinator")
	s := store.New(client)
	objects := objectstore.NewMemoryStore()
	parser := docxcodec.NewLineFormatParser()
	rendererCodec := docxcodec.NewLineFormatRenderer()
	auditLogger := audit.NewLogger(client)

	gen := generator.New(s, model, permissiveConstraints(), generator.Config{
		MaxRetries:  maxRetries,
		MaxTokens:   1000,
		Temperature: 0.2,
	}, nil)
	exec := batch.New(s, gen, nil)
	asm := assembler.New(s, objects, parser)
	rend := renderer.New(s, objects, rendererCodec, nil)

	return &testRig{
		store:   s,
		objects: objects,
		ingest:  ingest.New(s, objects, parser),
		coord:   New(s, auditLogger, objects, parser, asm, exec, rend),
		planner: regen.New(s, auditLogger),
	}
}

// seedTemplateAndDocument parses+classifies demoSource and creates a fresh
// Document bound to the resulting TemplateVersion, returning the document
// and template version for the caller to drive GenerateVersion against.
func (r *testRig) seedTemplateAndDocument(t *testing.T, ctx context.Context, name string) (*ent.Document, *ent.TemplateVersion) {
	t.Helper()

	tmpl, err := r.store.CreateTemplate(ctx, name)
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	sourceKey := fmt.Sprintf("templates/%s/1/source.docx", tmpl.ID)
	if err := r.objects.Put(ctx, sourceKey, []byte(demoSource)); err != nil {
		t.Fatalf("put source blob: %v", err)
	}
	tv, err := r.store.CreateTemplateVersion(ctx, tmpl.ID, 1, sourceKey)
	if err != nil {
		t.Fatalf("create template version: %v", err)
	}
	if tv, err = r.ingest.ParseTemplateVersion(ctx, tv.ID); err != nil {
		t.Fatalf("parse template version: %v", err)
	}
	if _, err := r.ingest.ClassifySections(ctx, tv.ID); err != nil {
		t.Fatalf("classify sections: %v", err)
	}

	doc, err := r.store.CreateDocument(ctx, tv.ID)
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	return doc, tv
}

func TestCoordinator_GenerateVersion_HappyPath(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, modelclient.NewDeterministicClient(), 2)
	doc, tv := rig.seedTemplateAndDocument(t, ctx, "happy-path")

	clientData := map[string]interface{}{"client_name": "Acme Corp"}
	outcome, err := rig.coord.GenerateVersion(ctx, doc.ID, tv.ID, 1, clientData, nil, false, "corr-happy-1")
	if err != nil {
		t.Fatalf("GenerateVersion: %v", err)
	}

	if outcome.OutputBatch.TotalSections != 3 || outcome.OutputBatch.CompletedSections != 3 || outcome.OutputBatch.FailedSections != 0 {
		t.Fatalf("output batch = %+v, want total=3 completed=3 failed=0", outcome.OutputBatch)
	}
	if !outcome.OutputBatch.IsImmutable {
		t.Error("output batch should be immutable once completed")
	}
	if outcome.AssembledDoc.DynamicBlocksCount != 3 || outcome.AssembledDoc.DynamicBlocksCount != outcome.AssembledDoc.InjectedSectionsCount {
		t.Fatalf("assembled doc = %+v, want dynamic==injected==3", outcome.AssembledDoc)
	}
	if outcome.AssembledDoc.TotalBlocks != outcome.AssembledDoc.StaticBlocksCount+outcome.AssembledDoc.DynamicBlocksCount {
		t.Errorf("total_blocks %d != static %d + dynamic %d", outcome.AssembledDoc.TotalBlocks, outcome.AssembledDoc.StaticBlocksCount, outcome.AssembledDoc.DynamicBlocksCount)
	}
	if !outcome.RenderedDoc.IsImmutable {
		t.Error("rendered document should be immutable once validated")
	}
	if outcome.DocumentVersion.VersionNumber != 1 {
		t.Errorf("document version number = %d, want 1", outcome.DocumentVersion.VersionNumber)
	}

	updatedDoc, err := rig.store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if updatedDoc.CurrentVersion != 1 {
		t.Errorf("document current_version = %d, want 1", updatedDoc.CurrentVersion)
	}

	// Re-running with the same payload must reuse every artifact rather than
	// creating a second version (§4.9 idempotency, §8 round-trip laws).
	again, err := rig.coord.GenerateVersion(ctx, doc.ID, tv.ID, 1, clientData, nil, false, "corr-happy-2")
	if err != nil {
		t.Fatalf("second GenerateVersion: %v", err)
	}
	if again.DocumentVersion.ID != outcome.DocumentVersion.ID {
		t.Error("expected the second run to reuse the same DocumentVersion id")
	}
	if again.RenderedDoc.ID != outcome.RenderedDoc.ID {
		t.Error("expected the second run to reuse the same RenderedDocument id")
	}

	versions, err := rig.store.DocumentVersionsByDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("list document versions: %v", err)
	}
	if len(versions) != 1 {
		t.Errorf("expected exactly one document version after reuse, got %d", len(versions))
	}
}

// pathFailingClient fails generation for any prompt touching a specific
// structural path substring, succeeding for everything else. Used to
// simulate one section's peers completing while it exhausts retries
// (spec.md §8 scenario 2).
type pathFailingClient struct {
	delegate   modelclient.ModelClient
	failSubstr string
}

func (c *pathFailingClient) Generate(ctx context.Context, req modelclient.GenerationRequest) (*modelclient.GenerationResponse, error) {
	if strings.Contains(req.Prompt, c.failSubstr) {
		return nil, fmt.Errorf("simulated model failure for %s", c.failSubstr)
	}
	return c.delegate.Generate(ctx, req)
}

func TestCoordinator_GenerateVersion_OneSectionFails_AssemblyFails(t *testing.T) {
	ctx := context.Background()
	model := &pathFailingClient{delegate: modelclient.NewDeterministicClient(), failSubstr: "background"}
	rig := newTestRig(t, model, 0)
	doc, tv := rig.seedTemplateAndDocument(t, ctx, "partial-failure")

	clientData := map[string]interface{}{"client_name": "Acme Corp"}
	_, err := rig.coord.GenerateVersion(ctx, doc.ID, tv.ID, 1, clientData, nil, false, "corr-fail-1")
	if err == nil {
		t.Fatal("expected GenerateVersion to fail when a dynamic section has no validated output")
	}

	inputBatch, err := rig.store.InputBatchByDocumentAndIntent(ctx, doc.ID, 1)
	if err != nil {
		t.Fatalf("input batch should still have been created and validated: %v", err)
	}
	outputBatch, err := rig.store.OutputBatchByInputBatch(ctx, inputBatch.ID)
	if err != nil {
		t.Fatalf("output batch should still have been created: %v", err)
	}
	if outputBatch.CompletedSections != 2 || outputBatch.FailedSections != 1 {
		t.Errorf("output batch = %+v, want completed=2 failed=1", outputBatch)
	}

	if _, err := rig.store.DocumentVersionByDocumentAndVersion(ctx, doc.ID, 1); !ent.IsNotFound(err) {
		t.Errorf("no DocumentVersion should have been created, got err=%v", err)
	}
	if _, err := rig.store.RenderedByDocumentAndVersion(ctx, doc.ID, 1); !ent.IsNotFound(err) {
		t.Errorf("no RenderedDocument should have been created, got err=%v", err)
	}

	updatedDoc, err := rig.store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if updatedDoc.CurrentVersion != 0 {
		t.Errorf("document current_version = %d, want 0 (unchanged)", updatedDoc.CurrentVersion)
	}
}

// TestCoordinator_GenerateVersion_PartialSectionRegeneration exercises
// spec.md §8 scenario 6 end-to-end: a section-scoped plan that regenerates
// one section and reuses the other two must still assemble successfully by
// splicing in the reused sections' previous validated outputs, rather than
// failing assembly with missing_validated_content (the PreviousID plumbing
// this test exercises).
func TestCoordinator_GenerateVersion_PartialSectionRegeneration(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, modelclient.NewDeterministicClient(), 2)
	doc, tv := rig.seedTemplateAndDocument(t, ctx, "partial-regen")

	clientData := map[string]interface{}{"client_name": "Acme Corp"}
	first, err := rig.coord.GenerateVersion(ctx, doc.ID, tv.ID, 1, clientData, nil, false, "corr-partial-seed")
	if err != nil {
		t.Fatalf("seed version 1: %v", err)
	}

	sections, err := rig.store.SectionsByTemplateVersion(ctx, tv.ID)
	if err != nil {
		t.Fatalf("load sections: %v", err)
	}
	var dynamicIDs []int
	for _, sec := range sections {
		if sec.SectionType == section.SectionTypeDynamic {
			dynamicIDs = append(dynamicIDs, sec.ID)
		}
	}
	if len(dynamicIDs) != 3 {
		t.Fatalf("expected 3 dynamic sections, got %d", len(dynamicIDs))
	}
	target := dynamicIDs[0]

	plan, err := rig.planner.PlanRegeneration(ctx, regen.Request{
		DocumentID:        doc.ID,
		TemplateVersionID: tv.ID,
		Scope:             domain.ScopeSection,
		Strategy:          domain.StrategyForceAll,
		SectionIDs:        []int{target},
		ClientData:        clientData,
		CorrelationID:     "corr-partial-plan",
	})
	if err != nil {
		t.Fatalf("PlanRegeneration: %v", err)
	}
	if len(plan.Decisions) != 3 {
		t.Fatalf("expected a decision for all 3 dynamic sections, got %d", len(plan.Decisions))
	}

	second, err := rig.coord.GenerateVersion(ctx, doc.ID, tv.ID, plan.NextVersion, clientData, plan, false, "corr-partial-regen")
	if err != nil {
		t.Fatalf("GenerateVersion with partial plan: %v", err)
	}

	// Only the forced section should have received a fresh GenerationInput;
	// the other two are resolved from the previous version's output instead.
	outputs, err := rig.store.OutputsByBatch(ctx, second.OutputBatch.ID)
	if err != nil {
		t.Fatalf("list outputs for batch %s: %v", second.OutputBatch.ID, err)
	}
	if len(outputs) != 1 || outputs[0].SectionID != target {
		t.Fatalf("expected exactly one freshly generated output for section %d, got %+v", target, outputs)
	}
	if second.OutputBatch.TotalSections != 1 || second.OutputBatch.CompletedSections != 1 {
		t.Errorf("output batch = %+v, want total=1 completed=1 (only the forced section)", second.OutputBatch)
	}

	// Assembly must still be self-consistent across all 3 sections: the one
	// freshly regenerated plus the two spliced in from the previous version.
	if second.AssembledDoc.DynamicBlocksCount != 3 || second.AssembledDoc.InjectedSectionsCount != 3 {
		t.Fatalf("assembled doc = %+v, want dynamic==injected==3", second.AssembledDoc)
	}
	if second.AssembledDoc.TotalBlocks != second.AssembledDoc.StaticBlocksCount+second.AssembledDoc.DynamicBlocksCount {
		t.Errorf("total_blocks %d != static %d + dynamic %d", second.AssembledDoc.TotalBlocks, second.AssembledDoc.StaticBlocksCount, second.AssembledDoc.DynamicBlocksCount)
	}
	if second.DocumentVersion.VersionNumber != 2 {
		t.Errorf("document version number = %d, want 2", second.DocumentVersion.VersionNumber)
	}
	if second.AssembledDoc.ID == first.AssembledDoc.ID {
		t.Error("expected a new AssembledDocument for the new version, not a reuse of version 1's")
	}
}
