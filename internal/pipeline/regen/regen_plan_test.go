package regen_test

import (
	"context"
	"fmt"
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
	"docgen.io/pipeline/internal/pipeline/coordinator"
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

const planSource = `Heading 1: Introduction
This is the introduction paragraph that the model must generate dynamically.
Heading 1: Background
This is the background paragraph that the model must generate dynamically.
Heading 1: Conclusion
This is the concluding paragraph that the model must generate dynamically.
`

// planRig builds a document already at version 1, so PlanRegeneration has a
// previous version's outputs to decide reuse against.
type planRig struct {
	store   *store.Store
	planner *regen.Planner
	doc     *ent.Document
	tv      *ent.TemplateVersion
	dynamic []*ent.Section
	static  []*ent.Section
}

func newPlanRig(t *testing.T, clientData map[string]interface{}) *planRig {
	t.Helper()
	ctx := context.Background()
	client := testutil.OpenEntPostgres(t, "regen")
	s := store.New(client)
	objects := objectstore.NewMemoryStore()
	parser := docxcodec.NewLineFormatParser()
	rendererCodec := docxcodec.NewLineFormatRenderer()
	auditLogger := audit.NewLogger(client)

	gen := generator.New(s, modelclient.NewDeterministicClient(), validator.Constraints{
		MinLength: 1, MaxLength: 5000,
		Structural: validator.DefaultStructuralConfig(),
		Quality:    validator.DefaultQualityConfig(),
	}, generator.Config{MaxRetries: 0, MaxTokens: 1000, Temperature: 0.2}, nil)
	exec := batch.New(s, gen, nil)
	asm := assembler.New(s, objects, parser)
	rend := renderer.New(s, objects, rendererCodec, nil)
	ing := ingest.New(s, objects, parser)
	coord := coordinator.New(s, auditLogger, objects, parser, asm, exec, rend)

	tmpl, err := s.CreateTemplate(ctx, "plan-rig")
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	sourceKey := fmt.Sprintf("templates/%s/1/source.docx", tmpl.ID)
	if err := objects.Put(ctx, sourceKey, []byte(planSource)); err != nil {
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
	if _, err := coord.GenerateVersion(ctx, doc.ID, tv.ID, 1, clientData, nil, false, "corr-plan-seed"); err != nil {
		t.Fatalf("seed version 1: %v", err)
	}
	doc, err = s.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("reload document: %v", err)
	}

	sections, err := s.SectionsByTemplateVersion(ctx, tv.ID)
	if err != nil {
		t.Fatalf("load sections: %v", err)
	}
	var dynamic, static []*ent.Section
	for _, sec := range sections {
		if sec.SectionType == section.SectionTypeDynamic {
			dynamic = append(dynamic, sec)
		} else {
			static = append(static, sec)
		}
	}
	if len(dynamic) != 3 || len(static) != 3 {
		t.Fatalf("expected 3 dynamic + 3 static sections, got dynamic=%d static=%d", len(dynamic), len(static))
	}

	return &planRig{store: s, planner: regen.New(s, auditLogger), doc: doc, tv: tv, dynamic: dynamic, static: static}
}

func (r *planRig) dynamicIDs() []int {
	ids := make([]int, len(r.dynamic))
	for i, sec := range r.dynamic {
		ids[i] = sec.ID
	}
	return ids
}

func TestPlanRegeneration_SectionScope_ReuseUnchanged_SameInput(t *testing.T) {
	clientData := map[string]interface{}{"client_name": "Acme Corp"}
	rig := newPlanRig(t, clientData)

	plan, err := rig.planner.PlanRegeneration(context.Background(), regen.Request{
		DocumentID:        rig.doc.ID,
		TemplateVersionID: rig.tv.ID,
		Scope:             domain.ScopeSection,
		Strategy:          domain.StrategyReuseUnchanged,
		ClientData:        clientData,
	})
	if err != nil {
		t.Fatalf("PlanRegeneration: %v", err)
	}
	if plan.NextVersion != 2 {
		t.Errorf("next_version = %d, want 2", plan.NextVersion)
	}
	if len(plan.Decisions) != 3 {
		t.Fatalf("expected 3 decisions, got %d", len(plan.Decisions))
	}
	for _, d := range plan.Decisions {
		if d.Regenerate {
			t.Errorf("section %d: expected reuse with unchanged input, got Regenerate=true (%s)", d.SectionID, d.Reason)
		}
		if d.PreviousID == "" {
			t.Errorf("section %d: expected a non-empty PreviousID when reusing", d.SectionID)
		}
	}
}

func TestPlanRegeneration_SectionScope_ReuseUnchanged_ChangedInput(t *testing.T) {
	rig := newPlanRig(t, map[string]interface{}{"client_name": "Acme Corp"})

	plan, err := rig.planner.PlanRegeneration(context.Background(), regen.Request{
		DocumentID:        rig.doc.ID,
		TemplateVersionID: rig.tv.ID,
		Scope:             domain.ScopeSection,
		Strategy:          domain.StrategyReuseUnchanged,
		ClientData:        map[string]interface{}{"client_name": "Globex"},
	})
	if err != nil {
		t.Fatalf("PlanRegeneration: %v", err)
	}
	for _, d := range plan.Decisions {
		if !d.Regenerate {
			t.Errorf("section %d: expected regenerate with changed input, got reuse (%s)", d.SectionID, d.Reason)
		}
		if d.PreviousID != "" {
			t.Errorf("section %d: regenerated decision should not carry a PreviousID, got %q", d.SectionID, d.PreviousID)
		}
	}
}

func TestPlanRegeneration_SectionScope_ForceAll(t *testing.T) {
	clientData := map[string]interface{}{"client_name": "Acme Corp"}
	rig := newPlanRig(t, clientData)

	plan, err := rig.planner.PlanRegeneration(context.Background(), regen.Request{
		DocumentID:        rig.doc.ID,
		TemplateVersionID: rig.tv.ID,
		Scope:             domain.ScopeSection,
		Strategy:          domain.StrategyForceAll,
		ClientData:        clientData,
	})
	if err != nil {
		t.Fatalf("PlanRegeneration: %v", err)
	}
	for _, d := range plan.Decisions {
		if !d.Regenerate {
			t.Errorf("section %d: StrategyForceAll should always regenerate, got reuse", d.SectionID)
		}
	}
}

// TestPlanRegeneration_SectionScope_PartialTargets exercises spec.md §8
// scenario 6's {regenerate: [X], reuse: [Y, Z]} shape directly: an explicit
// single-section target still produces a decision for every other dynamic
// section, naming them reused with a PreviousID rather than omitting them.
func TestPlanRegeneration_SectionScope_PartialTargets(t *testing.T) {
	clientData := map[string]interface{}{"client_name": "Acme Corp"}
	rig := newPlanRig(t, clientData)
	allIDs := rig.dynamicIDs()
	target := allIDs[0]

	plan, err := rig.planner.PlanRegeneration(context.Background(), regen.Request{
		DocumentID:        rig.doc.ID,
		TemplateVersionID: rig.tv.ID,
		Scope:             domain.ScopeSection,
		Strategy:          domain.StrategyForceAll,
		SectionIDs:        []int{target},
		ClientData:        clientData,
	})
	if err != nil {
		t.Fatalf("PlanRegeneration: %v", err)
	}
	if len(plan.Decisions) != len(allIDs) {
		t.Fatalf("expected a decision for every dynamic section, got %d of %d", len(plan.Decisions), len(allIDs))
	}
	byID := make(map[int]regen.SectionDecision, len(plan.Decisions))
	for _, d := range plan.Decisions {
		byID[d.SectionID] = d
	}
	if d, ok := byID[target]; !ok || !d.Regenerate {
		t.Fatalf("expected section %d to be forced to regenerate, got %+v", target, d)
	}
	for _, id := range allIDs[1:] {
		d, ok := byID[id]
		if !ok {
			t.Fatalf("expected a decision for untargeted section %d", id)
		}
		if d.Regenerate {
			t.Errorf("untargeted section %d: expected reuse, got regenerate", id)
		}
		if d.PreviousID == "" {
			t.Errorf("untargeted section %d: expected a PreviousID on its reuse decision", id)
		}
	}
}

func TestPlanRegeneration_SectionScope_StaticSectionRejected(t *testing.T) {
	rig := newPlanRig(t, map[string]interface{}{"client_name": "Acme Corp"})
	staticID := rig.static[0].ID

	_, err := rig.planner.PlanRegeneration(context.Background(), regen.Request{
		DocumentID:        rig.doc.ID,
		TemplateVersionID: rig.tv.ID,
		Scope:             domain.ScopeSection,
		Strategy:          domain.StrategyForceAll,
		SectionIDs:        []int{staticID},
		ClientData:        map[string]interface{}{"client_name": "Acme Corp"},
	})
	if err == nil {
		t.Fatal("expected an error when targeting a static section for regeneration")
	}
}

func TestPlanRegeneration_FullScope_AlwaysRegenerates(t *testing.T) {
	clientData := map[string]interface{}{"client_name": "Acme Corp"}
	rig := newPlanRig(t, clientData)

	plan, err := rig.planner.PlanRegeneration(context.Background(), regen.Request{
		DocumentID:        rig.doc.ID,
		TemplateVersionID: rig.tv.ID,
		Scope:             domain.ScopeFull,
		ClientData:        clientData,
	})
	if err != nil {
		t.Fatalf("PlanRegeneration: %v", err)
	}
	if len(plan.Decisions) != 3 {
		t.Fatalf("expected 3 decisions for full scope, got %d", len(plan.Decisions))
	}
	for _, d := range plan.Decisions {
		if !d.Regenerate {
			t.Errorf("section %d: full scope should always regenerate, got reuse", d.SectionID)
		}
		if d.PreviousID != "" {
			t.Errorf("section %d: full scope decision should not carry a PreviousID", d.SectionID)
		}
	}
}

func TestPlanRegeneration_TemplateUpdateScope_RetainsExistingSections(t *testing.T) {
	clientData := map[string]interface{}{"client_name": "Acme Corp"}
	rig := newPlanRig(t, clientData)

	plan, err := rig.planner.PlanRegeneration(context.Background(), regen.Request{
		DocumentID:        rig.doc.ID,
		TemplateVersionID: rig.tv.ID,
		Scope:             domain.ScopeTemplateUpdate,
		ClientData:        clientData,
	})
	if err != nil {
		t.Fatalf("PlanRegeneration: %v", err)
	}
	for _, d := range plan.Decisions {
		if d.Regenerate {
			t.Errorf("section %d: expected retained decision for a section that existed before the template update", d.SectionID)
		}
		if d.PreviousID == "" {
			t.Errorf("section %d: retained decision should carry a PreviousID", d.SectionID)
		}
	}
}

func TestPlanRegeneration_UnknownScope(t *testing.T) {
	rig := newPlanRig(t, map[string]interface{}{"client_name": "Acme Corp"})

	_, err := rig.planner.PlanRegeneration(context.Background(), regen.Request{
		DocumentID:        rig.doc.ID,
		TemplateVersionID: rig.tv.ID,
		Scope:             domain.RegenerationScope("bogus"),
		ClientData:        map[string]interface{}{},
	})
	if err == nil {
		t.Fatal("expected an error for an unknown regeneration scope")
	}
}
