// Package coordinator implements the Pipeline Coordinator (C9): the
// sequential driver over input preparation, section generation, assembly,
// rendering, and versioning (§4.9). Each stage is idempotent-by-reuse when
// its artifact already exists, every stage boundary emits an audit entry,
// and no partial artifact is ever exposed as a document version.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"docgen.io/pipeline/ent"
	"docgen.io/pipeline/ent/section"
	"docgen.io/pipeline/internal/docxcodec"
	"docgen.io/pipeline/internal/governance/audit"
	"docgen.io/pipeline/internal/pkg/logger"
	"docgen.io/pipeline/internal/objectstore"
	"docgen.io/pipeline/internal/pipeline/assembler"
	"docgen.io/pipeline/internal/pipeline/batch"
	"docgen.io/pipeline/internal/pipeline/regen"
	"docgen.io/pipeline/internal/pipeline/renderer"
	"docgen.io/pipeline/internal/pipeline/store"
)

// tracer emits one span per pipeline stage, correlation-id-tagged,
// alongside (not instead of) the audit log's persistent record (§4.10).
var tracer = otel.Tracer("docgen.io/pipeline/coordinator")

const (
	stageInputPrep        = "input_preparation"
	stageSectionGeneration = "section_generation"
	stageAssembly          = "assembly"
	stageRendering         = "rendering"
	stageVersioning        = "versioning"
)

// Coordinator wires the per-stage components together into one sequential
// generation run.
type Coordinator struct {
	store     *store.Store
	audit     *audit.Logger
	objects   objectstore.Store
	parser    docxcodec.Parser
	assembler *assembler.Assembler
	batch     *batch.Executor
	renderer  *renderer.Renderer
}

// New builds a Coordinator from its constituent stage components.
func New(s *store.Store, auditLogger *audit.Logger, objects objectstore.Store, parser docxcodec.Parser, asm *assembler.Assembler, exec *batch.Executor, r *renderer.Renderer) *Coordinator {
	return &Coordinator{store: s, audit: auditLogger, objects: objects, parser: parser, assembler: asm, batch: exec, renderer: r}
}

// Outcome is the end-to-end result of one GenerateVersion run.
type Outcome struct {
	InputBatch      *ent.GenerationInputBatch
	OutputBatch     *ent.SectionOutputBatch
	AssembledDoc    *ent.AssembledDocument
	RenderedDoc     *ent.RenderedDocument
	DocumentVersion *ent.DocumentVersion
}

// GenerateVersion runs all five stages for one (document, version_intent),
// using plan (if non-nil) to decide per-section reuse for a regeneration;
// a nil plan means "generate every dynamic section" (first-time generation,
// §4.9 stage 1). forceRegenerate is stage 4's own override: rendering
// reuses an existing validated RenderedDocument for (documentID,
// versionIntent) unless forceRegenerate is set, in which case an already
// validated render is a conflict rather than a silent reuse (§4.9 stage 4).
func (c *Coordinator) GenerateVersion(ctx context.Context, documentID, templateVersionID string, versionIntent int, clientData map[string]interface{}, plan *regen.Plan, forceRegenerate bool, correlationID string) (*Outcome, error) {
	ctx, rootSpan := tracer.Start(ctx, "pipeline.generate_version", trace.WithAttributes(
		attribute.String("document.id", documentID),
		attribute.Int("version_intent", versionIntent),
		attribute.String("correlation_id", correlationID),
	))
	defer rootSpan.End()

	doc, err := c.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, recordSpanErr(rootSpan, fmt.Errorf("get document %s: %w", documentID, err))
	}

	inputBatch, err := traced(ctx, stageInputPrep, func(stageCtx context.Context) (*ent.GenerationInputBatch, error) {
		return c.stageInputPreparation(stageCtx, doc, templateVersionID, versionIntent, clientData, plan, correlationID)
	})
	if err != nil {
		return nil, recordSpanErr(rootSpan, err)
	}

	outputBatch, err := traced(ctx, stageSectionGeneration, func(stageCtx context.Context) (*ent.SectionOutputBatch, error) {
		return c.stageSectionGeneration(stageCtx, inputBatch, correlationID)
	})
	if err != nil {
		return nil, recordSpanErr(rootSpan, err)
	}

	assembled, err := traced(ctx, stageAssembly, func(stageCtx context.Context) (*ent.AssembledDocument, error) {
		return c.stageAssembly(stageCtx, documentID, templateVersionID, outputBatch, versionIntent, plan, correlationID)
	})
	if err != nil {
		return nil, recordSpanErr(rootSpan, err)
	}

	rendered, err := traced(ctx, stageRendering, func(stageCtx context.Context) (*ent.RenderedDocument, error) {
		return c.stageRendering(stageCtx, assembled, documentID, versionIntent, forceRegenerate, correlationID)
	})
	if err != nil {
		return nil, recordSpanErr(rootSpan, err)
	}

	docVersion, err := traced(ctx, stageVersioning, func(stageCtx context.Context) (*ent.DocumentVersion, error) {
		return c.stageVersioning(stageCtx, doc, versionIntent, rendered, correlationID)
	})
	if err != nil {
		return nil, recordSpanErr(rootSpan, err)
	}

	return &Outcome{
		InputBatch:      inputBatch,
		OutputBatch:     outputBatch,
		AssembledDoc:    assembled,
		RenderedDoc:     rendered,
		DocumentVersion: docVersion,
	}, nil
}

// traced wraps one stage call in its own span, child of the request span
// already in ctx.
func traced[T any](ctx context.Context, stage string, fn func(context.Context) (T, error)) (T, error) {
	stageCtx, span := tracer.Start(ctx, "pipeline."+stage)
	defer span.End()
	out, err := fn(stageCtx)
	if err != nil {
		span.RecordError(err)
	}
	return out, err
}

func recordSpanErr(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (c *Coordinator) logStart(ctx context.Context, correlationID, stage, artifactID string) {
	_ = c.audit.LogStage(ctx, correlationID, stage, artifactID, audit.ActionStageStarted, nil)
}

func (c *Coordinator) logDone(ctx context.Context, correlationID, stage, artifactID string, extra map[string]interface{}) {
	_ = c.audit.LogStage(ctx, correlationID, stage, artifactID, audit.ActionStageCompleted, extra)
}

func (c *Coordinator) logFailed(ctx context.Context, correlationID, stage, artifactID string, err error) {
	logger.WithCorrelation(correlationID).Error("pipeline stage failed",
		zap.String("stage", stage), zap.String("artifact_id", artifactID), zap.Error(err))
	_ = c.audit.LogStage(ctx, correlationID, stage, artifactID, audit.ActionStageFailed, map[string]interface{}{"error": err.Error()})
}

// reusedOutputsFromPlan extracts the section_id -> previous SectionOutput
// id map the Assembler needs to splice in sections a regeneration plan
// decided to reuse rather than regenerate (§4.7); a nil plan means every
// dynamic section was regenerated into the current output batch, so there
// is nothing to reuse.
func reusedOutputsFromPlan(plan *regen.Plan) map[int]string {
	if plan == nil {
		return nil
	}
	reused := make(map[int]string)
	for _, d := range plan.Decisions {
		if !d.Regenerate && d.PreviousID != "" {
			reused[d.SectionID] = d.PreviousID
		}
	}
	return reused
}

// stageInputPreparation builds (or reuses) the frozen GenerationInputBatch
// for (documentID, versionIntent). When plan is non-nil, only sections the
// plan marks Regenerate=true receive a fresh GenerationInput; the rest are
// skipped here because the Assembler resolves them from the previous
// version's validated output via the plan's PreviousID bookkeeping at the
// call site (§4.7, §4.9 stage 1).
func (c *Coordinator) stageInputPreparation(ctx context.Context, doc *ent.Document, templateVersionID string, versionIntent int, clientData map[string]interface{}, plan *regen.Plan, correlationID string) (*ent.GenerationInputBatch, error) {
	c.logStart(ctx, correlationID, stageInputPrep, doc.ID)

	if existing, err := c.store.InputBatchByDocumentAndIntent(ctx, doc.ID, versionIntent); err == nil {
		c.logDone(ctx, correlationID, stageInputPrep, existing.ID, map[string]interface{}{"reused": true})
		return existing, nil
	} else if !ent.IsNotFound(err) {
		err = fmt.Errorf("check existing input batch: %w", err)
		c.logFailed(ctx, correlationID, stageInputPrep, doc.ID, err)
		return nil, err
	}

	sections, err := c.store.SectionsByTemplateVersion(ctx, templateVersionID)
	if err != nil {
		err = fmt.Errorf("load sections: %w", err)
		c.logFailed(ctx, correlationID, stageInputPrep, doc.ID, err)
		return nil, err
	}

	blockTextByPath, orderedPaths := c.loadTemplateText(ctx, templateVersionID)

	targets := map[int]bool{}
	if plan != nil {
		for _, d := range plan.Decisions {
			if d.Regenerate {
				targets[d.SectionID] = true
			}
		}
	}

	specs := make([]store.GenerationInputSpec, 0, len(sections))
	for _, sec := range sections {
		if sec.SectionType != section.SectionTypeDynamic {
			continue
		}
		if plan != nil && !targets[sec.ID] {
			continue
		}
		hash, err := regen.ComputeInputHash(sec.ID, clientData)
		if err != nil {
			err = fmt.Errorf("compute input hash for section %d: %w", sec.ID, err)
			c.logFailed(ctx, correlationID, stageInputPrep, doc.ID, err)
			return nil, err
		}
		preceding, following := neighborText(orderedPaths, blockTextByPath, sec.StructuralPath)
		specs = append(specs, store.GenerationInputSpec{
			SectionID:      sec.ID,
			SequenceOrder:  sec.SequenceOrder,
			StructuralPath: sec.StructuralPath,
			HierarchyContext: map[string]interface{}{
				"path_segments": strings.Split(sec.StructuralPath, "/"),
			},
			PromptConfig: sec.PromptConfig,
			ClientData:   clientData,
			SurroundingContext: map[string]interface{}{
				"preceding_content": preceding,
				"following_content": following,
			},
			InputHash: hash,
		})
	}

	if len(specs) == 0 {
		err := fmt.Errorf("no dynamic sections require generation for document %s version %d", doc.ID, versionIntent)
		c.logFailed(ctx, correlationID, stageInputPrep, doc.ID, err)
		return nil, err
	}

	createdBatch, _, err := c.store.CreateInputBatch(ctx, doc.ID, templateVersionID, versionIntent, specs)
	if err != nil {
		err = fmt.Errorf("create input batch: %w", err)
		c.logFailed(ctx, correlationID, stageInputPrep, doc.ID, err)
		return nil, err
	}

	batchHash, err := regen.ComputeInputHash(versionIntent, clientData)
	if err != nil {
		err = fmt.Errorf("compute batch content hash: %w", err)
		c.logFailed(ctx, correlationID, stageInputPrep, createdBatch.ID, err)
		return nil, err
	}
	validated, err := c.store.ValidateInputBatch(ctx, createdBatch.ID, batchHash)
	if err != nil {
		err = fmt.Errorf("validate input batch %s: %w", createdBatch.ID, err)
		c.logFailed(ctx, correlationID, stageInputPrep, createdBatch.ID, err)
		return nil, err
	}

	c.logDone(ctx, correlationID, stageInputPrep, validated.ID, map[string]interface{}{"section_count": len(specs)})
	return validated, nil
}

// stageSectionGeneration reuses an existing SectionOutputBatch for
// inputBatch.ID when one already exists, since the Batch Executor itself
// fails duplicate_output_batch on a second ExecuteBatch call for the same
// input batch (§4.4) — the Coordinator's own idempotent-by-reuse behavior
// for a repeat GenerateVersion call lives here, one level up.
func (c *Coordinator) stageSectionGeneration(ctx context.Context, inputBatch *ent.GenerationInputBatch, correlationID string) (*ent.SectionOutputBatch, error) {
	c.logStart(ctx, correlationID, stageSectionGeneration, inputBatch.ID)

	if existing, err := c.store.OutputBatchByInputBatch(ctx, inputBatch.ID); err == nil {
		c.logDone(ctx, correlationID, stageSectionGeneration, existing.ID, map[string]interface{}{"reused": true})
		return existing, nil
	} else if !ent.IsNotFound(err) {
		err = fmt.Errorf("check existing output batch: %w", err)
		c.logFailed(ctx, correlationID, stageSectionGeneration, inputBatch.ID, err)
		return nil, err
	}

	result, err := c.batch.ExecuteBatch(ctx, inputBatch.ID)
	if err != nil {
		err = fmt.Errorf("execute batch %s: %w", inputBatch.ID, err)
		c.logFailed(ctx, correlationID, stageSectionGeneration, inputBatch.ID, err)
		return nil, err
	}
	c.logDone(ctx, correlationID, stageSectionGeneration, result.OutputBatch.ID, map[string]interface{}{
		"completed": result.Completed, "failed": result.Failed,
	})
	return result.OutputBatch, nil
}

func (c *Coordinator) stageAssembly(ctx context.Context, documentID, templateVersionID string, outputBatch *ent.SectionOutputBatch, versionIntent int, plan *regen.Plan, correlationID string) (*ent.AssembledDocument, error) {
	c.logStart(ctx, correlationID, stageAssembly, outputBatch.ID)
	assembled, err := c.assembler.AssembleDocument(ctx, documentID, templateVersionID, outputBatch.ID, versionIntent, reusedOutputsFromPlan(plan))
	if err != nil {
		c.logFailed(ctx, correlationID, stageAssembly, outputBatch.ID, err)
		return nil, err
	}
	c.logDone(ctx, correlationID, stageAssembly, assembled.ID, map[string]interface{}{"total_blocks": assembled.TotalBlocks})
	return assembled, nil
}

func (c *Coordinator) stageRendering(ctx context.Context, assembled *ent.AssembledDocument, documentID string, versionIntent int, forceRegenerate bool, correlationID string) (*ent.RenderedDocument, error) {
	c.logStart(ctx, correlationID, stageRendering, assembled.ID)
	rendered, err := c.renderer.RenderDocument(ctx, assembled.ID, documentID, versionIntent, forceRegenerate)
	if err != nil {
		c.logFailed(ctx, correlationID, stageRendering, assembled.ID, err)
		return nil, err
	}
	c.logDone(ctx, correlationID, stageRendering, rendered.ID, map[string]interface{}{"content_hash": rendered.ContentHash})
	return rendered, nil
}

func (c *Coordinator) stageVersioning(ctx context.Context, doc *ent.Document, versionIntent int, rendered *ent.RenderedDocument, correlationID string) (*ent.DocumentVersion, error) {
	c.logStart(ctx, correlationID, stageVersioning, doc.ID)

	if existing, err := c.store.DocumentVersionByDocumentAndVersion(ctx, doc.ID, versionIntent); err == nil {
		c.logDone(ctx, correlationID, stageVersioning, existing.ID, map[string]interface{}{"reused": true})
		return existing, nil
	} else if !ent.IsNotFound(err) {
		err = fmt.Errorf("check existing document version: %w", err)
		c.logFailed(ctx, correlationID, stageVersioning, doc.ID, err)
		return nil, err
	}

	docVersion, err := c.store.CreateDocumentVersion(ctx, doc.ID, versionIntent, rendered.OutputBlobKey, map[string]interface{}{
		"rendered_document_id": rendered.ID,
		"content_hash":         rendered.ContentHash,
	})
	if err != nil {
		err = fmt.Errorf("create document version: %w", err)
		c.logFailed(ctx, correlationID, stageVersioning, doc.ID, err)
		return nil, err
	}
	if _, err := c.store.UpdateDocumentCurrentVersion(ctx, doc.ID, versionIntent); err != nil {
		err = fmt.Errorf("advance document current_version: %w", err)
		c.logFailed(ctx, correlationID, stageVersioning, doc.ID, err)
		return nil, err
	}

	c.logDone(ctx, correlationID, stageVersioning, docVersion.ID, nil)
	return docVersion, nil
}

// loadTemplateText parses the template's source blob once to resolve each
// section's raw text by structural path, used only to populate
// preceding/following surrounding context at input-preparation time. A
// parse failure here degrades to empty context rather than failing the
// stage: surrounding context is advisory prompt material, not a structural
// requirement.
func (c *Coordinator) loadTemplateText(ctx context.Context, templateVersionID string) (map[string]string, []string) {
	tv, err := c.store.GetTemplateVersion(ctx, templateVersionID)
	if err != nil {
		return nil, nil
	}
	raw, err := c.objects.Get(ctx, tv.SourceBlobKey)
	if err != nil {
		return nil, nil
	}
	parsed, err := c.parser.Parse(ctx, tv.SourceBlobKey, raw)
	if err != nil {
		return nil, nil
	}
	byPath := make(map[string]string, len(parsed.Blocks))
	paths := make([]string, 0, len(parsed.Blocks))
	blocks := append([]docxcodec.Block{}, parsed.Blocks...)
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Sequence < blocks[j].Sequence })
	for _, b := range blocks {
		byPath[b.Path] = b.Text
		paths = append(paths, b.Path)
	}
	return byPath, paths
}

func neighborText(orderedPaths []string, textByPath map[string]string, path string) (preceding, following string) {
	idx := -1
	for i, p := range orderedPaths {
		if p == path {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", ""
	}
	if idx > 0 {
		preceding = textByPath[orderedPaths[idx-1]]
	}
	if idx < len(orderedPaths)-1 {
		following = textByPath[orderedPaths[idx+1]]
	}
	return preceding, following
}
