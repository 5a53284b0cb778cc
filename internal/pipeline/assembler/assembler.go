// Package assembler implements the Assembler (C5): it walks a parsed
// template's blocks in document order, splicing each block's content from
// either its static verbatim text or its batch's validated SectionOutput,
// and runs the self-consistency check before marking the result validated
// (§4.5, §8 invariant 3).
package assembler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"docgen.io/pipeline/ent"
	"docgen.io/pipeline/ent/section"
	apperrors "docgen.io/pipeline/internal/pkg/errors"
	"docgen.io/pipeline/internal/docxcodec"
	"docgen.io/pipeline/internal/objectstore"
	"docgen.io/pipeline/internal/pipeline/store"
)

// Assembler splices static and generated content into one ordered document
// structure per (document, version_intent).
type Assembler struct {
	store   *store.Store
	objects objectstore.Store
	parser  docxcodec.Parser
}

// New builds an Assembler.
func New(s *store.Store, objects objectstore.Store, parser docxcodec.Parser) *Assembler {
	return &Assembler{store: s, objects: objects, parser: parser}
}

// AssembleDocument runs the full assembly stage for one (document,
// version_intent): idempotent-by-reuse if already validated, otherwise
// parses the template's source, splices in validated section content, and
// persists the result (§4.5, §4.9 stage 3). reusedOutputs maps a dynamic
// section id to the previous version's validated SectionOutput id for any
// section a regeneration plan decided to reuse rather than regenerate —
// those sections have no row in outputBatchID, so spliceBlocks falls back
// to the named previous output (§4.7's reuse_unchanged strategy). Pass nil
// for a first-time generation, where every dynamic section has a fresh
// output in outputBatchID.
func (a *Assembler) AssembleDocument(ctx context.Context, documentID, templateVersionID, outputBatchID string, versionIntent int, reusedOutputs map[int]string) (*ent.AssembledDocument, error) {
	if existing, err := a.store.AssembledByDocumentAndIntent(ctx, documentID, versionIntent); err == nil {
		if existing.IsImmutable {
			return existing, nil
		}
	} else if !ent.IsNotFound(err) {
		return nil, fmt.Errorf("check existing assembled document: %w", err)
	}

	tv, err := a.store.GetTemplateVersion(ctx, templateVersionID)
	if err != nil {
		return nil, fmt.Errorf("get template version %s: %w", templateVersionID, err)
	}
	if !tv.IsImmutable {
		return nil, apperrors.ErrDocumentNotImmutable(templateVersionID)
	}

	sections, err := a.store.SectionsByTemplateVersion(ctx, templateVersionID)
	if err != nil {
		return nil, fmt.Errorf("load sections for template version %s: %w", templateVersionID, err)
	}
	sectionByPath := make(map[string]*ent.Section, len(sections))
	for _, sec := range sections {
		sectionByPath[sec.StructuralPath] = sec
	}

	raw, err := a.objects.Get(ctx, tv.SourceBlobKey)
	if err != nil {
		return nil, fmt.Errorf("load source blob %s: %w", tv.SourceBlobKey, err)
	}
	parsed, err := a.parser.Parse(ctx, tv.SourceBlobKey, raw)
	if err != nil {
		return nil, fmt.Errorf("parse source blob %s: %w", tv.SourceBlobKey, err)
	}

	assembled, err := a.store.CreateAssembledDocument(ctx, documentID, templateVersionID, outputBatchID, versionIntent)
	if err != nil {
		return nil, fmt.Errorf("create assembled document: %w", err)
	}
	if _, err := a.store.MarkAssembledInProgress(ctx, assembled.ID); err != nil {
		return nil, fmt.Errorf("mark assembled in progress: %w", err)
	}

	bodyBlocks, staticCount, dynamicCount, injectedCount, err := a.spliceBlocks(ctx, outputBatchID, parsed.Blocks, sectionByPath, reusedOutputs)
	if err != nil {
		if failed, mErr := a.store.MarkAssembledFailed(ctx, assembled.ID, apperrors.CodeMissingValidatedContent, err.Error()); mErr == nil {
			return failed, err
		}
		return nil, err
	}

	headerBlocks, _, _, _, err := a.spliceBlocks(ctx, outputBatchID, parsed.Headers, sectionByPath, reusedOutputs)
	if err != nil {
		if failed, mErr := a.store.MarkAssembledFailed(ctx, assembled.ID, apperrors.CodeMissingValidatedContent, err.Error()); mErr == nil {
			return failed, err
		}
		return nil, err
	}
	footerBlocks, _, _, _, err := a.spliceBlocks(ctx, outputBatchID, parsed.Footers, sectionByPath, reusedOutputs)
	if err != nil {
		if failed, mErr := a.store.MarkAssembledFailed(ctx, assembled.ID, apperrors.CodeMissingValidatedContent, err.Error()); mErr == nil {
			return failed, err
		}
		return nil, err
	}

	structure := map[string]interface{}{"blocks": toMaps(bodyBlocks)}
	hash := structureHash(structure, toMaps(headerBlocks), toMaps(footerBlocks))

	totalBlocks := len(bodyBlocks)
	if _, err := a.store.MarkAssembledCompleted(ctx, assembled.ID, store.AssembledDocumentCompletion{
		AssemblyHash:          hash,
		TotalBlocks:           totalBlocks,
		StaticBlocksCount:     staticCount,
		DynamicBlocksCount:    dynamicCount,
		InjectedSectionsCount: injectedCount,
		AssembledStructure:    structure,
		Headers:               toMaps(headerBlocks),
		Footers:               toMaps(footerBlocks),
		DocumentMetadata:      map[string]interface{}{"source_blob_key": tv.SourceBlobKey},
	}); err != nil {
		return nil, fmt.Errorf("mark assembled completed: %w", err)
	}

	// Self-consistency check (§8 invariant 3): every dynamic block must have
	// received exactly one injected section, and static+dynamic must equal
	// the total — both already enforced by spliceBlocks' bookkeeping, but
	// re-checked here as the last gate before validation.
	if dynamicCount != injectedCount || totalBlocks != staticCount+dynamicCount {
		msg := fmt.Sprintf("assembly self-check failed: dynamic=%d injected=%d total=%d static=%d", dynamicCount, injectedCount, totalBlocks, staticCount)
		return a.store.MarkAssembledFailed(ctx, assembled.ID, apperrors.CodeAssemblySelfCheckFailed, msg)
	}

	return a.store.MarkAssembledValidated(ctx, assembled.ID)
}

// spliceBlocks walks parsed blocks in order, replacing dynamic blocks with
// their batch's validated SectionOutput content and leaving static blocks
// verbatim. A section absent from outputBatchID falls back to
// reusedOutputs' previous-version output when the regeneration plan
// decided to reuse it; a dynamic block with no output either way is a
// fatal missing_validated_content error (§4.5, §4.7).
func (a *Assembler) spliceBlocks(ctx context.Context, outputBatchID string, blocks []docxcodec.Block, sectionByPath map[string]*ent.Section, reusedOutputs map[int]string) ([]docxcodec.RenderBlock, int, int, int, error) {
	out := make([]docxcodec.RenderBlock, 0, len(blocks))
	staticCount, dynamicCount, injectedCount := 0, 0, 0

	for _, b := range blocks {
		sec, ok := sectionByPath[b.Path]
		if !ok || sec.SectionType == section.SectionTypeStatic {
			staticCount++
			out = append(out, docxcodec.RenderBlock{
				Path: b.Path, Type: docxcodec.BlockType(b.Type), Text: b.Text,
				Style: b.Style, Alignment: b.Alignment, IndentLvl: b.IndentLvl, Sequence: b.Sequence,
			})
			continue
		}

		dynamicCount++
		output, err := a.store.OutputBySectionID(ctx, outputBatchID, sec.ID)
		if ent.IsNotFound(err) {
			if previousID, reused := reusedOutputs[sec.ID]; reused {
				output, err = a.store.GetOutput(ctx, previousID)
			}
		}
		if err != nil {
			return nil, 0, 0, 0, fmt.Errorf("section %d (%s): %w", sec.ID, b.Path, apperrors.BadRequest(apperrors.CodeMissingValidatedContent, fmt.Sprintf("no validated output for section %d", sec.ID)))
		}
		if output.Status != "validated" {
			return nil, 0, 0, 0, fmt.Errorf("section %d (%s) has no validated output", sec.ID, b.Path)
		}
		injectedCount++
		out = append(out, docxcodec.RenderBlock{
			Path: b.Path, Type: docxcodec.BlockType(b.Type), Text: output.GeneratedContent,
			Style: b.Style, Alignment: b.Alignment, IndentLvl: b.IndentLvl, Sequence: b.Sequence,
		})
	}
	return out, staticCount, dynamicCount, injectedCount, nil
}

func toMaps(blocks []docxcodec.RenderBlock) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, map[string]interface{}{
			"path":       b.Path,
			"type":       string(b.Type),
			"text":       b.Text,
			"style":      b.Style,
			"alignment":  b.Alignment,
			"indent_lvl": b.IndentLvl,
			"sequence":   b.Sequence,
		})
	}
	return out
}

// FromMaps decodes the persisted block-map structure back into ordered
// RenderBlocks, used by the Renderer Adapter to rebuild a RenderInput from
// a validated AssembledDocument.
func FromMaps(raw []map[string]interface{}) []docxcodec.RenderBlock {
	out := make([]docxcodec.RenderBlock, 0, len(raw))
	for _, m := range raw {
		out = append(out, docxcodec.RenderBlock{
			Path:      stringField(m, "path"),
			Type:      docxcodec.BlockType(stringField(m, "type")),
			Text:      stringField(m, "text"),
			Style:     stringField(m, "style"),
			Alignment: stringField(m, "alignment"),
			IndentLvl: intField(m, "indent_lvl"),
			Sequence:  intField(m, "sequence"),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func intField(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// structureHash computes the assembly_hash over the canonical JSON
// serialization of body/header/footer blocks, so identical assemblies
// produce identical hashes regardless of map key iteration order.
func structureHash(body map[string]interface{}, headers, footers []map[string]interface{}) string {
	payload := map[string]interface{}{
		"body":    body,
		"headers": headers,
		"footers": footers,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		encoded = []byte(fmt.Sprintf("%v", payload))
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}
