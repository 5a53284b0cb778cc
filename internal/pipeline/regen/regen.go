// Package regen implements the Regeneration Planner (C7): given a scope
// (section, full, template_update) it decides which sections of the next
// document version must be regenerated versus reused, writes one audit
// entry per planned section, and returns a plan for the caller (the
// Pipeline Coordinator) to execute against C3-C6. The planner itself never
// mutates generation state — it is purely advisory (§4.7).
package regen

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"docgen.io/pipeline/ent"
	"docgen.io/pipeline/ent/section"
	"docgen.io/pipeline/internal/domain"
	"docgen.io/pipeline/internal/governance/audit"
	apperrors "docgen.io/pipeline/internal/pkg/errors"
	"docgen.io/pipeline/internal/pipeline/store"
)

// SectionDecision is one section's regenerate/reuse outcome within a plan.
type SectionDecision struct {
	SectionID   int
	Regenerate  bool
	Reason      string
	InputHash   string
	PreviousID  string // previous SectionOutput id reused, when Regenerate is false
}

// Plan is the full output of PlanRegeneration: the next version number and
// a per-section decision list (in sequence order, except that an explicit
// section-scope target list puts its targets first, in request order).
type Plan struct {
	DocumentID    string
	NextVersion   int
	Scope         domain.RegenerationScope
	Decisions     []SectionDecision
}

// Request describes a caller's regeneration intent (§4.7).
type Request struct {
	DocumentID        string
	TemplateVersionID string
	Scope             domain.RegenerationScope
	Strategy          domain.RegenerationStrategy // only meaningful for ScopeSection
	SectionIDs        []int                       // explicit targets for ScopeSection; empty means "all dynamic sections"
	ClientData        map[string]interface{}
	CorrelationID     string
}

// Planner computes regeneration plans and records their audit trail.
type Planner struct {
	store *store.Store
	audit *audit.Logger
}

// New builds a Planner.
func New(s *store.Store, auditLogger *audit.Logger) *Planner {
	return &Planner{store: s, audit: auditLogger}
}

// ComputeInputHash is the canonical content-addressing function for a
// section's generation input: SHA-256 hex of the sorted-key JSON
// serialization of {section_id, client_data} (§4.7, ported from
// `_compute_input_hash`).
func ComputeInputHash(sectionID int, clientData map[string]interface{}) (string, error) {
	canonical, err := canonicalJSON(map[string]interface{}{
		"section_id":  sectionID,
		"client_data": clientData,
	})
	if err != nil {
		return "", fmt.Errorf("canonicalize input for section %d: %w", sectionID, err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalJSON serializes v with map keys sorted recursively, so the same
// logical value always produces identical bytes regardless of Go map
// iteration order.
func canonicalJSON(v interface{}) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

func normalize(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(orderedMap, 0, len(keys))
		for _, k := range keys {
			nv, err := normalize(t[k])
			if err != nil {
				return nil, err
			}
			ordered = append(ordered, kv{k, nv})
		}
		return ordered, nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			nv, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	default:
		return v, nil
	}
}

type kv struct {
	Key   string
	Value interface{}
}

// orderedMap marshals as a JSON object preserving insertion order, since
// encoding/json otherwise re-sorts map[string]interface{} keys itself —
// harmless here (sort order is the same either way) but made explicit so
// the canonicalization doesn't silently rely on that stdlib behavior.
type orderedMap []kv

func (m orderedMap) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, pair := range m {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyJSON, err := json.Marshal(pair.Key)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(pair.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')
		buf = append(buf, valJSON...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// PlanRegeneration computes a Plan for the given request and writes one
// audit entry per planned section (§4.7; SPEC_FULL.md supplemented feature:
// a per-section audit trail, richer than the reference implementation's
// single entry per request).
func (p *Planner) PlanRegeneration(ctx context.Context, req Request) (*Plan, error) {
	doc, err := p.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", req.DocumentID, err)
	}
	nextVersion := doc.CurrentVersion + 1

	sections, err := p.store.SectionsByTemplateVersion(ctx, req.TemplateVersionID)
	if err != nil {
		return nil, fmt.Errorf("load sections for template version %s: %w", req.TemplateVersionID, err)
	}

	var prevOutputs map[int]*ent.SectionOutput
	if doc.CurrentVersion > 0 {
		prevOutputs, err = p.previousOutputsBySectionID(ctx, req.DocumentID, doc.CurrentVersion)
		if err != nil {
			return nil, err
		}
	}

	var decisions []SectionDecision
	switch req.Scope {
	case domain.ScopeSection:
		decisions, err = p.planSectionScope(ctx, sections, prevOutputs, req)
	case domain.ScopeFull:
		decisions, err = p.planFullScope(sections, req)
	case domain.ScopeTemplateUpdate:
		decisions, err = p.planTemplateUpdateScope(sections, prevOutputs, req)
	default:
		return nil, apperrors.New(apperrors.CodeRegenUnknownStrategy, fmt.Sprintf("unknown regeneration scope %q", req.Scope), 400)
	}
	if err != nil {
		return nil, err
	}

	if len(decisions) == 0 {
		return nil, apperrors.New(apperrors.CodeRegenNoTargets, "regeneration plan produced no target sections", 400)
	}

	for _, d := range decisions {
		action := "reuse"
		if d.Regenerate {
			action = "regenerate"
		}
		if err := p.audit.LogAction(ctx, "document", req.DocumentID, audit.ActionRegenerate, req.CorrelationID, map[string]interface{}{
			"section_id":   d.SectionID,
			"next_version": nextVersion,
			"scope":        string(req.Scope),
			"decision":     action,
			"reason":       d.Reason,
			"input_hash":   d.InputHash,
		}); err != nil {
			return nil, fmt.Errorf("audit section %d decision: %w", d.SectionID, err)
		}
	}

	return &Plan{DocumentID: req.DocumentID, NextVersion: nextVersion, Scope: req.Scope, Decisions: decisions}, nil
}

func (p *Planner) planSectionScope(ctx context.Context, sections []*ent.Section, prevOutputs map[int]*ent.SectionOutput, req Request) ([]SectionDecision, error) {
	byID := make(map[int]*ent.Section, len(sections))
	var allDynamic []int
	for _, sec := range sections {
		byID[sec.ID] = sec
		if sec.SectionType == section.SectionTypeDynamic {
			allDynamic = append(allDynamic, sec.ID)
		}
	}

	explicit := len(req.SectionIDs) > 0
	targets := req.SectionIDs
	if !explicit {
		targets = allDynamic
	}
	targetSet := make(map[int]bool, len(targets))
	for _, id := range targets {
		targetSet[id] = true
	}

	decisions := make([]SectionDecision, 0, len(allDynamic))
	for _, id := range targets {
		d, ok, err := p.decideSection(ctx, byID, prevOutputs, id, req, req.Strategy == domain.StrategyForceAll)
		if err != nil {
			return nil, err
		}
		if ok {
			decisions = append(decisions, d)
		}
	}

	// An explicit, narrower target list still needs a decision recorded for
	// every other dynamic section, or the plan silently omits them instead
	// of naming them reused (§8 scenario 6: {regenerate:[2], reuse:[1,3]}) —
	// without an entry here the Assembler has no record that they were
	// considered and left unchanged, only that they were never mentioned.
	if explicit {
		for _, id := range allDynamic {
			if targetSet[id] {
				continue
			}
			d, ok, err := p.decideSection(ctx, byID, prevOutputs, id, req, false)
			if err != nil {
				return nil, err
			}
			if ok {
				decisions = append(decisions, d)
			}
		}
	}
	return decisions, nil
}

// decideSection computes one section's regenerate/reuse decision. force
// regenerates unconditionally (an explicit target under StrategyForceAll);
// otherwise the section regenerates only if it has no previous output or
// its freshly computed input hash no longer matches the one that produced
// that output (§4.7's reuse_unchanged comparison). ok is false for a
// section id not found in sections, mirroring the prior silent skip.
func (p *Planner) decideSection(ctx context.Context, byID map[int]*ent.Section, prevOutputs map[int]*ent.SectionOutput, id int, req Request, force bool) (SectionDecision, bool, error) {
	sec, ok := byID[id]
	if !ok {
		return SectionDecision{}, false, nil
	}
	if sec.SectionType == section.SectionTypeStatic {
		return SectionDecision{}, false, apperrors.ErrStaticSection(id)
	}
	hash, err := ComputeInputHash(id, req.ClientData)
	if err != nil {
		return SectionDecision{}, false, err
	}
	d := SectionDecision{SectionID: id, InputHash: hash}
	prev := prevOutputs[id]
	switch {
	case force || prev == nil:
		d.Regenerate = true
		d.Reason = "forced or no previous output"
	default:
		prevHash, err := p.previousInputHash(ctx, prev.GenerationInputID)
		if err != nil {
			return SectionDecision{}, false, err
		}
		if prevHash == hash {
			d.Regenerate = false
			d.Reason = "input unchanged"
			d.PreviousID = prev.ID
		} else {
			d.Regenerate = true
			d.Reason = "input changed"
		}
	}
	return d, true, nil
}

func (p *Planner) planFullScope(sections []*ent.Section, req Request) ([]SectionDecision, error) {
	decisions := make([]SectionDecision, 0, len(sections))
	for _, sec := range sections {
		if sec.SectionType != section.SectionTypeDynamic {
			continue
		}
		hash, err := ComputeInputHash(sec.ID, req.ClientData)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, SectionDecision{SectionID: sec.ID, Regenerate: true, Reason: "full regeneration", InputHash: hash})
	}
	return decisions, nil
}

func (p *Planner) planTemplateUpdateScope(sections []*ent.Section, prevOutputs map[int]*ent.SectionOutput, req Request) ([]SectionDecision, error) {
	decisions := make([]SectionDecision, 0, len(sections))
	for _, sec := range sections {
		if sec.SectionType != section.SectionTypeDynamic {
			continue
		}
		hash, err := ComputeInputHash(sec.ID, req.ClientData)
		if err != nil {
			return nil, err
		}
		d := SectionDecision{SectionID: sec.ID, InputHash: hash}
		if _, existed := prevOutputs[sec.ID]; existed {
			d.Regenerate = false
			d.Reason = "retained across template update"
			d.PreviousID = prevOutputs[sec.ID].ID
		} else {
			d.Regenerate = true
			d.Reason = "new section introduced by template update"
		}
		decisions = append(decisions, d)
	}
	return decisions, nil
}

// previousOutputsBySectionID resolves the validated SectionOutput for every
// section at the document's current version, used to decide reuse.
func (p *Planner) previousOutputsBySectionID(ctx context.Context, documentID string, currentVersion int) (map[int]*ent.SectionOutput, error) {
	outputBatch, err := p.store.OutputBatchByDocumentAndIntent(ctx, documentID, currentVersion)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load previous output batch for document %s version %d: %w", documentID, currentVersion, err)
	}
	outputs, err := p.store.OutputsByBatch(ctx, outputBatch.ID)
	if err != nil {
		return nil, fmt.Errorf("load previous outputs for batch %s: %w", outputBatch.ID, err)
	}
	result := make(map[int]*ent.SectionOutput, len(outputs))
	for _, o := range outputs {
		result[o.SectionID] = o
	}
	return result, nil
}

// previousInputHash looks up the frozen input_hash on the GenerationInput
// that produced a previous section output. Equality against a freshly
// computed hash is what the "reuse_unchanged" strategy hinges on (§4.7).
func (p *Planner) previousInputHash(ctx context.Context, generationInputID string) (string, error) {
	in, err := p.store.Client().GenerationInput.Get(ctx, generationInputID)
	if err != nil {
		return "", fmt.Errorf("get generation input %s: %w", generationInputID, err)
	}
	return in.InputHash, nil
}
