// Package seed implements the Demo Seeder (C11): a deterministic fixture
// installer that stands up one fixed-ID document graph — a template, a
// parsed template version, five classified sections, a document, a
// document version, and three queued jobs — purely so integration tests
// and manual exploration have canonical ids to reference (§6 "Demo IDs").
// It never runs the generation pipeline itself; the seeded graph is a
// hand-installed snapshot of what C1-C9 would have produced.
package seed

import (
	_ "embed"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"docgen.io/pipeline/ent"
	"docgen.io/pipeline/ent/job"
	"docgen.io/pipeline/ent/section"
	"docgen.io/pipeline/ent/templateversion"
	"docgen.io/pipeline/internal/docxcodec"
	"docgen.io/pipeline/internal/objectstore"
	"docgen.io/pipeline/internal/pipeline/store"
)

//go:embed fixtures.yaml
var fixturesYAML []byte

// Fixed demo ids (§6). Section ids are ints per the Section schema, so the
// "55…5…NNN" scheme in spec.md is rendered here as the numeric range
// 55001-55005 rather than UUID-shaped strings.
const (
	TemplateID        = "11111111-1111-1111-1111-111111111111"
	TemplateVersionID = "22222222-2222-2222-2222-222222222222"
	DocumentID        = "33333333-3333-3333-3333-333333333333"
	DocumentVersionID = "44444444-4444-4444-4444-444444444444"
)

// SectionIDs are the five fixed demo section ids, in sequence order.
var SectionIDs = []int{55001, 55002, 55003, 55004, 55005}

// JobIDs are the three fixed demo job ids: parse, classify, generate.
var JobIDs = []string{
	"66666666-6666-6666-6666-666666666601",
	"66666666-6666-6666-6666-666666666602",
	"66666666-6666-6666-6666-666666666603",
}

type fixtureSection struct {
	BlockIndex   int                    `yaml:"block_index"`
	Type         string                 `yaml:"type"`
	PromptConfig map[string]interface{} `yaml:"prompt_config"`
}

type fixture struct {
	Template struct {
		Name string `yaml:"name"`
	} `yaml:"template"`
	SourceText string                 `yaml:"source_text"`
	Sections   []fixtureSection       `yaml:"sections"`
	ClientData map[string]interface{} `yaml:"client_data"`
}

// Seeder installs and validates the demo fixture graph.
type Seeder struct {
	store   *store.Store
	objects objectstore.Store
	parser  docxcodec.Parser
}

// New builds a Seeder.
func New(s *store.Store, objects objectstore.Store, parser docxcodec.Parser) *Seeder {
	return &Seeder{store: s, objects: objects, parser: parser}
}

// IDs is the full fixed-id map returned by GET /demo/ids.
type IDs struct {
	TemplateID        string   `json:"template_id"`
	TemplateVersionID string   `json:"template_version_id"`
	DocumentID        string   `json:"document_id"`
	DocumentVersionID string   `json:"document_version_id"`
	SectionIDs        []int    `json:"section_ids"`
	JobIDs            []string `json:"job_ids"`
}

// GetIDs returns the fixed demo id scheme without touching the database.
func GetIDs() IDs {
	return IDs{
		TemplateID:        TemplateID,
		TemplateVersionID: TemplateVersionID,
		DocumentID:        DocumentID,
		DocumentVersionID: DocumentVersionID,
		SectionIDs:        append([]int{}, SectionIDs...),
		JobIDs:            append([]string{}, JobIDs...),
	}
}

// Result reports what Seed actually did.
type Result struct {
	IDs     IDs
	Created bool // false when every row already existed (idempotent rerun)
}

// Seed installs the fixture graph, reusing any rows that already exist by
// their fixed id so repeated calls are safe (§6).
func (s *Seeder) Seed(ctx context.Context) (*Result, error) {
	var fx fixture
	if err := yaml.Unmarshal(fixturesYAML, &fx); err != nil {
		return nil, fmt.Errorf("parse embedded fixture: %w", err)
	}

	client := s.store.Client()
	createdAnything := false

	tmpl, err := client.Template.Get(ctx, TemplateID)
	if ent.IsNotFound(err) {
		tmpl, err = client.Template.Create().
			SetID(TemplateID).
			SetName(fx.Template.Name).
			Save(ctx)
		createdAnything = true
	}
	if err != nil {
		return nil, fmt.Errorf("seed template: %w", err)
	}

	sourceKey := fmt.Sprintf("templates/%s/1/source.docx", tmpl.ID)
	sourceBytes := []byte(fx.SourceText)
	if err := s.objects.Put(ctx, sourceKey, sourceBytes); err != nil {
		return nil, fmt.Errorf("put demo source blob: %w", err)
	}

	parsed, err := s.parser.Parse(ctx, sourceKey, sourceBytes)
	if err != nil {
		return nil, fmt.Errorf("parse demo source: %w", err)
	}
	if len(parsed.Blocks) == 0 {
		return nil, fmt.Errorf("demo fixture source produced no blocks")
	}

	tv, err := client.TemplateVersion.Get(ctx, TemplateVersionID)
	if ent.IsNotFound(err) {
		tv, err = client.TemplateVersion.Create().
			SetID(TemplateVersionID).
			SetTemplateID(tmpl.ID).
			SetVersionNumber(1).
			SetSourceBlobKey(sourceKey).
			SetParsingStatus(templateversion.ParsingStatusPending).
			Save(ctx)
		createdAnything = true
	}
	if err != nil {
		return nil, fmt.Errorf("seed template version: %w", err)
	}
	if !tv.IsImmutable {
		parsedBlobKey := fmt.Sprintf("templates/%s/1/parsed.json", tmpl.ID)
		parsedJSON, err := json.Marshal(parsed.Blocks)
		if err != nil {
			return nil, fmt.Errorf("marshal parsed demo blocks: %w", err)
		}
		if err := s.objects.Put(ctx, parsedBlobKey, parsedJSON); err != nil {
			return nil, fmt.Errorf("put parsed demo blob: %w", err)
		}
		sum := sha256.Sum256(sourceBytes)
		tv, err = s.store.MarkTemplateVersionParsed(ctx, tv.ID, parsedBlobKey, hex.EncodeToString(sum[:]))
		if err != nil {
			return nil, fmt.Errorf("mark demo template version parsed: %w", err)
		}
		createdAnything = true
	}

	existingSections, err := s.store.SectionsByTemplateVersion(ctx, tv.ID)
	if err != nil {
		return nil, fmt.Errorf("check existing demo sections: %w", err)
	}
	if len(existingSections) == 0 {
		if len(fx.Sections) != len(SectionIDs) {
			return nil, fmt.Errorf("fixture defines %d sections, expected %d", len(fx.Sections), len(SectionIDs))
		}
		inputs := make([]store.SectionInput, 0, len(fx.Sections))
		for i, fs := range fx.Sections {
			if fs.BlockIndex < 0 || fs.BlockIndex >= len(parsed.Blocks) {
				return nil, fmt.Errorf("fixture section %d references out-of-range block_index %d", i, fs.BlockIndex)
			}
			sectionType := section.SectionTypeStatic
			var promptConfig map[string]interface{}
			if fs.Type == "dynamic" {
				sectionType = section.SectionTypeDynamic
				promptConfig = fs.PromptConfig
			}
			inputs = append(inputs, store.SectionInput{
				ID:             SectionIDs[i],
				StructuralPath: parsed.Blocks[fs.BlockIndex].Path,
				SectionType:    sectionType,
				PromptConfig:   promptConfig,
				SequenceOrder:  i,
			})
		}
		if _, err := s.store.CreateSections(ctx, tv.ID, inputs); err != nil {
			return nil, fmt.Errorf("seed demo sections: %w", err)
		}
		createdAnything = true
	}

	doc, err := s.store.GetDocument(ctx, DocumentID)
	if ent.IsNotFound(err) {
		doc, err = client.Document.Create().
			SetID(DocumentID).
			SetTemplateVersionID(tv.ID).
			SetCurrentVersion(0).
			Save(ctx)
		createdAnything = true
	}
	if err != nil {
		return nil, fmt.Errorf("seed demo document: %w", err)
	}

	if _, err := s.store.DocumentVersionByDocumentAndVersion(ctx, doc.ID, 1); ent.IsNotFound(err) {
		renderedKey := fmt.Sprintf("documents/%s/1/output.docx", doc.ID)
		if err := s.objects.Put(ctx, renderedKey, sourceBytes); err != nil {
			return nil, fmt.Errorf("put demo rendered blob: %w", err)
		}
		if _, err := client.DocumentVersion.Create().
			SetID(DocumentVersionID).
			SetDocumentID(doc.ID).
			SetVersionNumber(1).
			SetRenderedBlobKey(renderedKey).
			SetGenerationMetadata(map[string]interface{}{"seeded": true, "client_data": fx.ClientData}).
			Save(ctx); err != nil {
			return nil, fmt.Errorf("seed demo document version: %w", err)
		}
		if _, err := s.store.UpdateDocumentCurrentVersion(ctx, doc.ID, 1); err != nil {
			return nil, fmt.Errorf("advance demo document current_version: %w", err)
		}
		createdAnything = true
	} else if err != nil {
		return nil, fmt.Errorf("check existing demo document version: %w", err)
	}

	jobSpecs := []struct {
		id      string
		jobType job.JobType
	}{
		{JobIDs[0], job.JobTypeParse},
		{JobIDs[1], job.JobTypeClassify},
		{JobIDs[2], job.JobTypeGenerate},
	}
	for _, js := range jobSpecs {
		if _, err := client.Job.Get(ctx, js.id); ent.IsNotFound(err) {
			if _, err := client.Job.Create().
				SetID(js.id).
				SetJobType(js.jobType).
				SetStatus(job.StatusPending).
				SetPayload(map[string]interface{}{
					"document_id":         doc.ID,
					"template_version_id": tv.ID,
				}).
				Save(ctx); err != nil {
				return nil, fmt.Errorf("seed demo job %s: %w", js.id, err)
			}
			createdAnything = true
		} else if err != nil {
			return nil, fmt.Errorf("check existing demo job %s: %w", js.id, err)
		}
	}

	return &Result{IDs: GetIDs(), Created: createdAnything}, nil
}

// Report is the outcome of Validate.
type Report struct {
	OK     bool
	Issues []string
}

func (r *Report) fail(format string, args ...interface{}) {
	r.OK = false
	r.Issues = append(r.Issues, fmt.Sprintf(format, args...))
}

// Validate re-checks that the seeded graph is internally consistent: every
// fixed id resolves, relationships point at each other correctly, and the
// immutability/status invariants the pipeline itself enforces still hold
// (§8 invariants 1, 3, 5 restricted to the demo graph).
func (s *Seeder) Validate(ctx context.Context) (*Report, error) {
	report := &Report{OK: true}
	client := s.store.Client()

	tmpl, err := client.Template.Get(ctx, TemplateID)
	if err != nil {
		report.fail("template %s: %v", TemplateID, err)
		return report, nil
	}

	tv, err := client.TemplateVersion.Get(ctx, TemplateVersionID)
	if err != nil {
		report.fail("template version %s: %v", TemplateVersionID, err)
	} else {
		if tv.TemplateID != tmpl.ID {
			report.fail("template version %s belongs to template %s, expected %s", tv.ID, tv.TemplateID, tmpl.ID)
		}
		if !tv.IsImmutable || tv.ParsingStatus != templateversion.ParsingStatusCompleted {
			report.fail("template version %s is not parsed+immutable (status=%s immutable=%v)", tv.ID, tv.ParsingStatus, tv.IsImmutable)
		}
	}

	sections, err := s.store.SectionsByTemplateVersion(ctx, TemplateVersionID)
	if err != nil {
		report.fail("list sections for %s: %v", TemplateVersionID, err)
	} else if len(sections) != len(SectionIDs) {
		report.fail("expected %d demo sections, found %d", len(SectionIDs), len(sections))
	} else {
		for _, sec := range sections {
			if !sec.IsImmutable {
				report.fail("section %d is not immutable", sec.ID)
			}
		}
	}

	doc, err := s.store.GetDocument(ctx, DocumentID)
	if err != nil {
		report.fail("document %s: %v", DocumentID, err)
	} else {
		if doc.TemplateVersionID != TemplateVersionID {
			report.fail("document %s points at template version %s, expected %s", doc.ID, doc.TemplateVersionID, TemplateVersionID)
		}
		if doc.CurrentVersion != 1 {
			report.fail("document %s current_version=%d, expected 1", doc.ID, doc.CurrentVersion)
		}
	}

	docVersion, err := client.DocumentVersion.Get(ctx, DocumentVersionID)
	if err != nil {
		report.fail("document version %s: %v", DocumentVersionID, err)
	} else if docVersion.DocumentID != DocumentID {
		report.fail("document version %s belongs to document %s, expected %s", docVersion.ID, docVersion.DocumentID, DocumentID)
	}

	for _, id := range JobIDs {
		if _, err := client.Job.Get(ctx, id); err != nil {
			report.fail("job %s: %v", id, err)
		}
	}

	return report, nil
}
