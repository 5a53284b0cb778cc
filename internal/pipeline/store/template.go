package store

import (
	"context"
	"fmt"

	"docgen.io/pipeline/ent"
	"docgen.io/pipeline/ent/section"
	"docgen.io/pipeline/ent/template"
	"docgen.io/pipeline/ent/templateversion"
	apperrors "docgen.io/pipeline/internal/pkg/errors"
)

// CreateTemplate creates a new named Template container.
func (s *Store) CreateTemplate(ctx context.Context, name string) (*ent.Template, error) {
	return s.client.Template.Create().
		SetID(generateID()).
		SetName(name).
		Save(ctx)
}

// GetTemplate fetches a Template by id.
func (s *Store) GetTemplate(ctx context.Context, id string) (*ent.Template, error) {
	return s.client.Template.Get(ctx, id)
}

// CreateTemplateVersion creates a TemplateVersion in parsing_status=pending.
func (s *Store) CreateTemplateVersion(ctx context.Context, templateID string, versionNumber int, sourceBlobKey string) (*ent.TemplateVersion, error) {
	return s.client.TemplateVersion.Create().
		SetID(generateID()).
		SetTemplateID(templateID).
		SetVersionNumber(versionNumber).
		SetSourceBlobKey(sourceBlobKey).
		SetParsingStatus(templateversion.ParsingStatusPending).
		Save(ctx)
}

// GetTemplateVersion fetches a TemplateVersion by id.
func (s *Store) GetTemplateVersion(ctx context.Context, id string) (*ent.TemplateVersion, error) {
	return s.client.TemplateVersion.Get(ctx, id)
}

// TemplateVersionByContentHash is a deduplication probe: finds a completed
// version whose parsed content hash already matches.
func (s *Store) TemplateVersionByContentHash(ctx context.Context, hash string) (*ent.TemplateVersion, error) {
	return s.client.TemplateVersion.Query().
		Where(templateversion.ContentHashEQ(hash)).
		Only(ctx)
}

// MarkTemplateVersionInProgress transitions a pending version to
// parsing_status=in_progress.
func (s *Store) MarkTemplateVersionInProgress(ctx context.Context, id string) (*ent.TemplateVersion, error) {
	var out *ent.TemplateVersion
	err := withTx(ctx, s.client, func(tx *ent.Tx) error {
		tv, err := tx.TemplateVersion.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("get template version %s: %w", id, err)
		}
		if tv.IsImmutable {
			return apperrors.ErrImmutabilityViolation(id)
		}
		out, err = tx.TemplateVersion.UpdateOneID(id).
			SetParsingStatus(templateversion.ParsingStatusInProgress).
			Save(ctx)
		return err
	})
	return out, err
}

// MarkTemplateVersionParsed completes parsing: sets the parsed blob key,
// content hash, and atomically marks the row immutable in the same
// transaction (§4.1 rule 3).
func (s *Store) MarkTemplateVersionParsed(ctx context.Context, id, parsedBlobKey, contentHash string) (*ent.TemplateVersion, error) {
	var out *ent.TemplateVersion
	err := withTx(ctx, s.client, func(tx *ent.Tx) error {
		tv, err := tx.TemplateVersion.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("get template version %s: %w", id, err)
		}
		if tv.IsImmutable {
			return apperrors.ErrImmutabilityViolation(id)
		}
		out, err = tx.TemplateVersion.UpdateOneID(id).
			SetParsedBlobKey(parsedBlobKey).
			SetContentHash(contentHash).
			SetParsingStatus(templateversion.ParsingStatusCompleted).
			SetIsImmutable(true).
			Save(ctx)
		return err
	})
	return out, err
}

// MarkTemplateVersionFailed records a parsing failure; the row is left
// mutable so a retried parse job may still write to it.
func (s *Store) MarkTemplateVersionFailed(ctx context.Context, id, parsingError string) (*ent.TemplateVersion, error) {
	var out *ent.TemplateVersion
	err := withTx(ctx, s.client, func(tx *ent.Tx) error {
		tv, err := tx.TemplateVersion.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("get template version %s: %w", id, err)
		}
		if tv.IsImmutable {
			return apperrors.ErrImmutabilityViolation(id)
		}
		out, err = tx.TemplateVersion.UpdateOneID(id).
			SetParsingStatus(templateversion.ParsingStatusFailed).
			SetParsingError(parsingError).
			Save(ctx)
		return err
	})
	return out, err
}

// SectionInput is one classified section to create under a TemplateVersion.
type SectionInput struct {
	ID             int
	StructuralPath string
	SectionType    section.SectionType
	PromptConfig   map[string]interface{}
	SequenceOrder  int
}

// CreateSections bulk-creates the classified Section rows for a
// TemplateVersion, then marks all of them immutable in the same
// transaction — classification is all-or-nothing per version.
func (s *Store) CreateSections(ctx context.Context, templateVersionID string, inputs []SectionInput) ([]*ent.Section, error) {
	var out []*ent.Section
	err := withTx(ctx, s.client, func(tx *ent.Tx) error {
		creates := make([]*ent.SectionCreate, 0, len(inputs))
		for _, in := range inputs {
			c := tx.Section.Create().
				SetID(in.ID).
				SetTemplateVersionID(templateVersionID).
				SetStructuralPath(in.StructuralPath).
				SetSectionType(in.SectionType).
				SetSequenceOrder(in.SequenceOrder)
			if in.PromptConfig != nil {
				c = c.SetPromptConfig(in.PromptConfig)
			}
			creates = append(creates, c)
		}
		created, err := tx.Section.CreateBulk(creates...).Save(ctx)
		if err != nil {
			return fmt.Errorf("create sections: %w", err)
		}
		ids := make([]int, len(created))
		for i, sec := range created {
			ids[i] = sec.ID
		}
		if _, err := tx.Section.Update().
			Where(section.IDIn(ids...)).
			SetIsImmutable(true).
			Save(ctx); err != nil {
			return fmt.Errorf("mark sections immutable: %w", err)
		}
		out = created
		for i := range out {
			out[i].IsImmutable = true
		}
		return nil
	})
	return out, err
}

// SectionsByTemplateVersion returns a version's sections ordered by
// sequence_order.
func (s *Store) SectionsByTemplateVersion(ctx context.Context, templateVersionID string) ([]*ent.Section, error) {
	return s.client.Section.Query().
		Where(section.TemplateVersionIDEQ(templateVersionID)).
		Order(ent.Asc(section.FieldSequenceOrder)).
		All(ctx)
}

// GetSection fetches a single Section by id.
func (s *Store) GetSection(ctx context.Context, id int) (*ent.Section, error) {
	return s.client.Section.Get(ctx, id)
}
