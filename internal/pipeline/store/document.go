package store

import (
	"context"

	"docgen.io/pipeline/ent"
	"docgen.io/pipeline/ent/documentversion"
)

// CreateDocument creates a generation target bound to a TemplateVersion,
// with current_version=0.
func (s *Store) CreateDocument(ctx context.Context, templateVersionID string) (*ent.Document, error) {
	return s.client.Document.Create().
		SetID(generateID()).
		SetTemplateVersionID(templateVersionID).
		SetCurrentVersion(0).
		Save(ctx)
}

// GetDocument fetches a Document by id.
func (s *Store) GetDocument(ctx context.Context, id string) (*ent.Document, error) {
	return s.client.Document.Get(ctx, id)
}

// UpdateDocumentCurrentVersion advances Document.current_version. Document
// carries no is_immutable flag — only current_version ever changes, and it
// only ever increases as new versions commit.
func (s *Store) UpdateDocumentCurrentVersion(ctx context.Context, documentID string, versionNumber int) (*ent.Document, error) {
	return s.client.Document.UpdateOneID(documentID).
		SetCurrentVersion(versionNumber).
		Save(ctx)
}

// CreateDocumentVersion creates a finalized DocumentVersion. Immutable on
// creation: AuditMixin gives it no update path at all.
func (s *Store) CreateDocumentVersion(ctx context.Context, documentID string, versionNumber int, renderedBlobKey string, metadata map[string]interface{}) (*ent.DocumentVersion, error) {
	c := s.client.DocumentVersion.Create().
		SetID(generateID()).
		SetDocumentID(documentID).
		SetVersionNumber(versionNumber).
		SetRenderedBlobKey(renderedBlobKey)
	if metadata != nil {
		c = c.SetGenerationMetadata(metadata)
	}
	return c.Save(ctx)
}

// DocumentVersionByDocumentAndVersion is the natural-key lookup required by
// §4.1 rule 4.
func (s *Store) DocumentVersionByDocumentAndVersion(ctx context.Context, documentID string, versionNumber int) (*ent.DocumentVersion, error) {
	return s.client.DocumentVersion.Query().
		Where(
			documentversion.DocumentIDEQ(documentID),
			documentversion.VersionNumberEQ(versionNumber),
		).
		Only(ctx)
}

// DocumentVersionsByDocument returns every version for a document in
// ascending order, used to check the contiguous-sequence invariant (§8.5).
func (s *Store) DocumentVersionsByDocument(ctx context.Context, documentID string) ([]*ent.DocumentVersion, error) {
	return s.client.DocumentVersion.Query().
		Where(documentversion.DocumentIDEQ(documentID)).
		Order(ent.Asc(documentversion.FieldVersionNumber)).
		All(ctx)
}
