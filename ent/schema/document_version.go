package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// DocumentVersion holds the schema definition for the DocumentVersion
// entity (§3): one finalized version of a Document. Immutable on creation.
type DocumentVersion struct {
	ent.Schema
}

// Mixin of the DocumentVersion.
func (DocumentVersion) Mixin() []ent.Mixin {
	return []ent.Mixin{
		AuditMixin{}, // immutable on creation: created_at only
	}
}

// Fields of the DocumentVersion.
func (DocumentVersion) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("document_id").
			Immutable(),
		field.Int("version_number").
			Immutable(), // unique per document, ascending from 1
		field.String("rendered_blob_key").
			NotEmpty().
			Immutable(),
		field.JSON("generation_metadata", map[string]interface{}{}).
			Optional().
			Immutable(),
	}
}

// Edges of the DocumentVersion.
func (DocumentVersion) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("document", Document.Type).
			Ref("versions").
			Unique().
			Required(),
	}
}

// Indexes of the DocumentVersion.
func (DocumentVersion) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("document_id", "version_number").Unique(),
	}
}
