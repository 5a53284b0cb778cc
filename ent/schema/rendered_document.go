package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// RenderedDocument holds the schema definition for the RenderedDocument
// entity (§3): the binary artifact produced by the Renderer Adapter (C6).
// Immutable on "validated", set only after a successful reload-and-compare
// against the object store (§4.6).
type RenderedDocument struct {
	ent.Schema
}

// Mixin of the RenderedDocument.
func (RenderedDocument) Mixin() []ent.Mixin {
	return []ent.Mixin{
		TimeMixin{},
		ImmutableFlagMixin{},
	}
}

// Fields of the RenderedDocument.
func (RenderedDocument) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("assembled_document_id").
			Immutable(),
		field.String("document_id").
			Immutable(),
		field.Int("version").
			Immutable(),
		field.Enum("status").
			Values("pending", "in_progress", "completed", "failed", "validated").
			Default("pending"),
		field.String("output_blob_key").
			Optional(),
		field.String("content_hash").
			Optional(),
		field.Int64("file_size").
			Default(0),
		field.JSON("block_type_counts", map[string]int{}).
			Optional(),
		field.String("error_code").
			Optional(),
		field.String("error_message").
			Optional(),
	}
}

// Indexes of the RenderedDocument.
func (RenderedDocument) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("document_id", "version").Unique(),
		index.Fields("content_hash"),
	}
}
