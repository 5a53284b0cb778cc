package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// TemplateVersion holds the schema definition for the TemplateVersion
// entity (§3): one parsed revision of a Template. Becomes effectively
// immutable once parsing_status reaches "completed".
type TemplateVersion struct {
	ent.Schema
}

// Mixin of the TemplateVersion.
func (TemplateVersion) Mixin() []ent.Mixin {
	return []ent.Mixin{
		TimeMixin{},
		ImmutableFlagMixin{},
	}
}

// Fields of the TemplateVersion.
func (TemplateVersion) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("template_id").
			Immutable(),
		field.Int("version_number").
			Immutable(), // unique per template, ascending
		field.String("source_blob_key").
			NotEmpty().
			Immutable(),
		field.String("parsed_blob_key").
			Optional(),
		field.Enum("parsing_status").
			Values("pending", "in_progress", "completed", "failed").
			Default("pending"),
		field.String("parsing_error").
			Optional(),
		field.String("content_hash").
			Optional(), // set once parsing completes
	}
}

// Edges of the TemplateVersion.
func (TemplateVersion) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("template", Template.Type).
			Ref("versions").
			Unique().
			Required(),
		edge.To("sections", Section.Type),
	}
}

// Indexes of the TemplateVersion.
func (TemplateVersion) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("template_id", "version_number").Unique(),
		index.Fields("content_hash"),
	}
}
