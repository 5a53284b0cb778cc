package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Section holds the schema definition for the Section entity (§3): a
// logical block in a TemplateVersion, classified static or dynamic.
// Immutable once its template version's classification completes.
type Section struct {
	ent.Schema
}

// Mixin of the Section.
func (Section) Mixin() []ent.Mixin {
	return []ent.Mixin{
		TimeMixin{},
		ImmutableFlagMixin{},
	}
}

// Fields of the Section.
func (Section) Fields() []ent.Field {
	return []ent.Field{
		field.Int("id").
			Unique().
			Immutable(),
		field.String("template_version_id").
			Immutable(),
		field.String("structural_path").
			NotEmpty().
			Immutable(),
		field.Enum("section_type").
			Values("static", "dynamic").
			Immutable(),
		field.JSON("prompt_config", map[string]interface{}{}).
			Optional().
			Immutable(), // dynamic sections only
		field.Int("sequence_order").
			Immutable(),
	}
}

// Edges of the Section.
func (Section) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("template_version", TemplateVersion.Type).
			Ref("sections").
			Unique().
			Required(),
	}
}

// Indexes of the Section.
func (Section) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("template_version_id", "structural_path").Unique(),
		index.Fields("template_version_id", "sequence_order"),
	}
}
