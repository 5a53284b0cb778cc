package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// GenerationInputBatch holds the schema definition for the
// GenerationInputBatch entity (§3): the frozen input set for producing
// (document, version_intent). May transition pending→validated exactly
// once; on validated, is_immutable=true and all children are frozen.
type GenerationInputBatch struct {
	ent.Schema
}

// Mixin of the GenerationInputBatch.
func (GenerationInputBatch) Mixin() []ent.Mixin {
	return []ent.Mixin{
		TimeMixin{},
		ImmutableFlagMixin{},
	}
}

// Fields of the GenerationInputBatch.
func (GenerationInputBatch) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("document_id").
			Immutable(),
		field.String("template_version_id").
			Immutable(),
		field.Int("version_intent").
			Immutable(),
		field.Enum("status").
			Values("pending", "validated", "failed").
			Default("pending"),
		field.String("content_hash").
			Optional(), // set on validation
	}
}

// Edges of the GenerationInputBatch.
func (GenerationInputBatch) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("inputs", GenerationInput.Type),
	}
}

// Indexes of the GenerationInputBatch.
func (GenerationInputBatch) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("document_id", "version_intent").Unique(),
		index.Fields("content_hash"),
	}
}
