package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// SectionOutputBatch holds the schema definition for the
// SectionOutputBatch entity (§3): the result set keyed 1:1 to an input
// batch. Immutable once status reaches "completed" (§4.4).
type SectionOutputBatch struct {
	ent.Schema
}

// Mixin of the SectionOutputBatch.
func (SectionOutputBatch) Mixin() []ent.Mixin {
	return []ent.Mixin{
		TimeMixin{},
		ImmutableFlagMixin{},
	}
}

// Fields of the SectionOutputBatch.
func (SectionOutputBatch) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("input_batch_id").
			Unique().
			Immutable(),
		field.String("document_id").
			Immutable(),
		field.Int("version_intent").
			Immutable(),
		field.Enum("status").
			Values("pending", "in_progress", "completed", "failed").
			Default("pending"),
		field.Int("total_sections").
			Default(0),
		field.Int("completed_sections").
			Default(0),
		field.Int("failed_sections").
			Default(0),
	}
}

// Edges of the SectionOutputBatch.
func (SectionOutputBatch) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("outputs", SectionOutput.Type),
	}
}

// Indexes of the SectionOutputBatch.
func (SectionOutputBatch) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("document_id", "version_intent"),
	}
}
