package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// SectionOutput holds the schema definition for the SectionOutput entity
// (§3): one per GenerationInput, carrying the generated (or failed)
// content and its retry history. Immutable once terminal (validated or
// failed after retries exhausted, §4.3).
type SectionOutput struct {
	ent.Schema
}

// Mixin of the SectionOutput.
func (SectionOutput) Mixin() []ent.Mixin {
	return []ent.Mixin{
		TimeMixin{},
		ImmutableFlagMixin{},
	}
}

// Fields of the SectionOutput.
func (SectionOutput) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("batch_id").
			Immutable(),
		field.String("generation_input_id").
			Immutable(),
		field.Int("section_id").
			Immutable(),
		field.Int("sequence_order").
			Immutable(),
		field.Enum("status").
			Values("pending", "in_progress", "completed", "failed", "retrying", "validated").
			Default("pending"),
		field.Text("generated_content").
			Optional(),
		field.Int("content_length").
			Default(0),
		field.String("content_hash").
			Optional(),
		field.String("error_code").
			Optional(),
		field.String("failure_category").
			Optional(),
		field.Int("retry_count").
			Default(0),
		field.Int("max_retries").
			Default(0),
		field.JSON("retry_history", []map[string]interface{}{}).
			Optional(),
		field.JSON("validation_result", map[string]interface{}{}).
			Optional(),
		field.JSON("generation_metadata", map[string]interface{}{}).
			Optional(),
		field.Time("completed_at").
			Optional().
			Nillable(),
	}
}

// Edges of the SectionOutput.
func (SectionOutput) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("batch", SectionOutputBatch.Type).
			Ref("outputs").
			Unique().
			Required(),
	}
}

// Indexes of the SectionOutput.
func (SectionOutput) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("batch_id", "section_id").Unique(),
		index.Fields("batch_id", "sequence_order"),
		index.Fields("status"),
	}
}
