package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// GenerationInput holds the schema definition for the GenerationInput
// entity (§3): one per dynamic section within a GenerationInputBatch.
// Frozen (immutable) together with its parent batch on validation.
type GenerationInput struct {
	ent.Schema
}

// Mixin of the GenerationInput.
func (GenerationInput) Mixin() []ent.Mixin {
	return []ent.Mixin{
		TimeMixin{},
		ImmutableFlagMixin{},
	}
}

// Fields of the GenerationInput.
func (GenerationInput) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("batch_id").
			Immutable(),
		field.Int("section_id").
			Immutable(),
		field.Int("sequence_order").
			Immutable(),
		field.String("structural_path").
			NotEmpty().
			Immutable(),
		field.JSON("hierarchy_context", map[string]interface{}{}).
			Optional().
			Immutable(),
		field.JSON("prompt_config", map[string]interface{}{}).
			Optional().
			Immutable(),
		field.JSON("client_data", map[string]interface{}{}).
			Optional().
			Immutable(),
		field.JSON("surrounding_context", map[string]interface{}{}).
			Optional().
			Immutable(),
		field.String("input_hash").
			NotEmpty().
			Immutable(),
	}
}

// Edges of the GenerationInput.
func (GenerationInput) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("batch", GenerationInputBatch.Type).
			Ref("inputs").
			Unique().
			Required(),
	}
}

// Indexes of the GenerationInput.
func (GenerationInput) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("batch_id", "section_id").Unique(),
		index.Fields("batch_id", "sequence_order"),
	}
}
