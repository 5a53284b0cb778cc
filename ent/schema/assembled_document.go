package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// AssembledDocument holds the schema definition for the AssembledDocument
// entity (§3): the spliced block structure produced by the Assembler (C5).
// Immutable on "validated" (§4.5).
type AssembledDocument struct {
	ent.Schema
}

// Mixin of the AssembledDocument.
func (AssembledDocument) Mixin() []ent.Mixin {
	return []ent.Mixin{
		TimeMixin{},
		ImmutableFlagMixin{},
	}
}

// Fields of the AssembledDocument.
func (AssembledDocument) Fields() []ent.Field {
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
		field.String("section_output_batch_id").
			Immutable(),
		field.Enum("status").
			Values("pending", "in_progress", "completed", "failed", "validated").
			Default("pending"),
		field.String("assembly_hash").
			Optional(),
		field.Int("total_blocks").
			Default(0),
		field.Int("static_blocks_count").
			Default(0),
		field.Int("dynamic_blocks_count").
			Default(0),
		field.Int("injected_sections_count").
			Default(0),
		field.JSON("assembled_structure", map[string]interface{}{}).
			Optional(),
		field.JSON("headers", []map[string]interface{}{}).
			Optional(),
		field.JSON("footers", []map[string]interface{}{}).
			Optional(),
		field.JSON("document_metadata", map[string]interface{}{}).
			Optional(),
		field.String("error_code").
			Optional(),
		field.String("error_message").
			Optional(),
	}
}

// Indexes of the AssembledDocument.
func (AssembledDocument) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("document_id", "version_intent").Unique(),
		index.Fields("assembly_hash"),
	}
}
