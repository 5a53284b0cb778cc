package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// AuditLog holds the schema definition for the AuditLog entity (§3, C10).
// Append-only event log. Hard-delete and mutation are NOT allowed.
type AuditLog struct {
	ent.Schema
}

// Mixin of the AuditLog.
func (AuditLog) Mixin() []ent.Mixin {
	return []ent.Mixin{
		AuditMixin{}, // Append-only: created_at (used as timestamp) only.
	}
}

// Fields of the AuditLog.
func (AuditLog) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("entity_type").
			NotEmpty().
			Immutable(), // e.g. "document", "job", "assembled_document"
		field.String("entity_id").
			NotEmpty().
			Immutable(),
		field.String("action").
			NotEmpty().
			Immutable(), // e.g. "stage.started", "regenerate", "job.completed"
		field.String("correlation_id").
			Optional().
			Immutable(),
		field.JSON("metadata", map[string]interface{}{}).
			Optional().
			Immutable(),
	}
}

// Indexes of the AuditLog.
func (AuditLog) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("entity_type", "entity_id"),
		index.Fields("action"),
		index.Fields("correlation_id"),
		index.Fields("created_at"),
	}
}
