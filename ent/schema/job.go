package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Job holds the schema definition for the Job entity (§3, C8): a durable
// scheduler unit. Status transitions are restricted to
// pending→running→{completed|failed}; anything else is invalid_transition.
type Job struct {
	ent.Schema
}

// Mixin of the Job.
func (Job) Mixin() []ent.Mixin {
	return []ent.Mixin{
		TimeMixin{},
	}
}

// Fields of the Job.
func (Job) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.Enum("job_type").
			Values("parse", "classify", "generate").
			Immutable(),
		field.Enum("status").
			Values("pending", "running", "completed", "failed").
			Default("pending"),
		field.JSON("payload", map[string]interface{}{}).
			Immutable(),
		field.JSON("result", map[string]interface{}{}).
			Optional(),
		field.String("error").
			Optional(),
		field.String("worker_id").
			Optional(),
		field.Time("started_at").
			Optional().
			Nillable(),
		field.Time("completed_at").
			Optional().
			Nillable(),
	}
}

// Indexes of the Job.
func (Job) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("status", "created_at"),
		index.Fields("job_type"),
	}
}
