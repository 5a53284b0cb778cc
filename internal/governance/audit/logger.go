// Package audit implements the append-only Audit Log (C10).
//
// Audit entries are never mutated or deleted; they are the durable record
// of "what happened" for a given entity, consumed to answer questions like
// "history of document X" and to reconstruct a regeneration trail.
package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"docgen.io/pipeline/ent"
	"docgen.io/pipeline/ent/auditlog"
	"docgen.io/pipeline/internal/pkg/logger"
)

// Action names used across the pipeline stages (§4.9, §4.10).
const (
	ActionStageStarted   = "stage.started"
	ActionStageCompleted = "stage.completed"
	ActionStageFailed    = "stage.failed"
	ActionRegenerate     = "regenerate"
	ActionJobClaimed     = "job.claimed"
	ActionJobCompleted   = "job.completed"
	ActionJobFailed      = "job.failed"
)

// Logger writes audit records to the database and answers the query
// surface described in §4.10.
type Logger struct {
	client *ent.Client
}

// NewLogger creates a new audit Logger.
func NewLogger(client *ent.Client) *Logger {
	return &Logger{client: client}
}

// LogAction records an auditable action against an entity. correlationID
// may be empty for actions not tied to a multi-stage job.
func (l *Logger) LogAction(ctx context.Context, entityType, entityID, action, correlationID string, metadata map[string]interface{}) error {
	_, err := l.client.AuditLog.Create().
		SetID(generateAuditID()).
		SetEntityType(entityType).
		SetEntityID(entityID).
		SetAction(action).
		SetCorrelationID(correlationID).
		SetMetadata(metadata).
		Save(ctx)
	if err != nil {
		logger.Error("Failed to write audit log",
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// LogStage records a pipeline stage boundary event (§4.9): each stage
// emits started/completed/failed with the artifact id it produced.
func (l *Logger) LogStage(ctx context.Context, correlationID, stage, artifactID, action string, extra map[string]interface{}) error {
	metadata := map[string]interface{}{"stage": stage}
	for k, v := range extra {
		metadata[k] = v
	}
	return l.LogAction(ctx, "job", artifactID, action, correlationID, metadata)
}

// Query lists audit entries matching the given filters, newest-first by
// default (§4.10). Any of entityType, entityID, action may be empty to
// skip that filter.
type Query struct {
	EntityType string
	EntityID   string
	Action     string
	Limit      int
	Offset     int
}

// List returns audit entries matching q, ordered by created_at descending.
func (l *Logger) List(ctx context.Context, q Query) ([]*ent.AuditLog, error) {
	query := l.client.AuditLog.Query()
	if q.EntityType != "" {
		query = query.Where(auditlog.EntityTypeEQ(q.EntityType))
	}
	if q.EntityID != "" {
		query = query.Where(auditlog.EntityIDEQ(q.EntityID))
	}
	if q.Action != "" {
		query = query.Where(auditlog.ActionEQ(q.Action))
	}
	query = query.Order(ent.Desc(auditlog.FieldCreatedAt))
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	if q.Offset > 0 {
		query = query.Offset(q.Offset)
	}
	return query.All(ctx)
}

// RegenerationHistory returns the stream of regenerate entries for a
// document, newest first (§4.10).
func (l *Logger) RegenerationHistory(ctx context.Context, documentID string) ([]*ent.AuditLog, error) {
	return l.List(ctx, Query{EntityType: "document", EntityID: documentID, Action: ActionRegenerate})
}

func generateAuditID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return fmt.Sprintf("audit-%s", id.String())
}
