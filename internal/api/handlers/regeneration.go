package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"docgen.io/pipeline/internal/domain"
	apperrors "docgen.io/pipeline/internal/pkg/errors"
	"docgen.io/pipeline/internal/pipeline/regen"
)

// regenerateSectionsRequest is the body for POST /regenerate/sections.
type regenerateSectionsRequest struct {
	DocumentID     string                 `json:"document_id" binding:"required"`
	TargetSections []int                  `json:"target_sections"`
	Strategy       string                 `json:"strategy"`
	ClientData     map[string]interface{} `json:"client_data"`
}

// regenerateScopeRequest is the body for POST /regenerate/full and
// POST /regenerate/template-update, neither of which takes explicit
// targets or a strategy (§4.7: those scopes always act on every dynamic
// section).
type regenerateScopeRequest struct {
	DocumentID string                 `json:"document_id" binding:"required"`
	ClientData map[string]interface{} `json:"client_data"`
}

// sectionDecisionView is the wire shape of one regen.SectionDecision.
type sectionDecisionView struct {
	SectionID  int    `json:"section_id"`
	Regenerate bool   `json:"regenerate"`
	Reason     string `json:"reason"`
}

// regenerationResultView is the RegenerationResult wire response.
type regenerationResultView struct {
	DocumentID        string                `json:"document_id"`
	NextVersion       int                   `json:"next_version"`
	Scope             string                `json:"scope"`
	Decisions         []sectionDecisionView `json:"decisions"`
	DocumentVersionID string                `json:"document_version_id,omitempty"`
	CorrelationID     string                `json:"correlation_id"`
}

// RegenerateSections handles POST /regenerate/sections.
func (s *Server) RegenerateSections(c *gin.Context) {
	var req regenerateSectionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.BadRequest("INVALID_REQUEST", err.Error()))
		return
	}
	strategy := domain.RegenerationStrategy(req.Strategy)
	if strategy == "" {
		strategy = domain.StrategyReuseUnchanged
	}
	s.runRegeneration(c, regen.Request{
		DocumentID: req.DocumentID,
		Scope:      domain.ScopeSection,
		Strategy:   strategy,
		SectionIDs: req.TargetSections,
		ClientData: req.ClientData,
	})
}

// RegenerateFull handles POST /regenerate/full.
func (s *Server) RegenerateFull(c *gin.Context) {
	var req regenerateScopeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.BadRequest("INVALID_REQUEST", err.Error()))
		return
	}
	s.runRegeneration(c, regen.Request{
		DocumentID: req.DocumentID,
		Scope:      domain.ScopeFull,
		ClientData: req.ClientData,
	})
}

// RegenerateTemplateUpdate handles POST /regenerate/template-update.
func (s *Server) RegenerateTemplateUpdate(c *gin.Context) {
	var req regenerateScopeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.BadRequest("INVALID_REQUEST", err.Error()))
		return
	}
	s.runRegeneration(c, regen.Request{
		DocumentID: req.DocumentID,
		Scope:      domain.ScopeTemplateUpdate,
		ClientData: req.ClientData,
	})
}

// runRegeneration plans the regeneration, then drives the Coordinator
// through the sections the plan marked for regeneration, producing the
// document's next version.
func (s *Server) runRegeneration(c *gin.Context, req regen.Request) {
	ctx := c.Request.Context()
	req.CorrelationID = correlationID(c.GetHeader("X-Correlation-Id"))

	doc, err := s.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		writeError(c, apperrors.NotFound(apperrors.CodeDocumentNotFound, "document not found"))
		return
	}
	req.TemplateVersionID = doc.TemplateVersionID

	plan, err := s.planner.PlanRegeneration(ctx, req)
	if err != nil {
		writeError(c, err)
		return
	}

	// A regeneration always targets a fresh NextVersion, which never has a
	// prior RenderedDocument of its own, so forceRegenerate is always false
	// here — it only matters when re-requesting an already-rendered version.
	outcome, err := s.coordinator.GenerateVersion(ctx, doc.ID, req.TemplateVersionID, plan.NextVersion, req.ClientData, plan, false, req.CorrelationID)
	if err != nil {
		writeError(c, err)
		return
	}

	decisions := make([]sectionDecisionView, 0, len(plan.Decisions))
	for _, d := range plan.Decisions {
		decisions = append(decisions, sectionDecisionView{SectionID: d.SectionID, Regenerate: d.Regenerate, Reason: d.Reason})
	}

	c.JSON(http.StatusOK, regenerationResultView{
		DocumentID:        plan.DocumentID,
		NextVersion:       plan.NextVersion,
		Scope:             string(plan.Scope),
		Decisions:         decisions,
		DocumentVersionID: outcome.DocumentVersion.ID,
		CorrelationID:     req.CorrelationID,
	})
}

// auditEntryView is the wire shape of one ent.AuditLog row.
type auditEntryView struct {
	ID            string                 `json:"id"`
	EntityType    string                 `json:"entity_type"`
	EntityID      string                 `json:"entity_id"`
	Action        string                 `json:"action"`
	CorrelationID string                 `json:"correlation_id"`
	Metadata      map[string]interface{} `json:"metadata"`
	CreatedAt     string                 `json:"created_at"`
}

// RegenerationHistory handles GET /regeneration-history?document_id=....
func (s *Server) RegenerationHistory(c *gin.Context) {
	documentID := c.Query("document_id")
	if documentID == "" {
		writeError(c, apperrors.BadRequest("INVALID_REQUEST", "document_id query parameter is required"))
		return
	}
	entries, err := s.audit.RegenerationHistory(c.Request.Context(), documentID)
	if err != nil {
		writeError(c, err)
		return
	}
	views := make([]auditEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, auditEntryView{
			ID:            e.ID,
			EntityType:    e.EntityType,
			EntityID:      e.EntityID,
			Action:        e.Action,
			CorrelationID: e.CorrelationID,
			Metadata:      e.Metadata,
			CreatedAt:     e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	c.JSON(http.StatusOK, gin.H{"document_id": documentID, "history": views})
}
