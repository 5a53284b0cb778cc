package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"docgen.io/pipeline/ent"
	apperrors "docgen.io/pipeline/internal/pkg/errors"
)

// renderRequest is the body for POST /render.
type renderRequest struct {
	AssembledDocumentID string `json:"assembled_document_id" binding:"required"`
	DocumentID          string `json:"document_id" binding:"required"`
	Version             int    `json:"version" binding:"required"`
	ForceRerender       bool   `json:"force_rerender"`
}

type renderedDocumentView struct {
	ID          string `json:"id"`
	DocumentID  string `json:"document_id"`
	Version     int    `json:"version"`
	ContentHash string `json:"content_hash"`
	FileSize    int64  `json:"file_size"`
	Reused      bool   `json:"reused"`
}

// Render handles POST /render: 404 if the assembled document is missing,
// 400 on unmet preconditions (§6). The already-rendered/force decision
// belongs to RenderDocument itself (§4.9 stage 4) — this handler only
// looks up the prior state to report whether the response was reused, it
// does not pre-empt RenderDocument's own 409 on a forced re-render of an
// immutable version.
func (s *Server) Render(c *gin.Context) {
	var req renderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.BadRequest("INVALID_REQUEST", err.Error()))
		return
	}
	ctx := c.Request.Context()

	existing, err := s.store.RenderedByDocumentAndVersion(ctx, req.DocumentID, req.Version)
	if err != nil && !ent.IsNotFound(err) {
		writeError(c, err)
		return
	}
	wasImmutable := existing != nil && existing.IsImmutable

	assembled, err := s.store.GetAssembledDocument(ctx, req.AssembledDocumentID)
	if ent.IsNotFound(err) {
		writeError(c, apperrors.NotFound(apperrors.CodeAssembledNotFound, "assembled document not found"))
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	if assembled.DocumentID != req.DocumentID {
		writeError(c, apperrors.BadRequest(apperrors.CodeVersionMismatch, "assembled document does not belong to the requested document"))
		return
	}
	if !assembled.IsImmutable {
		writeError(c, apperrors.ErrDocumentNotImmutable(assembled.ID))
		return
	}

	rendered, err := s.renderer.RenderDocument(ctx, req.AssembledDocumentID, req.DocumentID, req.Version, req.ForceRerender)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, renderedDocumentView{
		ID:          rendered.ID,
		DocumentID:  rendered.DocumentID,
		Version:     rendered.Version,
		ContentHash: rendered.ContentHash,
		FileSize:    rendered.FileSize,
		Reused:      wasImmutable && !req.ForceRerender,
	})
}
