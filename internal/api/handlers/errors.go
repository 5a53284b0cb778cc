package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "docgen.io/pipeline/internal/pkg/errors"
)

// writeError maps err to its JSON error body and HTTP status: an AppError
// carries its own status and machine-readable code (§7); anything else is
// an unexpected_error, surfaced as 500 without leaking internal detail.
func writeError(c *gin.Context, err error) {
	if appErr, ok := apperrors.IsAppError(err); ok {
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusInternalServerError, apperrors.AppError{
		Code:    "UNEXPECTED_ERROR",
		Message: "an unexpected error occurred",
	})
}
