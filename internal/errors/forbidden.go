package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ForbiddenReason represents machine-readable reason codes for 403 errors.
type ForbiddenReason string

const (
	ReasonInvalidSignature ForbiddenReason = "invalid_signature"
)

// ForbiddenError represents a standardized 403 Forbidden response.
type ForbiddenError struct {
	Error     string                 `json:"error"`             // Technical error message (for logs)
	UIMessage string                 `json:"uiMessage"`         // User-friendly message (for UI display)
	Reason    ForbiddenReason        `json:"reason"`            // Machine-readable reason code
	Details   map[string]interface{} `json:"details,omitempty"` // Optional context data
}

// NewForbiddenError creates a new ForbiddenError with the given parameters.
func NewForbiddenError(reason ForbiddenReason, errorMsg, uiMessage string, details map[string]interface{}) *ForbiddenError {
	return &ForbiddenError{
		Error:     errorMsg,
		UIMessage: uiMessage,
		Reason:    reason,
		Details:   details,
	}
}

// AbortWithForbidden sends a 403 response with the ForbiddenError and aborts the request.
func AbortWithForbidden(c *gin.Context, err *ForbiddenError) {
	c.AbortWithStatusJSON(http.StatusForbidden, err)
}

// InvalidSignature creates a ForbiddenError for a webhook whose signature does not verify.
func InvalidSignature(provider string) *ForbiddenError {
	return NewForbiddenError(
		ReasonInvalidSignature,
		"Invalid "+provider+" signature",
		"The request could not be verified.",
		map[string]interface{}{"provider": provider},
	)
}
