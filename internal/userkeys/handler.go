package userkeys

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/eternisai/content-planner-proxy/internal/auth"
	apierrors "github.com/eternisai/content-planner-proxy/internal/errors"
	"github.com/eternisai/content-planner-proxy/internal/logger"
	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
	logger  *logger.Logger
}

func NewHandler(service *Service, log *logger.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  log.WithComponent("userkeys"),
	}
}

// SaveKeyRequest is the body of POST /api/save-key.
// APIKey is raw so a non-string value can be told apart from a missing one.
type SaveKeyRequest struct {
	APIKey json.RawMessage `json:"apiKey"`
}

// SaveKey handles POST /api/save-key
// Stores the caller's own Gemini API key, used when the shared key pool is exhausted.
//
// Request body:
//
//	{"apiKey": "AIza..."}
//
// Response:
//
//	{"message": "API Key saved successfully"}
func (h *Handler) SaveKey(c *gin.Context) {
	log := h.logger.WithContext(c.Request.Context())

	userID, ok := auth.GetUserID(c)
	if !ok {
		apierrors.AbortWithUnauthorized(c, "Unauthorized", nil)
		return
	}

	var req SaveKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, "Invalid API Key", nil)
		return
	}

	var apiKey string
	if err := json.Unmarshal(req.APIKey, &apiKey); err != nil || strings.TrimSpace(apiKey) == "" {
		apierrors.AbortWithBadRequest(c, "Invalid API Key", nil)
		return
	}

	if err := h.service.Save(c.Request.Context(), userID, strings.TrimSpace(apiKey)); err != nil {
		log.Error("failed to save user API key", "error", err.Error())
		apierrors.AbortWithInternal(c, "Failed to save API key", nil)
		return
	}

	log.Info("user API key saved")
	c.JSON(http.StatusOK, gin.H{"message": "API Key saved successfully"})
}
