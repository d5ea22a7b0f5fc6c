package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/eternisai/content-planner-proxy/internal/auth"
	apierrors "github.com/eternisai/content-planner-proxy/internal/errors"
	"github.com/eternisai/content-planner-proxy/internal/gemini"
	"github.com/eternisai/content-planner-proxy/internal/keypool"
	"github.com/eternisai/content-planner-proxy/internal/logger"
	"github.com/gin-gonic/gin"
)

const busyMessage = "AI model is busy, please try again later"

// Handler serves the content planner's AI endpoints.
type Handler struct {
	client     *gemini.Client
	generate   *keypool.Executor
	regenerate *keypool.Executor
	ideaSchema json.RawMessage
	logger     *logger.Logger
}

// NewHandler creates the handler. generate and regenerate share one key pool but carry
// their own retry policies.
func NewHandler(client *gemini.Client, generate, regenerate *keypool.Executor, log *logger.Logger) (*Handler, error) {
	schema, err := IdeaSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to build idea schema: %w", err)
	}

	return &Handler{
		client:     client,
		generate:   generate,
		regenerate: regenerate,
		ideaSchema: schema,
		logger:     log.WithComponent("planner"),
	}, nil
}

// GenerateRequest is the body of POST /api/generate.
type GenerateRequest struct {
	Prompt string          `json:"prompt"`
	IsJSON bool            `json:"isJson"`
	Schema json.RawMessage `json:"schema,omitempty"`
}

// Generate handles POST /api/generate
// Sends a free-form prompt to Gemini using the backoff retry policy.
//
// Request body:
//
//	{"prompt": "...", "isJson": true, "schema": {...}}
//
// The response body is the model's text as-is (a JSON document when isJson is set),
// or {} when the model returned nothing.
func (h *Handler) Generate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, "Invalid request body", map[string]interface{}{"reason": err.Error()})
		return
	}

	if strings.TrimSpace(req.Prompt) == "" {
		apierrors.AbortWithBadRequest(c, "Prompt must not be empty", nil)
		return
	}

	var schema json.RawMessage
	if req.IsJSON && len(req.Schema) > 0 && string(req.Schema) != "null" {
		schema = req.Schema
	}

	h.run(c, h.generate, gemini.NewTextRequest(req.Prompt, schema))
}

// RegenerateRequest is the body of POST /api/regenerate.
type RegenerateRequest struct {
	ItemToReplace *Idea        `json:"itemToReplace"`
	Context       *PlanContext `json:"context"`
}

// Regenerate handles POST /api/regenerate
// Replaces one idea of a plan with a new one, rotating through the key pool on failure.
//
// Request body:
//
//	{"itemToReplace": {"day": "...", "platform": "...", ...}, "context": {...}}
//
// Response: a single idea object.
func (h *Handler) Regenerate(c *gin.Context) {
	var req RegenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, "Invalid request body", map[string]interface{}{"reason": err.Error()})
		return
	}

	if req.ItemToReplace == nil || req.Context == nil {
		apierrors.AbortWithBadRequest(c, "itemToReplace and context are required", nil)
		return
	}

	prompt := BuildRegeneratePrompt(*req.ItemToReplace, *req.Context)
	h.run(c, h.regenerate, gemini.NewTextRequest(prompt, h.ideaSchema))
}

func (h *Handler) run(c *gin.Context, exec *keypool.Executor, req *gemini.GenerateRequest) {
	ctx := c.Request.Context()
	userID, _ := auth.GetUserID(c)

	resp, err := h.client.Generate(ctx, exec, userID, req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.Data(http.StatusOK, "application/json", []byte(resp.Text()))
}

func (h *Handler) writeError(c *gin.Context, err error) {
	log := h.logger.WithContext(c.Request.Context())

	var exhausted *keypool.ExhaustedError
	var apiErr *gemini.APIError

	switch {
	case errors.Is(err, keypool.ErrEmptyPool):
		log.Error("no Gemini API keys configured")
		apierrors.AbortWithInternal(c, "No Gemini API keys are configured on the server", nil)

	case errors.As(err, &exhausted):
		log.Warn("key pool exhausted",
			slog.Int("attempts", exhausted.Attempts),
			slog.Int("last_status", exhausted.LastStatus))
		if exhausted.LastStatus == http.StatusTooManyRequests {
			apierrors.AbortWithRateLimit(c, apierrors.UpstreamQuotaExhausted())
			return
		}
		apierrors.AbortWithInternal(c, busyMessage, nil)

	case errors.As(err, &apiErr):
		log.Warn("gemini rejected request",
			slog.Int("status", apiErr.Status),
			slog.String("reason", apiErr.Reason))
		apierrors.AbortWithUpstream(c, apiErr.Status, apiErr.Message, nil)

	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("gemini request timed out")
		apierrors.AbortWithUpstream(c, http.StatusGatewayTimeout, busyMessage, nil)

	default:
		log.Error("gemini request failed", slog.String("error", err.Error()))
		apierrors.AbortWithInternal(c, "Internal server error", nil)
	}
}
