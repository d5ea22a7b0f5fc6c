package stripe

import (
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/eternisai/content-planner-proxy/internal/auth"
	"github.com/eternisai/content-planner-proxy/internal/errors"
	"github.com/eternisai/content-planner-proxy/internal/logger"
	"github.com/gin-gonic/gin"
)

// defaultOrigin is used for redirect URLs when the request carries no Origin or Referer.
const defaultOrigin = "http://localhost:8788"

// Handler provides HTTP endpoints for Stripe integration.
// It handles two operations:
// 1. Creating Checkout Sessions for the premium upgrade (authenticated)
// 2. Processing webhook events from Stripe (public, signature-verified)
type Handler struct {
	logger  *logger.Logger
	service *Service
}

// NewHandler creates a new Stripe HTTP handler instance.
func NewHandler(service *Service, logger *logger.Logger) *Handler {
	return &Handler{
		logger:  logger.WithComponent("stripe_handler"),
		service: service,
	}
}

// CreateCheckoutSession generates a Stripe Checkout Session URL for the premium upgrade.
//
// Endpoint: POST /api/stripe/checkout
// Authentication: Required (Firebase token)
//
// Response (200 OK):
//
//	{
//	  "url": "https://checkout.stripe.com/c/pay/cs_test_..."
//	}
//
// Response (401 Unauthorized):
//
//	{
//	  "error": "unauthorized"
//	}
//
// Response (500 Internal Server Error):
//
//	{
//	  "error": "failed to create checkout session"
//	}
//
// Security:
//   - User ID is extracted from the verified token (cannot be spoofed)
//   - The price is configured server-side, clients cannot choose it
func (h *Handler) CreateCheckoutSession(c *gin.Context) {
	log := h.logger.WithContext(c.Request.Context())

	userID, ok := auth.GetUserID(c)
	if !ok || userID == "" {
		log.Error("unauthorized request - missing user ID")
		errors.Unauthorized(c, "unauthorized", nil)
		return
	}

	email, _ := auth.GetUserEmail(c)

	sessionURL, err := h.service.CreateCheckoutSession(c.Request.Context(), userID, email, checkoutOrigin(c.Request))
	if err != nil {
		log.Error("failed to create checkout session", slog.String("error", err.Error()))
		errors.Internal(c, "failed to create checkout session", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": sessionURL})
}

// checkoutOrigin picks the redirect base from the Origin header, then the scheme and host of
// the Referer, then defaultOrigin.
func checkoutOrigin(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" {
		return origin
	}

	if referer := r.Header.Get("Referer"); referer != "" {
		if u, err := url.Parse(referer); err == nil && u.Scheme != "" && u.Host != "" {
			return u.Scheme + "://" + u.Host
		}
	}

	return defaultOrigin
}

// HandleWebhook processes incoming Stripe webhook events.
//
// Endpoint: POST /api/stripe/webhook
// Authentication: None (Stripe-Signature verification)
//
// Responses:
//   - 200 {"status": "success"}: event processed or ignored
//   - 400: unreadable payload or missing signature
//   - 403: signature does not verify
//   - 500: premium activation failed, Stripe retries the delivery
//
// Testing:
// Use Stripe CLI for local testing:
//
//	stripe listen --forward-to http://localhost:8080/api/stripe/webhook
//	stripe trigger checkout.session.completed
func (h *Handler) HandleWebhook(c *gin.Context) {
	log := h.logger.WithContext(c.Request.Context())

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		log.Error("failed to read webhook payload", slog.String("error", err.Error()))
		errors.BadRequest(c, "invalid payload", nil)
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	if signature == "" {
		log.Error("missing Stripe-Signature header")
		errors.BadRequest(c, "missing signature", nil)
		return
	}

	if err := h.service.HandleWebhook(c.Request.Context(), payload, signature); err != nil {
		if stderrors.Is(err, ErrInvalidSignature) {
			log.Warn("webhook signature rejected", slog.String("error", err.Error()))
			errors.AbortWithForbidden(c, errors.InvalidSignature("stripe"))
			return
		}

		log.Error("webhook processing failed", slog.String("error", err.Error()))
		errors.Internal(c, "webhook processing failed", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
