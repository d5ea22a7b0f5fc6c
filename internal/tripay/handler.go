package tripay

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/eternisai/content-planner-proxy/internal/auth"
	"github.com/eternisai/content-planner-proxy/internal/docstore"
	apierrors "github.com/eternisai/content-planner-proxy/internal/errors"
	"github.com/eternisai/content-planner-proxy/internal/logger"
	"github.com/gin-gonic/gin"
)

const (
	// StatusPaid is the callback status of a settled payment.
	StatusPaid = "PAID"

	premiumSource = "tripay"
)

// Recorder receives webhook and activation events. May be nil.
type Recorder interface {
	WebhookEvent(provider, status string)
	PremiumActivated(source string)
}

// Handler serves the Tripay endpoints.
type Handler struct {
	client   *Client
	store    docstore.Store
	recorder Recorder
	now      func() time.Time
	logger   *logger.Logger
}

// NewHandler creates the Tripay handler.
func NewHandler(client *Client, store docstore.Store, recorder Recorder, log *logger.Logger) *Handler {
	return &Handler{
		client:   client,
		store:    store,
		recorder: recorder,
		now:      time.Now,
		logger:   log.WithComponent("tripay_handler"),
	}
}

// CreateTransactionRequest is the body of POST /api/create-tripay-transaction.
type CreateTransactionRequest struct {
	PlanID string `json:"planId"`
	Amount int64  `json:"amount"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	UserID string `json:"userId"`
}

// CreateTransaction handles POST /api/create-tripay-transaction
// Creates a QRIS transaction for the premium upgrade.
//
// The verified Firebase uid, when present, takes precedence over the body's userId.
//
// Response (200 OK):
//
//	{"success": true, "data": {...tripay transaction...}}
func (h *Handler) CreateTransaction(c *gin.Context) {
	ctx := c.Request.Context()
	log := h.logger.WithContext(ctx)

	var req CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, "Data transaksi tidak lengkap.", map[string]interface{}{"reason": err.Error()})
		return
	}

	if req.PlanID == "" || req.Amount <= 0 || req.Name == "" || req.Email == "" {
		apierrors.AbortWithBadRequest(c, "Data transaksi tidak lengkap.", nil)
		return
	}

	if uid, ok := auth.GetUserID(c); ok && uid != "" {
		if req.UserID != "" && req.UserID != uid {
			log.Warn("body userId differs from token uid, using token uid")
		}
		req.UserID = uid
	}

	if req.UserID == "" {
		apierrors.AbortWithBadRequest(c, "userId is required", nil)
		return
	}

	data, err := h.client.CreateTransaction(ctx, Purchase{
		PlanID: req.PlanID,
		Amount: req.Amount,
		Name:   req.Name,
		Email:  req.Email,
		Phone:  req.Phone,
		UserID: req.UserID,
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			log.Warn("tripay rejected transaction",
				slog.Int("status", apiErr.Status),
				slog.String("message", apiErr.Message))
			apierrors.AbortWithUpstream(c, apiErr.Status, apiErr.Message, nil)
			return
		}

		log.Error("failed to create tripay transaction", slog.String("error", err.Error()))
		apierrors.AbortWithInternal(c, "Terjadi kesalahan internal server", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

// Callback is the payment status notification sent by Tripay.
type Callback struct {
	Reference   string       `json:"reference"`
	MerchantRef string       `json:"merchant_ref"`
	Status      string       `json:"status"`
	TotalAmount int64        `json:"total_amount"`
	CustomField *CustomField `json:"custom_field"`
}

// Webhook handles POST /api/tripay-webhook
// The signature is checked over the raw body before anything is parsed. A PAID callback
// marks users/{custom_field.userId} as premium; other statuses are acknowledged untouched.
//
// Responses use Tripay's shape: {"success": bool, "message": "..."}.
func (h *Handler) Webhook(c *gin.Context) {
	ctx := c.Request.Context()
	log := h.logger.WithContext(ctx)

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		log.Error("failed to read callback body", slog.String("error", err.Error()))
		h.reply(c, http.StatusBadRequest, "invalid payload", "unreadable")
		return
	}

	if !VerifyCallback(h.client.PrivateKey(), body, c.GetHeader(SignatureHeader)) {
		log.Warn("tripay callback signature mismatch")
		h.reply(c, http.StatusForbidden, "Invalid signature", "invalid_signature")
		return
	}

	var cb Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		log.Warn("invalid tripay callback body", slog.String("error", err.Error()))
		h.reply(c, http.StatusBadRequest, "invalid payload", "invalid_payload")
		return
	}

	cbLog := log.With(
		slog.String("reference", cb.Reference),
		slog.String("status", cb.Status))

	if cb.Status != StatusPaid {
		cbLog.Info("tripay callback acknowledged")
		h.record(cb.Status)
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	if cb.CustomField == nil || cb.CustomField.UserID == "" {
		cbLog.Warn("paid callback without userId")
		h.reply(c, http.StatusBadRequest, "Missing userId", "missing_user")
		return
	}

	if err := h.store.MarkPremium(ctx, cb.CustomField.UserID, h.now(), premiumSource); err != nil {
		h.logger.LogError(ctx, err, "failed to mark user premium", slog.String("reference", cb.Reference))
		h.reply(c, http.StatusInternalServerError, "Failed to update user status", "store_error")
		return
	}

	cbLog.Info("premium activated", slog.String("user_id", cb.CustomField.UserID))
	h.record(cb.Status)
	if h.recorder != nil {
		h.recorder.PremiumActivated(premiumSource)
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) reply(c *gin.Context, status int, message, event string) {
	h.record(event)
	c.AbortWithStatusJSON(status, gin.H{"success": false, "message": message})
}

func (h *Handler) record(status string) {
	if h.recorder != nil {
		h.recorder.WebhookEvent(premiumSource, status)
	}
}
