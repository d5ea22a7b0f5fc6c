package tripay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/eternisai/content-planner-proxy/internal/config"
	"github.com/eternisai/content-planner-proxy/internal/logger"
)

const (
	premiumItemName = "Upgrade Akun Premium"

	maxResponseBytes = 1 << 20
)

// ErrNotConfigured is returned when the merchant credentials are missing.
var ErrNotConfigured = errors.New("tripay credentials are not configured")

// APIError is a non-2xx response from Tripay.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tripay returned %d: %s", e.Status, e.Message)
}

// OrderItem is one line of a transaction.
type OrderItem struct {
	SKU      string `json:"sku"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

// CustomField is echoed back by Tripay in the callback.
type CustomField struct {
	UserID string `json:"userId"`
}

// TransactionRequest is the body of POST /transaction/create.
type TransactionRequest struct {
	Method        string      `json:"method"`
	MerchantRef   string      `json:"merchant_ref"`
	Amount        int64       `json:"amount"`
	CustomerName  string      `json:"customer_name"`
	CustomerEmail string      `json:"customer_email"`
	CustomerPhone string      `json:"customer_phone,omitempty"`
	CallbackURL   string      `json:"callback_url,omitempty"`
	OrderItems    []OrderItem `json:"order_items"`
	Signature     string      `json:"signature"`
	CustomField   CustomField `json:"custom_field"`
}

// Purchase is what a user buys: the premium upgrade for a plan.
type Purchase struct {
	PlanID string
	Amount int64
	Name   string
	Email  string
	Phone  string
	UserID string
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client creates closed-payment transactions.
type Client struct {
	baseURL      string
	apiKey       string
	privateKey   string
	merchantCode string
	callbackURL  string
	method       string
	httpClient   *http.Client
	now          func() time.Time
	logger       *logger.Logger
}

// NewClient creates a Tripay client from the application config.
func NewClient(cfg *config.Config, httpClient *http.Client, log *logger.Logger) *Client {
	return &Client{
		baseURL:      cfg.TripayAPIURL,
		apiKey:       cfg.TripayAPIKey,
		privateKey:   cfg.TripayPrivateKey,
		merchantCode: cfg.TripayMerchantCode,
		callbackURL:  cfg.TripayCallbackURL,
		method:       cfg.TripayPaymentMethod,
		httpClient:   httpClient,
		now:          time.Now,
		logger:       log.WithComponent("tripay"),
	}
}

// PrivateKey returns the key callbacks are signed with.
func (c *Client) PrivateKey() string {
	return c.privateKey
}

// MerchantRef builds the merchant reference of a purchase made at t.
func MerchantRef(userID string, t time.Time) string {
	return "TX-" + userID + "-" + strconv.FormatInt(t.UnixMilli(), 10)
}

// NewTransactionRequest builds the signed request for p.
func (c *Client) NewTransactionRequest(p Purchase) *TransactionRequest {
	ref := MerchantRef(p.UserID, c.now())

	return &TransactionRequest{
		Method:        c.method,
		MerchantRef:   ref,
		Amount:        p.Amount,
		CustomerName:  p.Name,
		CustomerEmail: p.Email,
		CustomerPhone: p.Phone,
		CallbackURL:   c.callbackURL,
		OrderItems: []OrderItem{{
			SKU:      p.PlanID,
			Name:     premiumItemName,
			Price:    p.Amount,
			Quantity: 1,
		}},
		Signature:   TransactionSignature(c.privateKey, c.merchantCode, ref, p.Amount),
		CustomField: CustomField{UserID: p.UserID},
	}
}

// CreateTransaction creates a transaction and returns Tripay's `data` object unchanged.
func (c *Client) CreateTransaction(ctx context.Context, p Purchase) (json.RawMessage, error) {
	if c.apiKey == "" || c.privateKey == "" || c.merchantCode == "" {
		return nil, ErrNotConfigured
	}

	req := c.NewTransactionRequest(p)
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transaction/create", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call tripay: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read tripay response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(data, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := env.Message
		if decodeErr != nil || msg == "" {
			msg = "Gagal membuat transaksi di Tripay."
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}

	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode tripay response: %w", decodeErr)
	}

	c.logger.WithContext(ctx).Info("tripay transaction created",
		slog.String("merchant_ref", req.MerchantRef),
		slog.String("plan_id", p.PlanID))

	return env.Data, nil
}
