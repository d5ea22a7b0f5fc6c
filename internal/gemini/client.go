package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/eternisai/content-planner-proxy/internal/config"
	"github.com/eternisai/content-planner-proxy/internal/keypool"
	"github.com/eternisai/content-planner-proxy/internal/logger"
)

const maxResponseBytes = 8 << 20

// APIError is a non-2xx answer from the Gemini API.
type APIError struct {
	Status  int
	Message string
	Reason  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini returned %d: %s", e.Status, e.Message)
}

// StatusCode implements keypool.StatusCoder.
func (e *APIError) StatusCode() int {
	return e.Status
}

// Client calls models/{model}:generateContent.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a Gemini client.
func NewClient(cfg *config.GeminiConfig, httpClient *http.Client, log *logger.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		httpClient: httpClient,
		logger:     log.WithComponent("gemini"),
	}
}

// GenerateContent sends one request with the given API key.
// The key travels in the x-goog-api-key header so it never shows up in URLs or access logs.
func (c *Client) GenerateContent(ctx context.Context, apiKey string, req *GenerateRequest) (*GenerateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read gemini response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: "Gemini API error"}

		var env errorEnvelope
		if json.Unmarshal(respBody, &env) == nil && env.Error.Message != "" {
			apiErr.Message = env.Error.Message
			apiErr.Reason = env.Error.Status
		}
		return nil, apiErr
	}

	var out GenerateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to decode gemini response: %w", err)
	}

	return &out, nil
}

// Generate runs req through the executor's key pool and retry policy.
func (c *Client) Generate(ctx context.Context, exec *keypool.Executor, userID string, req *GenerateRequest) (*GenerateResponse, error) {
	strategy := exec.Policy().Strategy

	var out *GenerateResponse
	res, err := exec.Do(ctx, userID, func(ctx context.Context, cred keypool.Credential) (keypool.Outcome, error) {
		resp, err := c.GenerateContent(ctx, cred.Key, req)
		if err == nil {
			out = resp
			return keypool.Success, nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return keypool.Classify(strategy, apiErr.Status), err
		}

		if ctx.Err() == nil && !isDecodeError(err) {
			// Transport failure.
			return keypool.Retryable, err
		}
		return keypool.Fatal, err
	})
	if err != nil {
		return nil, err
	}

	log := c.logger.WithContext(ctx)
	args := []any{
		slog.String("strategy", string(strategy)),
		slog.String("key_source", string(res.Credential.Source)),
		slog.Int("key_index", res.Credential.Index),
		slog.Int("attempts", res.Attempts),
	}
	if out.UsageMetadata != nil {
		args = append(args, slog.Int("total_tokens", out.UsageMetadata.TotalTokenCount))
	}
	log.Info("gemini request completed", args...)

	return out, nil
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
