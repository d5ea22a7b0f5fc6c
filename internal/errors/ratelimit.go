package errors

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimitSource tells clients whether the limit was applied by this proxy or by the AI provider.
type RateLimitSource string

const (
	RateLimitSourceProxy    RateLimitSource = "proxy"
	RateLimitSourceUpstream RateLimitSource = "upstream"
)

// RateLimitError represents a standardized 429 Too Many Requests response.
type RateLimitError struct {
	Error      string          `json:"error"`
	Source     RateLimitSource `json:"source"`
	RetryAfter int64           `json:"retry_after_seconds,omitempty"`
}

// AbortWithRateLimit sends a 429 response with the RateLimitError and aborts the request.
// A Retry-After header is added when the error carries a delay.
func AbortWithRateLimit(c *gin.Context, err *RateLimitError) {
	if err.RetryAfter > 0 {
		c.Header("Retry-After", strconv.FormatInt(err.RetryAfter, 10))
	}
	c.AbortWithStatusJSON(http.StatusTooManyRequests, err)
}

// ClientRateLimited creates a RateLimitError for a client exceeding the proxy's request rate.
func ClientRateLimited(retryAfter time.Duration) *RateLimitError {
	seconds := int64(retryAfter.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return &RateLimitError{
		Error:      "Too many requests, please slow down",
		Source:     RateLimitSourceProxy,
		RetryAfter: seconds,
	}
}

// UpstreamQuotaExhausted creates a RateLimitError for a key pool where every key hit its quota.
func UpstreamQuotaExhausted() *RateLimitError {
	return &RateLimitError{
		Error:  "AI model quota exhausted, please try again later",
		Source: RateLimitSourceUpstream,
	}
}
