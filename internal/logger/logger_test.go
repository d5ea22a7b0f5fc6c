package logger

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestFromConfig(t *testing.T) {
	t.Setenv("APP_ENV", "")

	cfg := FromConfig("warn", "")
	assert.Equal(t, slog.LevelWarn, cfg.Level)
	assert.Equal(t, "text", cfg.Format)

	cfg = FromConfig("bogus", "json")
	assert.Equal(t, slog.LevelInfo, cfg.Level)
	assert.Equal(t, "json", cfg.Format)

	t.Setenv("APP_ENV", "production")
	assert.Equal(t, "json", FromConfig("debug", "text").Format)
}

func TestContextHelpers(t *testing.T) {
	ctx := WithUserID(context.Background(), "uid-1")
	assert.Equal(t, "uid-1", UserIDFromContext(ctx))
	assert.Equal(t, "", UserIDFromContext(context.Background()))
}

func TestRequestLoggingMiddlewareRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := New(Config{Level: slog.LevelError})

	var seen string
	router := gin.New()
	router.Use(RequestLoggingMiddleware(log))
	router.GET("/ping", func(c *gin.Context) {
		seen, _ = c.Request.Context().Value(ContextKeyRequestID).(string)
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-123", seen)
	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}
