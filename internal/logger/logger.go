package logger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// instanceID identifies this server instance in every log record.
var instanceID string

func init() {
	// Cloud Run sets K_REVISION, Kubernetes sets HOSTNAME.
	for _, name := range []string{"INSTANCE_ID", "K_REVISION", "HOSTNAME"} {
		if instanceID = os.Getenv(name); instanceID != "" {
			return
		}
	}

	b := make([]byte, 4)
	rand.Read(b)
	instanceID = hex.EncodeToString(b)
}

// GetInstanceID returns the instance ID for this server.
func GetInstanceID() string {
	return instanceID
}

// Config holds the configuration of the logger.
type Config struct {
	Level  slog.Level
	Format string
}

// contextKey is used for context values.
type contextKey string

const (
	// ContextKeyRequestID is the key for request ID in the context.
	ContextKeyRequestID contextKey = "request_id"
	// ContextKeyUserID is the key for the Firebase UID in the context.
	ContextKeyUserID contextKey = "user_id"
	// ContextKeyOperation is the key for operation name in the context.
	ContextKeyOperation contextKey = "operation"
)

// Logger wraps slog.Logger.
type Logger struct {
	*slog.Logger
}

// New creates a new logger with the given config.
func New(config Config) *Logger {
	var handler slog.Handler

	if config.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     config.Level,
			AddSource: true,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					return slog.String(a.Key, a.Value.Time().Format(time.RFC3339))
				}
				return a
			},
		})
	} else {
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      config.Level,
			AddSource:  true,
			TimeFormat: time.Kitchen,
		})
	}

	return &Logger{
		Logger: slog.New(handler).With(slog.String("instance_id", instanceID)),
	}
}

// FromConfig creates a logger configuration from the main config.
func FromConfig(logLevel, logFormat string) Config {
	config := Config{
		Level:  slog.LevelInfo,
		Format: "text",
	}

	switch logLevel {
	case "debug":
		config.Level = slog.LevelDebug
	case "warn":
		config.Level = slog.LevelWarn
	case "error":
		config.Level = slog.LevelError
	}

	if logFormat != "" {
		config.Format = logFormat
	}

	// Use JSON format in production.
	if os.Getenv("APP_ENV") == "production" {
		config.Format = "json"
	}

	return config
}

// WithContext creates a new logger with context-specific attributes.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger

	for _, key := range []contextKey{ContextKeyRequestID, ContextKeyUserID, ContextKeyOperation} {
		if value, ok := ctx.Value(key).(string); ok && value != "" {
			logger = logger.With(slog.String(string(key), value))
		}
	}

	return &Logger{Logger: logger}
}

// WithComponent creates a new logger with a component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("component", component)),
	}
}

// LogError logs an error with additional context.
func (l *Logger) LogError(ctx context.Context, err error, msg string, args ...any) {
	allArgs := append([]any{slog.String("error", err.Error())}, args...)
	l.WithContext(ctx).Error(msg, allArgs...)
}
