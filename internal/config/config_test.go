package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiKeysFromEnv(t *testing.T) {
	environ := []string{
		"PATH=/usr/bin",
		"GEMINI_API_KEY_SECONDARY_10=key-10",
		"GEMINI_API_KEY_SECONDARY_2=key-2",
		"GEMINI_API_KEY_PRIMARY=primary",
		"GEMINI_KEY_SECONDARY_13=key-13",
		"GEMINI_API_KEY_SECONDARY_1=key-1",
		"GEMINI_API_KEY_SECONDARY_3=",
		"GEMINI_API_KEY_SECONDARY_X=bad-suffix",
		"GEMINI_API_KEY_SECONDARY_999=out-of-range",
	}

	keys := GeminiKeysFromEnv(environ)

	assert.Equal(t, []string{"primary", "key-1", "key-2", "key-10", "key-13"}, keys)
}

func TestGeminiKeysFromEnvWithoutPrimary(t *testing.T) {
	keys := GeminiKeysFromEnv([]string{"GEMINI_API_KEY_SECONDARY_1= spaced "})

	assert.Equal(t, []string{"spaced"}, keys)
}

func TestLoadConfigFileMergesGeminiSection(t *testing.T) {
	t.Setenv("POOL_KEY_A", "a")
	t.Setenv("POOL_KEY_B", "b")

	cfg := &Config{
		Gemini: &GeminiConfig{
			Model:   DefaultGeminiModel,
			BaseURL: DefaultGeminiBaseURL,
			APIKeys: []string{"from-env"},
			Generate: RetryConfig{
				Strategy:     StrategyBackoff,
				MaxAttempts:  5,
				InitialDelay: DefaultGeminiInitialBackoff,
			},
		},
	}

	yamlDoc := `
gemini:
  model: gemini-2.0-flash
  key_env_vars: [POOL_KEY_A, POOL_KEY_MISSING, POOL_KEY_B]
  regenerate:
    strategy: rotate
    max_attempts: 3
  generate:
    strategy: backoff
    max_attempts: 2
    initial_delay: 250ms
`

	require.NoError(t, LoadConfigFile(strings.NewReader(yamlDoc), cfg))

	assert.Equal(t, "gemini-2.0-flash", cfg.Gemini.Model)
	assert.Equal(t, DefaultGeminiBaseURL, cfg.Gemini.BaseURL)
	assert.Equal(t, []string{"a", "b"}, cfg.Gemini.APIKeys)
	assert.Equal(t, StrategyRotate, cfg.Gemini.Regenerate.Strategy)
	assert.Equal(t, 3, cfg.Gemini.Regenerate.MaxAttempts)
	assert.Equal(t, 2, cfg.Gemini.Generate.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Gemini.Generate.InitialDelay)
}

func TestLoadConfigFileKeepsUnsetRetryFields(t *testing.T) {
	cfg := &Config{
		Gemini: &GeminiConfig{
			Generate: RetryConfig{
				Strategy:     StrategyBackoff,
				MaxAttempts:  5,
				InitialDelay: DefaultGeminiInitialBackoff,
				MaxDelay:     DefaultGeminiMaxBackoff,
			},
			Regenerate: RetryConfig{Strategy: StrategyRotate},
		},
	}

	yamlDoc := `
gemini:
  generate:
    max_attempts: 3
  regenerate:
    max_attempts: 4
`

	require.NoError(t, LoadConfigFile(strings.NewReader(yamlDoc), cfg))

	assert.Equal(t, RetryConfig{
		Strategy:     StrategyBackoff,
		MaxAttempts:  3,
		InitialDelay: DefaultGeminiInitialBackoff,
		MaxDelay:     DefaultGeminiMaxBackoff,
	}, cfg.Gemini.Generate)
	assert.Equal(t, RetryConfig{Strategy: StrategyRotate, MaxAttempts: 4}, cfg.Gemini.Regenerate)
}

func TestLoadConfigFileRejectsUnknownStrategy(t *testing.T) {
	cfg := &Config{Gemini: &GeminiConfig{}}

	yamlDoc := `
gemini:
  generate:
    strategy: random
`

	assert.Error(t, LoadConfigFile(strings.NewReader(yamlDoc), cfg))
}

func TestLoadConfigFileEmpty(t *testing.T) {
	cfg := &Config{Gemini: &GeminiConfig{Model: DefaultGeminiModel}}

	require.NoError(t, LoadConfigFile(strings.NewReader(""), cfg))
	assert.Equal(t, DefaultGeminiModel, cfg.Gemini.Model)
}

func TestRetryStrategyValidateDefaults(t *testing.T) {
	var s RetryStrategy
	require.NoError(t, s.Validate())
	assert.Equal(t, StrategyBackoff, s)
}

func TestTokenPrewarmScheduleCanBeDisabled(t *testing.T) {
	t.Setenv("TOKEN_PREWARM_SCHEDULE", "")
	assert.Equal(t, "", Load().TokenPrewarmSchedule)

	t.Setenv("TOKEN_PREWARM_SCHEDULE", "@every 30m")
	assert.Equal(t, "@every 30m", Load().TokenPrewarmSchedule)
}
