package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/goccy/go-yaml"
)

const (
	DefaultGeminiModel   = "gemini-1.5-flash"
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

// RetryStrategy identifies how the key pool reacts to a retryable upstream failure.
type RetryStrategy string

const (
	// StrategyBackoff keeps the selected key and waits with doubling delay between attempts.
	StrategyBackoff RetryStrategy = "backoff"

	// StrategyRotate moves on to the next key in the pool after every failed attempt.
	StrategyRotate RetryStrategy = "rotate"
)

// Validate performs basic validation of a RetryStrategy value:
// - Checks whether the value is a known strategy
// - Replaces an empty value with the default one (StrategyBackoff)
func (s *RetryStrategy) Validate() error {
	switch *s {
	case "":
		*s = StrategyBackoff
		return nil
	case StrategyBackoff, StrategyRotate:
		return nil
	default:
		return fmt.Errorf(
			"bad RetryStrategy value: must be empty or one of %q, %q",
			string(StrategyBackoff),
			string(StrategyRotate),
		)
	}
}

// unmarshalRetryStrategyYAML implements a custom YAML unmarshaler for RetryStrategy.
// Validates the value after unmarshaling.
func unmarshalRetryStrategyYAML(value *RetryStrategy, data []byte) error {
	var strategy string

	if err := yaml.Unmarshal(data, &strategy); err != nil {
		return err
	}

	*value = RetryStrategy(strategy)

	return value.Validate()
}

// RetryConfig is the retry policy of a single endpoint calling Gemini.
type RetryConfig struct {
	Strategy RetryStrategy `yaml:"strategy"`

	// MaxAttempts is the attempt ceiling. Zero means "one attempt per pool key" for the rotate
	// strategy and 5 for the backoff strategy.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// InitialDelay is the first backoff delay; it doubles after each retryable failure.
	InitialDelay time.Duration `yaml:"initial_delay,omitempty"`

	// MaxDelay caps the doubling delay. Zero means uncapped.
	MaxDelay time.Duration `yaml:"max_delay,omitempty"`
}

// Validate checks the policy for negative values and an unknown strategy. An omitted strategy
// stays empty so that merging keeps the endpoint's default.
func (cfg *RetryConfig) Validate() error {
	if cfg.Strategy != "" {
		if err := cfg.Strategy.Validate(); err != nil {
			return err
		}
	}

	if cfg.MaxAttempts < 0 {
		return errors.New("max_attempts must not be negative")
	}

	if cfg.InitialDelay < 0 || cfg.MaxDelay < 0 {
		return errors.New("retry delays must not be negative")
	}

	return nil
}

// merge copies the non-zero fields of override into cfg.
func (cfg *RetryConfig) merge(override *RetryConfig) {
	if override.Strategy != "" {
		cfg.Strategy = override.Strategy
	}
	if override.MaxAttempts != 0 {
		cfg.MaxAttempts = override.MaxAttempts
	}
	if override.InitialDelay != 0 {
		cfg.InitialDelay = override.InitialDelay
	}
	if override.MaxDelay != 0 {
		cfg.MaxDelay = override.MaxDelay
	}
}

// GeminiConfig is the effective Gemini configuration.
type GeminiConfig struct {
	Model   string
	BaseURL string

	// APIKeys is the ordered key pool. Keys never come from the config file itself, only from
	// the environment variables named there or discovered by GeminiKeysFromEnv.
	APIKeys []string

	Generate   RetryConfig
	Regenerate RetryConfig
}

// GeminiFileConfig is the `gemini` section of the YAML config file. Every field is optional
// and overrides the environment-derived value when present.
type GeminiFileConfig struct {
	Model   string `yaml:"model,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`

	// KeyEnvVars lists the environment variables holding pool keys, in pool order.
	KeyEnvVars []string `yaml:"key_env_vars,omitempty"`

	Generate   *RetryConfig `yaml:"generate,omitempty"`
	Regenerate *RetryConfig `yaml:"regenerate,omitempty"`
}

// Validate performs validation of a GeminiFileConfig value:
// - Verifies BaseURL is a valid URL
// - Validates the retry policies
func (cfg *GeminiFileConfig) Validate() error {
	if err := validateURLString(cfg.BaseURL); err != nil {
		return err
	}

	for _, name := range cfg.KeyEnvVars {
		if name == "" {
			return errors.New("empty entry in gemini.key_env_vars")
		}
	}

	if cfg.Generate != nil {
		if err := cfg.Generate.Validate(); err != nil {
			return fmt.Errorf("gemini.generate: %w", err)
		}
	}

	if cfg.Regenerate != nil {
		if err := cfg.Regenerate.Validate(); err != nil {
			return fmt.Errorf("gemini.regenerate: %w", err)
		}
	}

	return nil
}

// unmarshalGeminiFileConfig implements a custom YAML unmarshaler for GeminiFileConfig.
// Validates the value after unmarshaling.
func unmarshalGeminiFileConfig(value *GeminiFileConfig, data []byte) error {
	type Aux GeminiFileConfig
	var aux Aux

	if err := yaml.Unmarshal(data, &aux); err != nil {
		return err
	}

	*value = GeminiFileConfig(aux)

	return value.Validate()
}

// Apply merges file overrides into the effective configuration. getenv resolves KeyEnvVars.
func (cfg *GeminiConfig) Apply(file *GeminiFileConfig, getenv func(string) string) {
	if file.Model != "" {
		cfg.Model = file.Model
	}

	if file.BaseURL != "" {
		cfg.BaseURL = file.BaseURL
	}

	if len(file.KeyEnvVars) > 0 {
		keys := make([]string, 0, len(file.KeyEnvVars))
		for _, name := range file.KeyEnvVars {
			if key := getenv(name); key != "" {
				keys = append(keys, key)
			}
		}
		cfg.APIKeys = keys
	}

	if file.Generate != nil {
		cfg.Generate.merge(file.Generate)
	}

	if file.Regenerate != nil {
		cfg.Regenerate.merge(file.Regenerate)
	}
}

func init() {
	// Register unmarshalers of custom types with the YAML library
	yaml.RegisterCustomUnmarshaler[RetryStrategy](unmarshalRetryStrategyYAML)
	yaml.RegisterCustomUnmarshaler[GeminiFileConfig](unmarshalGeminiFileConfig)
}

// validateURLString performs basic sanity checks of a string that should contain a valid URL.
// Empty strings are ignored.
func validateURLString(str string) error {
	if str == "" {
		return nil
	}

	u, err := url.Parse(str)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("unsupported URL scheme: %q", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL does not contain a hostname")
	}

	return nil
}
