package config

import (
	"errors"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	GinMode string

	// Gemini key pool and retry policies. GeminiFile holds optional YAML overrides that are
	// merged into Gemini by LoadConfigFile.
	Gemini     *GeminiConfig     `yaml:"-"`
	GeminiFile *GeminiFileConfig `yaml:"gemini"`

	// Firebase web client configuration (served to the frontend as-is)
	FirebaseAPIKey            string
	FirebaseAuthDomain        string
	FirebaseProjectID         string
	FirebaseStorageBucket     string
	FirebaseMessagingSenderID string
	FirebaseAppID             string

	// Firebase Admin / service account
	FirebaseServiceAccountKey string
	ValidatorType             string // "jwk" or "firebase"
	JWTJWKSURL                string
	JWKSRefreshSchedule       string
	TokenPrewarmSchedule      string

	// Document store
	DocstoreBackend string // "rest" or "sdk"
	FirestoreURL    string

	// Tripay
	TripayAPIURL        string
	TripayAPIKey        string
	TripayPrivateKey    string
	TripayMerchantCode  string
	TripayCallbackURL   string
	TripayPaymentMethod string

	// Stripe
	StripeSecretKey      string
	StripeWebhookSecret  string
	StripePremiumPriceID string

	// Rate Limiting
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// HTTP Transport Connection Pool
	ProxyMaxIdleConns        int
	ProxyMaxIdleConnsPerHost int
	ProxyIdleConnTimeout     int // in seconds
	UpstreamTimeoutSeconds   int

	// Server
	ServerShutdownTimeoutSeconds int

	// CORS
	CORSAllowedOrigins string

	// Logging
	LogLevel  string
	LogFormat string
}

var (
	AppConfig *Config

	DefaultGeminiInitialBackoff = 1500 * time.Millisecond
	DefaultGeminiMaxBackoff     = 30 * time.Second
)

const (
	DefaultJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"

	// maxSecondaryKeys bounds the GEMINI_API_KEY_SECONDARY_<n> scan.
	maxSecondaryKeys = 64
)

func LoadConfig() {
	// Load .env file if it exists
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	AppConfig = Load()

	// Optional YAML overrides for the Gemini section.
	configFilePath := getEnvOrDefault("CONFIG_FILE", "config.yaml")
	configFile, err := os.Open(configFilePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Fatalf("Failed to open config file: %v", err)
		}
		log.Printf("No config file at %s, using environment only", configFilePath)
	} else {
		defer configFile.Close()
		log.Printf("Loading config file: %v", configFilePath)
		if err := LoadConfigFile(configFile, AppConfig); err != nil {
			log.Fatalf("Failed to load config file: %v", err)
		}
	}

	if len(AppConfig.Gemini.APIKeys) == 0 {
		log.Println("Warning: no Gemini API keys configured. Set GEMINI_API_KEY_PRIMARY and/or GEMINI_API_KEY_SECONDARY_<n>.")
	} else {
		log.Printf("Gemini key pool loaded: %d keys, model=%s", len(AppConfig.Gemini.APIKeys), AppConfig.Gemini.Model)
	}

	if AppConfig.FirebaseProjectID == "" {
		log.Println("Warning: Firebase project ID is missing. Please set FIREBASE_PROJECT_ID environment variable.")
	}

	if AppConfig.FirebaseServiceAccountKey == "" {
		log.Println("Warning: FIREBASE_SERVICE_ACCOUNT_KEY is missing. Document store writes will fail.")
	}

	if AppConfig.TripayAPIKey == "" || AppConfig.TripayPrivateKey == "" || AppConfig.TripayMerchantCode == "" {
		log.Println("Warning: Tripay credentials are missing. Please set TRIPAY_API_KEY, TRIPAY_PRIVATE_KEY and TRIPAY_MERCHANT_CODE.")
	}

	if AppConfig.StripeSecretKey == "" || AppConfig.StripeWebhookSecret == "" {
		log.Println("Warning: Stripe credentials are missing. Stripe checkout is disabled.")
	} else {
		// Show first 12 chars of key for debugging (e.g., "sk_test_xxxx" or "sk_live_xxxx")
		keyPrefix := AppConfig.StripeSecretKey
		if len(keyPrefix) > 12 {
			keyPrefix = keyPrefix[:12] + "..."
		}
		log.Printf("Stripe configured: key=%s (length=%d), webhook_secret length=%d",
			keyPrefix, len(AppConfig.StripeSecretKey), len(AppConfig.StripeWebhookSecret))
	}

	log.Println("Firebase project ID: ", AppConfig.FirebaseProjectID)
}

// Load builds a Config from the process environment only.
func Load() *Config {
	return &Config{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		Gemini: &GeminiConfig{
			Model:   getEnvOrDefault("GEMINI_MODEL", DefaultGeminiModel),
			BaseURL: getEnvOrDefault("GEMINI_BASE_URL", DefaultGeminiBaseURL),
			APIKeys: GeminiKeysFromEnv(os.Environ()),
			Generate: RetryConfig{
				Strategy:     StrategyBackoff,
				MaxAttempts:  getEnvAsInt("GEMINI_MAX_ATTEMPTS", 5),
				InitialDelay: getEnvAsDuration("GEMINI_INITIAL_BACKOFF", DefaultGeminiInitialBackoff),
				MaxDelay:     getEnvAsDuration("GEMINI_MAX_BACKOFF", DefaultGeminiMaxBackoff),
			},
			Regenerate: RetryConfig{
				Strategy: StrategyRotate,
			},
		},

		// Firebase
		FirebaseAPIKey:            getEnvOrDefault("FIREBASE_API_KEY", ""),
		FirebaseAuthDomain:        getEnvOrDefault("FIREBASE_AUTH_DOMAIN", ""),
		FirebaseProjectID:         getEnvOrDefault("FIREBASE_PROJECT_ID", ""),
		FirebaseStorageBucket:     getEnvOrDefault("FIREBASE_STORAGE_BUCKET", ""),
		FirebaseMessagingSenderID: getEnvOrDefault("FIREBASE_MESSAGING_SENDER_ID", ""),
		FirebaseAppID:             getEnvOrDefault("FIREBASE_APP_ID", ""),

		// Validator
		FirebaseServiceAccountKey: getEnvOrDefault("FIREBASE_SERVICE_ACCOUNT_KEY", ""),
		ValidatorType:             getEnvOrDefault("VALIDATOR_TYPE", "jwk"),
		JWTJWKSURL:                getEnvOrDefault("JWT_JWKS_URL", DefaultJWKSURL),
		JWKSRefreshSchedule:       getEnvOrDefault("JWKS_REFRESH_SCHEDULE", "@every 1h"),
		TokenPrewarmSchedule:      lookupEnvOrDefault("TOKEN_PREWARM_SCHEDULE", "@every 45m"),

		// Document store
		DocstoreBackend: getEnvOrDefault("DOCSTORE_BACKEND", "rest"),
		FirestoreURL:    getEnvOrDefault("FIRESTORE_URL", "https://firestore.googleapis.com/v1"),

		// Tripay (trim whitespace to avoid common config errors)
		TripayAPIURL:        strings.TrimRight(getEnvOrDefault("TRIPAY_API_URL", "https://tripay.co.id/api-sandbox"), "/"),
		TripayAPIKey:        strings.TrimSpace(getEnvOrDefault("TRIPAY_API_KEY", "")),
		TripayPrivateKey:    strings.TrimSpace(getEnvOrDefault("TRIPAY_PRIVATE_KEY", "")),
		TripayMerchantCode:  strings.TrimSpace(getEnvOrDefault("TRIPAY_MERCHANT_CODE", "")),
		TripayCallbackURL:   getEnvOrDefault("TRIPAY_CALLBACK_URL", ""),
		TripayPaymentMethod: getEnvOrDefault("TRIPAY_PAYMENT_METHOD", "QRIS"),

		// Stripe
		StripeSecretKey:      strings.TrimSpace(getEnvOrDefault("STRIPE_SECRET_KEY", "")),
		StripeWebhookSecret:  strings.TrimSpace(getEnvOrDefault("STRIPE_WEBHOOK_SECRET", "")),
		StripePremiumPriceID: strings.TrimSpace(getEnvOrDefault("STRIPE_PREMIUM_PRICE_ID", "")),

		// Rate Limiting
		RateLimitEnabled: getEnvOrDefault("RATE_LIMIT_ENABLED", "true") == "true",
		RateLimitRPS:     getEnvFloat("RATE_LIMIT_RPS", 2),
		RateLimitBurst:   getEnvAsInt("RATE_LIMIT_BURST", 10),

		// HTTP Transport Connection Pool
		ProxyMaxIdleConns:        getEnvAsInt("PROXY_MAX_IDLE_CONNS", 100),
		ProxyMaxIdleConnsPerHost: getEnvAsInt("PROXY_MAX_IDLE_CONNS_PER_HOST", 50),
		ProxyIdleConnTimeout:     getEnvAsInt("PROXY_IDLE_CONN_TIMEOUT_SECONDS", 90),
		UpstreamTimeoutSeconds:   getEnvAsInt("UPSTREAM_TIMEOUT_SECONDS", 60),

		// Server
		ServerShutdownTimeoutSeconds: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 30),

		// CORS
		CORSAllowedOrigins: getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"),

		// Logging
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}
}

// GeminiKeysFromEnv collects the Gemini key pool from KEY=VALUE pairs.
//
// The primary key comes first, followed by GEMINI_API_KEY_SECONDARY_<n> (and the legacy
// GEMINI_KEY_SECONDARY_<n> spelling) ordered by n. Empty values are skipped.
func GeminiKeysFromEnv(environ []string) []string {
	type numbered struct {
		n   int
		key string
	}

	var primary string
	var secondary []numbered

	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		value = strings.TrimSpace(value)

		if name == "GEMINI_API_KEY_PRIMARY" {
			primary = value
			continue
		}

		var suffix string
		switch {
		case strings.HasPrefix(name, "GEMINI_API_KEY_SECONDARY_"):
			suffix = strings.TrimPrefix(name, "GEMINI_API_KEY_SECONDARY_")
		case strings.HasPrefix(name, "GEMINI_KEY_SECONDARY_"):
			suffix = strings.TrimPrefix(name, "GEMINI_KEY_SECONDARY_")
		default:
			continue
		}

		n, err := strconv.Atoi(suffix)
		if err != nil || n < 1 || n > maxSecondaryKeys {
			continue
		}
		secondary = append(secondary, numbered{n: n, key: value})
	}

	sort.SliceStable(secondary, func(i, j int) bool { return secondary[i].n < secondary[j].n })

	keys := make([]string, 0, len(secondary)+1)
	if primary != "" {
		keys = append(keys, primary)
	}
	for _, s := range secondary {
		keys = append(keys, s.key)
	}
	return keys
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// lookupEnvOrDefault is like getEnvOrDefault but keeps an explicitly empty value.
func lookupEnvOrDefault(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as time.Duration, using default %v: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as float, using default %f: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

// LoadConfigFile decodes YAML settings on top of an existing config.
func LoadConfigFile(reader io.Reader, config *Config) error {
	decoder := yaml.NewDecoder(reader)

	if err := decoder.Decode(config); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	if config.GeminiFile != nil {
		if config.Gemini == nil {
			config.Gemini = &GeminiConfig{}
		}
		config.Gemini.Apply(config.GeminiFile, os.Getenv)
	}

	return nil
}
