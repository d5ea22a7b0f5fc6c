package keypool

import (
	"net/http"
	"time"

	"github.com/eternisai/content-planner-proxy/internal/config"
)

// Strategy selects how the executor reacts to a retryable failure.
type Strategy string

const (
	// StrategyBackoff keeps one key per request and retries it with a doubling delay.
	StrategyBackoff Strategy = "backoff"

	// StrategyRotate moves to the next key after every failure, trying each key at most once.
	StrategyRotate Strategy = "rotate"
)

const (
	defaultBackoffAttempts = 5
	defaultMultiplier      = 2.0
)

// RetryPolicy bounds the attempts made for a single request.
type RetryPolicy struct {
	Strategy Strategy

	// MaxAttempts is the attempt ceiling for pool keys. For StrategyRotate zero (or anything
	// above the pool size) means one attempt per key.
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// PolicyFromConfig converts a configured retry policy.
func PolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	strategy := StrategyBackoff
	if cfg.Strategy == config.StrategyRotate {
		strategy = StrategyRotate
	}

	return RetryPolicy{
		Strategy:     strategy,
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: cfg.InitialDelay,
		Multiplier:   defaultMultiplier,
		MaxDelay:     cfg.MaxDelay,
	}
}

func (p RetryPolicy) attempts(poolSize int) int {
	if p.Strategy == StrategyRotate {
		if p.MaxAttempts <= 0 || p.MaxAttempts > poolSize {
			return poolSize
		}
		return p.MaxAttempts
	}

	if p.MaxAttempts <= 0 {
		return defaultBackoffAttempts
	}
	return p.MaxAttempts
}

func (p RetryPolicy) nextDelay(d time.Duration) time.Duration {
	m := p.Multiplier
	if m <= 1 {
		m = defaultMultiplier
	}

	next := time.Duration(float64(d) * m)
	if p.MaxDelay > 0 && next > p.MaxDelay {
		return p.MaxDelay
	}
	return next
}

// Outcome classifies a single attempt.
type Outcome int

const (
	// Success ends the request.
	Success Outcome = iota
	// Retryable lets the executor try again according to the policy.
	Retryable
	// Fatal stops immediately and surfaces the upstream error.
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// Classify maps an upstream HTTP status to an Outcome for the given strategy.
// Status 0 stands for a transport error and is always retryable.
func Classify(strategy Strategy, status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return Success
	case status == 0:
		return Retryable
	case strategy == StrategyRotate:
		// Any failure may be key-specific (quota, revoked key), so the next key gets a chance.
		return Retryable
	}

	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return Retryable
	default:
		return Fatal
	}
}
