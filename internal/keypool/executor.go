package keypool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eternisai/content-planner-proxy/internal/logger"
)

// ErrExhausted is matched (errors.Is) by every *ExhaustedError.
var ErrExhausted = errors.New("all API key attempts failed")

// Source tells where a credential came from.
type Source string

const (
	SourcePool Source = "pool"
	SourceUser Source = "user"
)

// Credential is the key handed to an attempt. Index is -1 for a per-user key.
type Credential struct {
	Key    string
	Index  int
	Source Source
}

// Result describes a finished Do call.
type Result struct {
	Credential Credential
	Attempts   int
}

// AttemptFunc performs one upstream call with the given credential.
type AttemptFunc func(ctx context.Context, cred Credential) (Outcome, error)

// StatusCoder is implemented by upstream errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// ExhaustedError is returned when the attempt ceiling was reached without success.
type ExhaustedError struct {
	Attempts   int
	LastStatus int // 0 when the last failure was a transport error
	Err        error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts (last status %d): %v", ErrExhausted, e.Attempts, e.LastStatus, e.Err)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Err}
}

// UserKeyLookup resolves a per-user fallback key. An empty key with a nil error means the
// user has none.
type UserKeyLookup interface {
	UserKey(ctx context.Context, userID string) (string, error)
}

// Observer receives one call per attempt. The metrics package implements it.
type Observer interface {
	ObserveAttempt(strategy Strategy, source Source, outcome Outcome)
	ObserveExhausted(strategy Strategy)
}

// Option configures an Executor.
type Option func(*Executor)

// WithSleep replaces the context-aware wait between backoff attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		e.sleep = sleep
	}
}

// WithObserver attaches attempt instrumentation.
func WithObserver(observer Observer) Option {
	return func(e *Executor) {
		e.observer = observer
	}
}

// Executor runs upstream calls through a Pool under a RetryPolicy.
type Executor struct {
	pool     *Pool
	policy   RetryPolicy
	userKeys UserKeyLookup
	sleep    func(ctx context.Context, d time.Duration) error
	observer Observer
	logger   *logger.Logger
}

// NewExecutor creates an executor. userKeys may be nil to disable the per-user fallback.
func NewExecutor(pool *Pool, policy RetryPolicy, userKeys UserKeyLookup, log *logger.Logger, opts ...Option) *Executor {
	e := &Executor{
		pool:     pool,
		policy:   policy,
		userKeys: userKeys,
		sleep:    sleepContext,
		logger:   log.WithComponent("keypool"),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Policy returns the executor's retry policy.
func (e *Executor) Policy() RetryPolicy {
	return e.policy
}

// Do runs attempt until it succeeds, fails fatally or the policy is exhausted.
// When all pool attempts fail retryably and userID has a stored key, that key gets one final attempt.
func (e *Executor) Do(ctx context.Context, userID string, attempt AttemptFunc) (Result, error) {
	log := e.logger.WithContext(ctx)

	if e.pool.Len() == 0 {
		key := e.userKey(ctx, userID)
		if key == "" {
			return Result{}, ErrEmptyPool
		}

		log.Debug("key pool empty, using per-user key")
		return e.finalAttempt(ctx, key, 0, nil, attempt)
	}

	var run poolRun
	switch e.policy.Strategy {
	case StrategyRotate:
		run = e.rotate(ctx, attempt, log)
	default:
		run = e.backoff(ctx, attempt, log)
	}

	if run.done {
		return run.res, run.err
	}

	if key := e.userKey(ctx, userID); key != "" {
		log.Info("key pool exhausted, falling back to per-user key", slog.Int("attempts", run.res.Attempts))
		return e.finalAttempt(ctx, key, run.res.Attempts, run.lastErr, attempt)
	}

	return e.exhausted(run.res.Attempts, run.lastErr)
}

// poolRun is the state after the pool attempts. done means the call finished
// (success, fatal error or cancellation) and needs no fallback.
type poolRun struct {
	res     Result
	lastErr error
	done    bool
	err     error
}

// rotate walks the pool starting at the cursor, one attempt per key.
func (e *Executor) rotate(ctx context.Context, attempt AttemptFunc, log *logger.Logger) poolRun {
	size := e.pool.Len()
	start := e.pool.Cursor()
	limit := e.policy.attempts(size)

	var lastErr error
	for i := 0; i < limit; i++ {
		idx := (start + i) % size
		cred := Credential{Key: e.pool.At(idx), Index: idx, Source: SourcePool}

		outcome, err := e.run(ctx, cred, attempt)
		res := Result{Credential: cred, Attempts: i + 1}

		switch outcome {
		case Success:
			e.pool.AdvancePast(idx)
			return poolRun{res: res, done: true}
		case Fatal:
			return poolRun{res: res, done: true, err: err}
		}

		lastErr = err
		log.Warn("attempt failed, rotating key",
			slog.Int("attempt", i+1),
			slog.Int("key_index", idx),
			slog.String("error", errString(err)))
	}

	return poolRun{res: Result{Attempts: limit}, lastErr: lastErr}
}

// backoff selects one key and retries it with a growing delay.
func (e *Executor) backoff(ctx context.Context, attempt AttemptFunc, log *logger.Logger) poolRun {
	key, idx, err := e.pool.Next()
	if err != nil {
		return poolRun{done: true, err: err}
	}

	cred := Credential{Key: key, Index: idx, Source: SourcePool}
	limit := e.policy.attempts(e.pool.Len())
	delay := e.policy.InitialDelay

	log.Debug("selected pool key", slog.Int("key_index", idx))

	var lastErr error
	for i := 0; i < limit; i++ {
		outcome, err := e.run(ctx, cred, attempt)
		res := Result{Credential: cred, Attempts: i + 1}

		switch outcome {
		case Success:
			return poolRun{res: res, done: true}
		case Fatal:
			return poolRun{res: res, done: true, err: err}
		}

		lastErr = err
		if i == limit-1 {
			break
		}

		log.Warn("attempt failed, backing off",
			slog.Int("attempt", i+1),
			slog.Int("key_index", idx),
			slog.Duration("delay", delay),
			slog.String("error", errString(err)))

		if err := e.sleep(ctx, delay); err != nil {
			return poolRun{res: res, done: true, err: err}
		}
		delay = e.policy.nextDelay(delay)
	}

	return poolRun{res: Result{Credential: cred, Attempts: limit}, lastErr: lastErr}
}

func (e *Executor) finalAttempt(ctx context.Context, key string, previous int, lastErr error, attempt AttemptFunc) (Result, error) {
	cred := Credential{Key: key, Index: -1, Source: SourceUser}
	res := Result{Credential: cred, Attempts: previous + 1}

	outcome, err := e.run(ctx, cred, attempt)
	switch outcome {
	case Success:
		return res, nil
	case Fatal:
		return res, err
	}

	return e.exhausted(res.Attempts, err)
}

func (e *Executor) run(ctx context.Context, cred Credential, attempt AttemptFunc) (Outcome, error) {
	outcome, err := attempt(ctx, cred)
	if outcome == Retryable && ctx.Err() != nil {
		// A cancelled request is not worth retrying.
		outcome = Fatal
		err = ctx.Err()
	}

	if e.observer != nil {
		e.observer.ObserveAttempt(e.policy.Strategy, cred.Source, outcome)
	}

	return outcome, err
}

func (e *Executor) exhausted(attempts int, lastErr error) (Result, error) {
	if e.observer != nil {
		e.observer.ObserveExhausted(e.policy.Strategy)
	}

	status := 0
	var sc StatusCoder
	if errors.As(lastErr, &sc) {
		status = sc.StatusCode()
	}

	if lastErr == nil {
		lastErr = errors.New("no attempt was made")
	}

	return Result{Attempts: attempts}, &ExhaustedError{Attempts: attempts, LastStatus: status, Err: lastErr}
}

func (e *Executor) userKey(ctx context.Context, userID string) string {
	if e.userKeys == nil || userID == "" {
		return ""
	}

	key, err := e.userKeys.UserKey(ctx, userID)
	if err != nil {
		e.logger.LogError(ctx, err, "failed to look up per-user key")
		return ""
	}
	return key
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
