package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eternisai/content-planner-proxy/internal/logger"
	"github.com/robfig/cron/v3"
)

// DefaultJobTimeout bounds a single job run.
const DefaultJobTimeout = 30 * time.Second

// JobFunc is one run of a periodic job.
type JobFunc func(ctx context.Context) error

// Scheduler runs periodic maintenance jobs: JWKS refresh, access-token pre-warm and
// rate limiter cleanup. Jobs never overlap with themselves and a panicking job is recovered.
type Scheduler struct {
	cron    *cron.Cron
	logger  *logger.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]JobFunc
}

// New creates a stopped scheduler.
func New(log *logger.Logger) *Scheduler {
	log = log.WithComponent("scheduler")
	cl := cronLogger{log: log}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  log,
		timeout: DefaultJobTimeout,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]JobFunc),
	}
}

// Add registers run under name with a cron spec ("@every 1h", "0 */6 * * *").
// An empty spec leaves the job disabled.
func (s *Scheduler) Add(name, spec string, run JobFunc) error {
	if spec == "" {
		s.logger.Info("job disabled", slog.String("job", name))
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}

	if _, err := s.cron.AddFunc(spec, func() { s.execute(name, run) }); err != nil {
		return fmt.Errorf("invalid schedule %q for job %q: %w", spec, name, err)
	}

	s.jobs[name] = run
	s.logger.Info("job scheduled", slog.String("job", name), slog.String("schedule", spec))
	return nil
}

// RunNow runs a registered job synchronously, e.g. to pre-warm on startup.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	run, ok := s.jobs[name]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("job %q not registered", name)
	}

	return s.execute(name, run)
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Start starts the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return, or for ctx to be done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) execute(name string, run JobFunc) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	ctx = logger.WithOperation(ctx, "job:"+name)
	start := time.Now()

	err := run(ctx)
	if err != nil {
		s.logger.LogError(ctx, err, "job failed",
			slog.String("job", name),
			slog.Duration("duration", time.Since(start)))
		return err
	}

	s.logger.WithContext(ctx).Debug("job finished",
		slog.String("job", name),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// cronLogger adapts the application logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append([]interface{}{slog.String("error", err.Error())}, keysAndValues...)...)
}
