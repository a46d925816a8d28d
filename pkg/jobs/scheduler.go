package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JobFunc is one periodic job body. It runs to completion per invocation;
// a retry is a fresh invocation.
type JobFunc func(context.Context) error

// ScheduledJob is one entry in the scheduler table.
type ScheduledJob struct {
	Name     string
	Interval time.Duration
	Run      JobFunc
}

// SchedulerConfig configures retry behaviour shared by all registered jobs.
type SchedulerConfig struct {
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// Scheduler runs registered jobs on fixed intervals. Jobs are registered
// explicitly by name and interval before Start; there is no implicit
// discovery. Each job runs once immediately on start and then on every
// tick. A failing run is retried with exponential backoff up to MaxRetries;
// exhaustion is logged and reported to the failure hook, never propagated.
type Scheduler struct {
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	table   []ScheduledJob
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// OnExhausted is invoked when a job run fails all its retries.
	// Optional; used to feed failure metrics.
	OnExhausted func(name string, err error)
}

// NewScheduler builds an empty scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Scheduler{
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
	}
}

// Register adds a job to the table. Must be called before Start.
func (s *Scheduler) Register(name string, interval time.Duration, fn JobFunc) error {
	if name == "" || interval <= 0 || fn == nil {
		return fmt.Errorf("scheduler: invalid registration for %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler: cannot register %q after start", name)
	}
	for _, j := range s.table {
		if j.Name == name {
			return fmt.Errorf("scheduler: job %q already registered", name)
		}
	}
	s.table = append(s.table, ScheduledJob{Name: name, Interval: interval, Run: fn})
	return nil
}

// Jobs returns a snapshot of the registration table.
func (s *Scheduler) Jobs() []ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduledJob, len(s.table))
	copy(out, s.table)
	return out
}

// Start launches one ticker goroutine per registered job. Safe to call once.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	for _, job := range s.table {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
	s.started = true
	s.logger.Sugar().Infow("scheduler started", "jobs", len(s.table))
}

// Stop cancels all job loops and waits for them to exit. In-flight job
// bodies observe the cancellation through their context.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Sugar().Infow("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, job ScheduledJob) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.runWithRetry(ctx, job)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runWithRetry(ctx, job)
		}
	}
}

func (s *Scheduler) runWithRetry(ctx context.Context, job ScheduledJob) {
	var err error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		err = s.runOnce(ctx, job)
		if err == nil {
			s.logger.Sugar().Infow("job completed", "job", job.Name, "duration", time.Since(start))
			return
		}

		s.logger.Sugar().Warnw("job failed", "job", job.Name, "attempt", attempt, "error", err)

		if attempt == s.maxRetries {
			break
		}
		timer := time.NewTimer(backoff(s.retryDelay, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	s.logger.Sugar().Errorw("job exhausted retries", "job", job.Name, "retries", s.maxRetries, "error", err)
	if s.OnExhausted != nil {
		s.OnExhausted(job.Name, err)
	}
}

// runOnce isolates a single invocation; a panicking job body is converted
// into an error instead of taking down the host process.
func (s *Scheduler) runOnce(ctx context.Context, job ScheduledJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
		}
	}()
	return job.Run(ctx)
}
