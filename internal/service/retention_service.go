package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/beanbrew/coffeeshop-api/internal/models"
	"github.com/beanbrew/coffeeshop-api/pkg/config"
	"github.com/beanbrew/coffeeshop-api/pkg/jobs"
)

// Retention job names as registered on the scheduler and used as metric
// labels.
const (
	JobPurgeExpiredTokens   = "cleanup.expired_tokens"
	JobPurgeUnverifiedUsers = "cleanup.unverified_users"
)

type retentionUserRepository interface {
	DeleteStaleUnverifiedBatch(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type retentionTokenRepository interface {
	DeleteExpiredTokens(ctx context.Context, now time.Time) (models.PurgeResult, error)
}

// RetentionConfig bounds the retention sweeps.
type RetentionConfig struct {
	UnverifiedMaxAge time.Duration
	BatchSize        int
}

// RetentionService removes rows past their useful life: expired tokens
// and accounts that never completed verification. Account deletion runs
// in bounded batches so a large backlog never holds long row locks.
type RetentionService struct {
	users   retentionUserRepository
	tokens  retentionTokenRepository
	metrics *MetricsService
	logger  *zap.Logger
	config  RetentionConfig
	now     func() time.Time
}

// RetentionOption customises a RetentionService.
type RetentionOption func(*RetentionService)

// WithRetentionClock overrides the time source, for cutoff tests.
func WithRetentionClock(now func() time.Time) RetentionOption {
	return func(s *RetentionService) {
		s.now = now
	}
}

// NewRetentionService constructs a RetentionService instance. metrics may
// be nil.
func NewRetentionService(users retentionUserRepository, tokens retentionTokenRepository, metrics *MetricsService, logger *zap.Logger, config RetentionConfig, opts ...RetentionOption) *RetentionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	s := &RetentionService{
		users:   users,
		tokens:  tokens,
		metrics: metrics,
		logger:  logger,
		config:  config,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PurgeExpiredTokens removes every refresh and verification token whose
// expiry has passed and reports per-kind counts.
func (s *RetentionService) PurgeExpiredTokens(ctx context.Context) (models.PurgeResult, error) {
	started := s.now()
	result, err := s.tokens.DeleteExpiredTokens(ctx, started.UTC())
	s.metrics.ObserveRetentionRun(JobPurgeExpiredTokens, s.now().Sub(started), err)
	if err != nil {
		s.logger.Error("token purge failed", zap.Error(err))
		return models.PurgeResult{}, err
	}

	s.metrics.AddRetentionDeleted("refresh_tokens", result.DeletedRefreshTokens)
	s.metrics.AddRetentionDeleted("verification_tokens", result.DeletedVerificationTokens)
	s.logger.Info("expired tokens purged",
		zap.Int64("refresh_tokens", result.DeletedRefreshTokens),
		zap.Int64("verification_tokens", result.DeletedVerificationTokens),
	)
	return result, nil
}

// PurgeStaleUnverifiedUsers removes unverified accounts older than the
// configured max age, batch by batch until no eligible rows remain. It
// returns the total number of deleted accounts; on a mid-sweep failure
// the count of already committed batches is returned with the error.
func (s *RetentionService) PurgeStaleUnverifiedUsers(ctx context.Context) (int64, error) {
	started := s.now()
	cutoff := started.UTC().Add(-s.config.UnverifiedMaxAge)

	var total int64
	var err error
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
			break
		}
		var deleted int64
		deleted, err = s.users.DeleteStaleUnverifiedBatch(ctx, cutoff, s.config.BatchSize)
		if err != nil {
			break
		}
		total += deleted
		if deleted < int64(s.config.BatchSize) {
			break
		}
	}

	s.metrics.ObserveRetentionRun(JobPurgeUnverifiedUsers, s.now().Sub(started), err)
	if err != nil {
		s.logger.Error("unverified account purge failed", zap.Int64("deleted_before_failure", total), zap.Error(err))
		return total, err
	}

	s.metrics.AddRetentionDeleted("unverified_users", total)
	s.logger.Info("stale unverified accounts purged", zap.Int64("deleted", total), zap.Time("cutoff", cutoff))
	return total, nil
}

// RegisterJobs wires both retention sweeps onto the scheduler at the
// configured intervals.
func (s *RetentionService) RegisterJobs(sched *jobs.Scheduler, cfg config.CleanupConfig) error {
	if err := sched.Register(JobPurgeExpiredTokens, cfg.TokenInterval, func(ctx context.Context) error {
		_, err := s.PurgeExpiredTokens(ctx)
		return err
	}); err != nil {
		return err
	}
	return sched.Register(JobPurgeUnverifiedUsers, cfg.UserInterval, func(ctx context.Context) error {
		_, err := s.PurgeStaleUnverifiedUsers(ctx)
		return err
	})
}
