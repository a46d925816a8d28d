package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beanbrew/coffeeshop-api/internal/models"
)

type mockRetentionUserRepo struct {
	batches   []int64
	calls     int
	cutoffs   []time.Time
	limits    []int
	err       error
	errOnCall int
	cancelCtx context.CancelFunc
	cancelAt  int
}

func (m *mockRetentionUserRepo) DeleteStaleUnverifiedBatch(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	m.calls++
	m.cutoffs = append(m.cutoffs, cutoff)
	m.limits = append(m.limits, limit)
	if m.err != nil && m.calls == m.errOnCall {
		return 0, m.err
	}
	if m.cancelCtx != nil && m.calls == m.cancelAt {
		m.cancelCtx()
	}
	if m.calls > len(m.batches) {
		return 0, nil
	}
	return m.batches[m.calls-1], nil
}

type mockRetentionTokenRepo struct {
	result models.PurgeResult
	err    error
	called bool
}

func (m *mockRetentionTokenRepo) DeleteExpiredTokens(ctx context.Context, now time.Time) (models.PurgeResult, error) {
	m.called = true
	if m.err != nil {
		return models.PurgeResult{}, m.err
	}
	return m.result, nil
}

func TestPurgeExpiredTokens(t *testing.T) {
	tokens := &mockRetentionTokenRepo{result: models.PurgeResult{DeletedRefreshTokens: 7, DeletedVerificationTokens: 4}}
	svc := NewRetentionService(&mockRetentionUserRepo{}, tokens, nil, zap.NewNop(), RetentionConfig{})

	result, err := svc.PurgeExpiredTokens(context.Background())
	require.NoError(t, err)
	assert.True(t, tokens.called)
	assert.EqualValues(t, 7, result.DeletedRefreshTokens)
	assert.EqualValues(t, 4, result.DeletedVerificationTokens)
}

func TestPurgeExpiredTokensError(t *testing.T) {
	tokens := &mockRetentionTokenRepo{err: assert.AnError}
	svc := NewRetentionService(&mockRetentionUserRepo{}, tokens, nil, zap.NewNop(), RetentionConfig{})

	_, err := svc.PurgeExpiredTokens(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestPurgeStaleUnverifiedUsersDrainsInBatches(t *testing.T) {
	// Two full batches then a short one: the sweep stops after the third.
	users := &mockRetentionUserRepo{batches: []int64{100, 100, 17}}
	svc := NewRetentionService(users, &mockRetentionTokenRepo{}, nil, zap.NewNop(), RetentionConfig{
		UnverifiedMaxAge: 48 * time.Hour,
		BatchSize:        100,
	})

	total, err := svc.PurgeStaleUnverifiedUsers(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 217, total)
	assert.Equal(t, 3, users.calls)
	for _, limit := range users.limits {
		assert.Equal(t, 100, limit)
	}
}

func TestPurgeStaleUnverifiedUsersCutoff(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	users := &mockRetentionUserRepo{batches: []int64{0}}
	svc := NewRetentionService(users, &mockRetentionTokenRepo{}, nil, zap.NewNop(), RetentionConfig{
		UnverifiedMaxAge: 48 * time.Hour,
		BatchSize:        100,
	}, WithRetentionClock(func() time.Time { return now }))

	_, err := svc.PurgeStaleUnverifiedUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users.cutoffs, 1)
	assert.Equal(t, now.Add(-48*time.Hour), users.cutoffs[0])
}

func TestPurgeStaleUnverifiedUsersReturnsPartialCountOnError(t *testing.T) {
	users := &mockRetentionUserRepo{batches: []int64{100, 100}, err: assert.AnError, errOnCall: 2}
	svc := NewRetentionService(users, &mockRetentionTokenRepo{}, nil, zap.NewNop(), RetentionConfig{
		UnverifiedMaxAge: 48 * time.Hour,
		BatchSize:        100,
	})

	total, err := svc.PurgeStaleUnverifiedUsers(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	assert.EqualValues(t, 100, total)
}

func TestPurgeStaleUnverifiedUsersStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	users := &mockRetentionUserRepo{batches: []int64{100, 100, 100}, cancelCtx: cancel, cancelAt: 1}
	svc := NewRetentionService(users, &mockRetentionTokenRepo{}, nil, zap.NewNop(), RetentionConfig{
		UnverifiedMaxAge: 48 * time.Hour,
		BatchSize:        100,
	})

	total, err := svc.PurgeStaleUnverifiedUsers(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 100, total)
	assert.Equal(t, 1, users.calls)
}

func TestPurgeStaleUnverifiedUsersDefaultsBatchSize(t *testing.T) {
	users := &mockRetentionUserRepo{batches: []int64{5}}
	svc := NewRetentionService(users, &mockRetentionTokenRepo{}, nil, zap.NewNop(), RetentionConfig{UnverifiedMaxAge: time.Hour})

	_, err := svc.PurgeStaleUnverifiedUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users.limits, 1)
	assert.Equal(t, 100, users.limits[0])
}
