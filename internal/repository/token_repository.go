package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/beanbrew/coffeeshop-api/internal/models"
)

// TokenRepository provides database access for refresh and verification
// tokens.
type TokenRepository struct {
	db *sqlx.DB
}

// NewTokenRepository creates a new instance of TokenRepository.
func NewTokenRepository(db *sqlx.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// CreateRefreshToken persists a refresh token entry.
func (r *TokenRepository) CreateRefreshToken(ctx context.Context, rt *models.RefreshToken) error {
	if rt.ID == "" {
		rt.ID = uuid.NewString()
	}
	if rt.IssuedAt.IsZero() {
		rt.IssuedAt = time.Now().UTC()
	}
	const query = `INSERT INTO refresh_tokens (id, user_id, token, issued_at, expires_at, revoked, revoked_at)
		VALUES (:id, :user_id, :token, :issued_at, :expires_at, :revoked, :revoked_at)`
	if _, err := r.db.NamedExecContext(ctx, query, rt); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindActiveRefreshToken returns the refresh token exactly matching value
// that is neither revoked nor expired at now. sql.ErrNoRows covers missing,
// revoked and expired alike so callers cannot tell them apart.
func (r *TokenRepository) FindActiveRefreshToken(ctx context.Context, value string, now time.Time) (*models.RefreshToken, error) {
	const query = `SELECT id, user_id, token, issued_at, expires_at, revoked, revoked_at
		FROM refresh_tokens
		WHERE token = $1 AND revoked = FALSE AND expires_at > $2
		LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, value, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// RevokeRefreshToken marks a token as revoked. The flag is monotonic;
// revoking an already revoked token is a no-op.
func (r *TokenRepository) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE id = $1 AND revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, id, revokedAt); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeUserRefreshTokens revokes every live refresh token of a user.
func (r *TokenRepository) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return nil
}

// ConsumeVerificationToken atomically consumes a live verification token:
// it locks the matching row, flips the owning user's verified flag and
// marks the token used and revoked, all in one transaction. Returns the
// owning user's id, or sql.ErrNoRows when no live token matches — whether
// the value never existed, expired, or was already consumed.
func (r *TokenRepository) ConsumeVerificationToken(ctx context.Context, value string, kind models.VerificationKind, now time.Time) (string, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin verify tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const selectToken = `SELECT id, user_id FROM verification_tokens
		WHERE token = $1 AND kind = $2 AND revoked = FALSE AND used = FALSE AND expires_at > $3
		LIMIT 1
		FOR UPDATE`
	var row struct {
		ID     string `db:"id"`
		UserID string `db:"user_id"`
	}
	if err := tx.GetContext(ctx, &row, selectToken, value, kind, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
		return "", fmt.Errorf("find verification token: %w", err)
	}

	const verifyUser = `UPDATE users SET is_verified = TRUE, updated_at = $2 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, verifyUser, row.UserID, now); err != nil {
		return "", fmt.Errorf("mark user verified: %w", err)
	}

	const consumeToken = `UPDATE verification_tokens SET used = TRUE, revoked = TRUE, revoked_at = $2 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, consumeToken, row.ID, now); err != nil {
		return "", fmt.Errorf("consume verification token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit verify tx: %w", err)
	}
	return row.UserID, nil
}

// DeleteExpiredTokens removes every refresh and verification token whose
// expiry has passed, in one transaction, and reports per-kind counts.
func (r *TokenRepository) DeleteExpiredTokens(ctx context.Context, now time.Time) (models.PurgeResult, error) {
	var result models.PurgeResult

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin token purge tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return result, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	if result.DeletedRefreshTokens, err = res.RowsAffected(); err != nil {
		return result, fmt.Errorf("count deleted refresh tokens: %w", err)
	}

	res, err = tx.ExecContext(ctx, `DELETE FROM verification_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return result, fmt.Errorf("delete expired verification tokens: %w", err)
	}
	if result.DeletedVerificationTokens, err = res.RowsAffected(); err != nil {
		return result, fmt.Errorf("count deleted verification tokens: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.PurgeResult{}, fmt.Errorf("commit token purge tx: %w", err)
	}
	return result, nil
}
