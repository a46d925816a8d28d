package models

import "time"

// VerificationKind discriminates verification token purposes. Only email
// verification exists today; the column is a string so new kinds need no
// schema change.
type VerificationKind string

const KindEmailVerification VerificationKind = "email_verification"

// RefreshToken represents a persisted long-lived credential bound to one
// user. The revoked flag is monotonic: once true it never resets, and a
// revoked token is unusable regardless of expiry.
type RefreshToken struct {
	ID        string     `db:"id" json:"id"`
	UserID    string     `db:"user_id" json:"user_id"`
	Token     string     `db:"token" json:"token"`
	IssuedAt  time.Time  `db:"issued_at" json:"issued_at"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	Revoked   bool       `db:"revoked" json:"revoked"`
	RevokedAt *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
}

// VerificationToken is a single-use proof of email ownership. It is
// consumed at most once: verification marks it revoked in the same
// transaction that flips the user's verified flag.
type VerificationToken struct {
	ID        string           `db:"id" json:"id"`
	UserID    string           `db:"user_id" json:"user_id"`
	Token     string           `db:"token" json:"token"`
	Kind      VerificationKind `db:"kind" json:"kind"`
	ExpiresAt time.Time        `db:"expires_at" json:"expires_at"`
	Used      bool             `db:"used" json:"used"`
	Revoked   bool             `db:"revoked" json:"revoked"`
	RevokedAt *time.Time       `db:"revoked_at" json:"revoked_at,omitempty"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}

// PurgeResult reports per-kind deletion counts from a retention run.
type PurgeResult struct {
	DeletedRefreshTokens      int64 `json:"deleted_refresh_tokens"`
	DeletedVerificationTokens int64 `json:"deleted_verification_tokens"`
}
