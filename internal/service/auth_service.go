package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beanbrew/coffeeshop-api/internal/models"
	"github.com/beanbrew/coffeeshop-api/internal/repository"
	appErrors "github.com/beanbrew/coffeeshop-api/pkg/errors"
	"github.com/beanbrew/coffeeshop-api/pkg/hash"
	"github.com/beanbrew/coffeeshop-api/pkg/jobs"
	"github.com/beanbrew/coffeeshop-api/pkg/token"
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	CreateWithVerificationToken(ctx context.Context, user *models.User, vt *models.VerificationToken) error
}

type authTokenRepository interface {
	CreateRefreshToken(ctx context.Context, rt *models.RefreshToken) error
	FindActiveRefreshToken(ctx context.Context, value string, now time.Time) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error
	RevokeUserRefreshTokens(ctx context.Context, userID string) error
	ConsumeVerificationToken(ctx context.Context, value string, kind models.VerificationKind, now time.Time) (string, error)
}

type enqueuer interface {
	Enqueue(job jobs.Job) error
}

// JobTypeVerificationEmail is the queue job type carrying a
// VerificationEmailPayload.
const JobTypeVerificationEmail = "email.verification"

// VerificationEmailPayload is the queue payload for a verification email.
type VerificationEmailPayload struct {
	Email           string
	VerificationURL string
}

// AuthConfig defines configuration for the authentication flows.
type AuthConfig struct {
	VerificationEnabled bool
	VerificationTTL     time.Duration
	FrontendURL         string
}

// AuthService implements signup, email verification and the token
// lifecycle. Every rejected credential or token maps to a deliberately
// uninformative error so callers learn nothing about why it failed.
type AuthService struct {
	users     authUserRepository
	tokens    authTokenRepository
	hasher    *hash.Hasher
	issuer    *token.Issuer
	emails    enqueuer
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
	now       func() time.Time
}

// AuthOption customises an AuthService.
type AuthOption func(*AuthService)

// WithAuthClock overrides the time source, for expiry tests.
func WithAuthClock(now func() time.Time) AuthOption {
	return func(s *AuthService) {
		s.now = now
	}
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(users authUserRepository, tokens authTokenRepository, hasher *hash.Hasher, issuer *token.Issuer, emails enqueuer, validate *validator.Validate, logger *zap.Logger, config AuthConfig, opts ...AuthOption) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
		_ = RegisterValidations(validate)
	}
	s := &AuthService{
		users:     users,
		tokens:    tokens,
		hasher:    hasher,
		issuer:    issuer,
		emails:    emails,
		validator: validate,
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterValidations registers the custom payload rules on a validator,
// currently only the "password" policy tag.
func RegisterValidations(v *validator.Validate) error {
	return v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return passwordMeetsPolicy(fl.Field().String())
	})
}

// passwordMeetsPolicy requires at least 8 characters with an upper case
// letter, a lower case letter and a digit.
func passwordMeetsPolicy(password string) bool {
	if len(password) < 8 {
		return false
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return upper && lower && digit
}

// Signup registers a new unverified account and queues the verification
// email. The account and its verification token become visible together
// or not at all.
func (s *AuthService) Signup(ctx context.Context, req models.SignupRequest) (*models.SignupResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		if isPasswordPolicyViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrPasswordPolicy, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid signup payload")
	}

	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Email:        req.Email,
		PasswordHash: passwordHash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         models.RoleUser,
		IsVerified:   !s.config.VerificationEnabled,
	}
	vt := &models.VerificationToken{
		Token:     uuid.NewString(),
		Kind:      models.KindEmailVerification,
		ExpiresAt: s.now().UTC().Add(s.config.VerificationTTL),
	}

	if err := s.users.CreateWithVerificationToken(ctx, user, vt); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, appErrors.Clone(appErrors.ErrEmailAlreadyRegistered, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create account")
	}

	if s.config.VerificationEnabled && s.emails != nil {
		job := jobs.Job{
			ID:   uuid.NewString(),
			Type: JobTypeVerificationEmail,
			Payload: VerificationEmailPayload{
				Email:           user.Email,
				VerificationURL: s.verificationURL(vt.Token),
			},
		}
		if err := s.emails.Enqueue(job); err != nil {
			// The account exists either way; the user can request a
			// fresh verification email later.
			s.logger.Warn("failed to queue verification email", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	s.logger.Info("user signed up", zap.String("user_id", user.ID))
	return &models.SignupResponse{Message: "account created, check your email to verify your address"}, nil
}

// VerifyEmail consumes a verification token and marks the owning account
// verified. Consumption happens at most once: a second call with the same
// token fails exactly like an unknown or expired one.
func (s *AuthService) VerifyEmail(ctx context.Context, req models.VerifyEmailRequest) (*models.VerifyEmailResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid verification payload")
	}

	userID, err := s.tokens.ConsumeVerificationToken(ctx, req.Token, models.KindEmailVerification, s.now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidOrExpiredToken, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify email")
	}

	s.logger.Info("email verified", zap.String("user_id", userID))
	return &models.VerifyEmailResponse{Message: "email verified"}, nil
}

// Login authenticates a user and returns a fresh token pair. A wrong
// password and an unknown email produce the same error.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.TokenPair, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if err := s.hasher.Verify(req.Password, user.PasswordHash); err != nil {
		if errors.Is(err, hash.ErrMismatch) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify password")
	}

	if !user.IsVerified {
		return nil, appErrors.Clone(appErrors.ErrEmailNotVerified, "")
	}

	return s.issuePair(ctx, user)
}

// Refresh exchanges a live refresh token for a new access token. The
// presented token must both carry a valid signature and match a stored
// non-revoked row; the refresh token itself is returned unchanged.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshRequest) (*models.TokenPair, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	claims, err := s.issuer.VerifyRefreshToken(req.RefreshToken)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidOrExpiredToken, "")
	}

	stored, err := s.tokens.FindActiveRefreshToken(ctx, req.RefreshToken, s.now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidOrExpiredToken, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch refresh token")
	}

	if stored.UserID != claims.Subject {
		return nil, appErrors.Clone(appErrors.ErrInvalidOrExpiredToken, "")
	}

	user, err := s.users.FindByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidOrExpiredToken, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	accessToken, _, err := s.issuer.IssueAccessToken(user.ID, roleScope(user.Role))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: stored.Token,
		TokenType:    "bearer",
	}, nil
}

// Logout revokes the presented refresh token. Revocation is permanent;
// revoking twice fails the same way as revoking a token that never existed.
func (s *AuthService) Logout(ctx context.Context, req models.LogoutRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid logout payload")
	}

	stored, err := s.tokens.FindActiveRefreshToken(ctx, req.RefreshToken, s.now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrInvalidOrExpiredToken, "")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch refresh token")
	}

	if err := s.tokens.RevokeRefreshToken(ctx, stored.ID, s.now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke refresh token")
	}

	s.logger.Info("refresh token revoked", zap.String("user_id", stored.UserID))
	return nil
}

// RevokeAllSessions revokes every live refresh token of a user, ending all
// of their sessions at once.
func (s *AuthService) RevokeAllSessions(ctx context.Context, userID string) error {
	if err := s.tokens.RevokeUserRefreshTokens(ctx, userID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke sessions")
	}
	return nil
}

// ValidateToken verifies an access token and returns its claims. Refresh
// tokens are rejected here even when both signing secrets are equal.
func (s *AuthService) ValidateToken(raw string) (*token.Claims, error) {
	claims, err := s.issuer.VerifyAccessToken(raw)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}
	return claims, nil
}

func (s *AuthService) issuePair(ctx context.Context, user *models.User) (*models.TokenPair, error) {
	accessToken, _, err := s.issuer.IssueAccessToken(user.ID, roleScope(user.Role))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	refreshToken, refreshExpiry, err := s.issuer.IssueRefreshToken(user.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}

	rt := &models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Token:     refreshToken,
		IssuedAt:  s.now().UTC(),
		ExpiresAt: refreshExpiry,
	}
	if err := s.tokens.CreateRefreshToken(ctx, rt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist refresh token")
	}

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
	}, nil
}

func (s *AuthService) verificationURL(tokenValue string) string {
	base := strings.TrimRight(s.config.FrontendURL, "/")
	return fmt.Sprintf("%s/verify-email?token=%s", base, tokenValue)
}

func roleScope(role models.UserRole) string {
	return strings.ToLower(string(role))
}

func isPasswordPolicyViolation(err error) bool {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return false
	}
	for _, fe := range verrs {
		if fe.Tag() == "password" {
			return true
		}
	}
	return false
}
