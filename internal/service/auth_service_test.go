package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/beanbrew/coffeeshop-api/internal/models"
	"github.com/beanbrew/coffeeshop-api/internal/repository"
	"github.com/beanbrew/coffeeshop-api/pkg/config"
	appErrors "github.com/beanbrew/coffeeshop-api/pkg/errors"
	"github.com/beanbrew/coffeeshop-api/pkg/hash"
	"github.com/beanbrew/coffeeshop-api/pkg/jobs"
	"github.com/beanbrew/coffeeshop-api/pkg/token"
)

type mockAuthUserRepo struct {
	usersByEmail map[string]*models.User
	usersByID    map[string]*models.User
	createErr    error
	created      *models.User
	createdToken *models.VerificationToken
}

func (m *mockAuthUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if u, ok := m.usersByEmail[email]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.usersByID[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthUserRepo) CreateWithVerificationToken(ctx context.Context, user *models.User, vt *models.VerificationToken) error {
	if m.createErr != nil {
		return m.createErr
	}
	user.ID = "new-user"
	vt.UserID = user.ID
	m.created = user
	m.createdToken = vt
	return nil
}

type mockAuthTokenRepo struct {
	refreshTokens    map[string]*models.RefreshToken
	verification     map[string]*models.VerificationToken
	createRefreshErr error
	revokedUserID    string
	consumedUserID   string
}

func (m *mockAuthTokenRepo) CreateRefreshToken(ctx context.Context, rt *models.RefreshToken) error {
	if m.createRefreshErr != nil {
		return m.createRefreshErr
	}
	if m.refreshTokens == nil {
		m.refreshTokens = make(map[string]*models.RefreshToken)
	}
	m.refreshTokens[rt.Token] = rt
	return nil
}

func (m *mockAuthTokenRepo) FindActiveRefreshToken(ctx context.Context, value string, now time.Time) (*models.RefreshToken, error) {
	rt, ok := m.refreshTokens[value]
	if !ok || rt.Revoked || !rt.ExpiresAt.After(now) {
		return nil, sql.ErrNoRows
	}
	return rt, nil
}

func (m *mockAuthTokenRepo) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	for _, rt := range m.refreshTokens {
		if rt.ID == id && !rt.Revoked {
			rt.Revoked = true
			rt.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (m *mockAuthTokenRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	m.revokedUserID = userID
	for _, rt := range m.refreshTokens {
		if rt.UserID == userID {
			rt.Revoked = true
		}
	}
	return nil
}

func (m *mockAuthTokenRepo) ConsumeVerificationToken(ctx context.Context, value string, kind models.VerificationKind, now time.Time) (string, error) {
	vt, ok := m.verification[value]
	if !ok || vt.Used || vt.Revoked || vt.Kind != kind || !vt.ExpiresAt.After(now) {
		return "", sql.ErrNoRows
	}
	vt.Used = true
	vt.Revoked = true
	m.consumedUserID = vt.UserID
	return vt.UserID, nil
}

type mockEnqueuer struct {
	jobs []jobs.Job
	err  error
}

func (m *mockEnqueuer) Enqueue(job jobs.Job) error {
	if m.err != nil {
		return m.err
	}
	m.jobs = append(m.jobs, job)
	return nil
}

func testHasher() *hash.Hasher {
	return hash.New(config.HashConfig{Scheme: hash.SchemeBcrypt, BcryptCost: bcrypt.MinCost})
}

func testIssuer(opts ...token.Option) *token.Issuer {
	return token.New(config.JWTConfig{
		Secret:        "access-secret",
		RefreshSecret: "refresh-secret",
		Issuer:        "Coffee Shop API",
		AccessTTL:     30 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	}, opts...)
}

func testValidator(t *testing.T) *validator.Validate {
	t.Helper()
	v := validator.New()
	require.NoError(t, RegisterValidations(v))
	return v
}

func newTestAuthService(t *testing.T, users *mockAuthUserRepo, tokens *mockAuthTokenRepo, emails *mockEnqueuer, opts ...AuthOption) *AuthService {
	t.Helper()
	cfg := AuthConfig{
		VerificationEnabled: true,
		VerificationTTL:     15 * time.Minute,
		FrontendURL:         "https://shop.example.com",
	}
	return NewAuthService(users, tokens, testHasher(), testIssuer(), emails, testValidator(t), zap.NewNop(), cfg, opts...)
}

func TestSignupCreatesUnverifiedUserAndQueuesEmail(t *testing.T) {
	users := &mockAuthUserRepo{}
	tokens := &mockAuthTokenRepo{}
	emails := &mockEnqueuer{}
	svc := newTestAuthService(t, users, tokens, emails)

	res, err := svc.Signup(context.Background(), models.SignupRequest{
		Email:    "ada@example.com",
		Password: "Str0ngPass",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Message)

	require.NotNil(t, users.created)
	assert.False(t, users.created.IsVerified)
	assert.Equal(t, models.RoleUser, users.created.Role)
	assert.NotEqual(t, "Str0ngPass", users.created.PasswordHash)

	require.NotNil(t, users.createdToken)
	assert.Equal(t, models.KindEmailVerification, users.createdToken.Kind)

	require.Len(t, emails.jobs, 1)
	payload, ok := emails.jobs[0].Payload.(VerificationEmailPayload)
	require.True(t, ok)
	assert.Equal(t, "ada@example.com", payload.Email)
	assert.Contains(t, payload.VerificationURL, "https://shop.example.com/verify-email?token=")
	assert.Contains(t, payload.VerificationURL, users.createdToken.Token)
}

func TestSignupDuplicateEmail(t *testing.T) {
	users := &mockAuthUserRepo{createErr: repository.ErrDuplicateEmail}
	svc := newTestAuthService(t, users, &mockAuthTokenRepo{}, &mockEnqueuer{})

	_, err := svc.Signup(context.Background(), models.SignupRequest{
		Email:    "taken@example.com",
		Password: "Str0ngPass",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrEmailAlreadyRegistered))
}

func TestSignupWeakPassword(t *testing.T) {
	svc := newTestAuthService(t, &mockAuthUserRepo{}, &mockAuthTokenRepo{}, &mockEnqueuer{})

	for _, password := range []string{"short1A", "alllowercase1", "ALLUPPERCASE1", "NoDigitsHere"} {
		_, err := svc.Signup(context.Background(), models.SignupRequest{
			Email:    "ada@example.com",
			Password: password,
		})
		require.Error(t, err, "password %q should be rejected", password)
		assert.True(t, appErrors.Is(err, appErrors.ErrPasswordPolicy), "password %q", password)
	}
}

func TestSignupMissingPasswordIsPlainValidationError(t *testing.T) {
	svc := newTestAuthService(t, &mockAuthUserRepo{}, &mockAuthTokenRepo{}, &mockEnqueuer{})

	_, err := svc.Signup(context.Background(), models.SignupRequest{Email: "ada@example.com"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestSignupSucceedsWhenEmailQueueFails(t *testing.T) {
	users := &mockAuthUserRepo{}
	emails := &mockEnqueuer{err: assert.AnError}
	svc := newTestAuthService(t, users, &mockAuthTokenRepo{}, emails)

	_, err := svc.Signup(context.Background(), models.SignupRequest{
		Email:    "ada@example.com",
		Password: "Str0ngPass",
	})
	require.NoError(t, err)
	require.NotNil(t, users.created)
}

func TestVerifyEmailConsumesTokenOnce(t *testing.T) {
	tokens := &mockAuthTokenRepo{verification: map[string]*models.VerificationToken{
		"tok-1": {ID: "vt1", UserID: "u1", Token: "tok-1", Kind: models.KindEmailVerification, ExpiresAt: time.Now().Add(15 * time.Minute)},
	}}
	svc := newTestAuthService(t, &mockAuthUserRepo{}, tokens, &mockEnqueuer{})

	res, err := svc.VerifyEmail(context.Background(), models.VerifyEmailRequest{Token: "tok-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Message)
	assert.Equal(t, "u1", tokens.consumedUserID)

	// Second call with the same token is indistinguishable from an unknown one.
	_, err = svc.VerifyEmail(context.Background(), models.VerifyEmailRequest{Token: "tok-1"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidOrExpiredToken))
}

func TestVerifyEmailUnknownAndExpiredLookAlike(t *testing.T) {
	tokens := &mockAuthTokenRepo{verification: map[string]*models.VerificationToken{
		"expired": {ID: "vt1", UserID: "u1", Token: "expired", Kind: models.KindEmailVerification, ExpiresAt: time.Now().Add(-time.Minute)},
	}}
	svc := newTestAuthService(t, &mockAuthUserRepo{}, tokens, &mockEnqueuer{})

	_, errUnknown := svc.VerifyEmail(context.Background(), models.VerifyEmailRequest{Token: "never-existed"})
	_, errExpired := svc.VerifyEmail(context.Background(), models.VerifyEmailRequest{Token: "expired"})

	require.Error(t, errUnknown)
	require.Error(t, errExpired)
	assert.Equal(t, appErrors.FromError(errUnknown).Code, appErrors.FromError(errExpired).Code)
	assert.Equal(t, appErrors.FromError(errUnknown).Message, appErrors.FromError(errExpired).Message)
}

func verifiedUser(t *testing.T, email, password string) *models.User {
	t.Helper()
	digest, err := testHasher().Hash(password)
	require.NoError(t, err)
	return &models.User{ID: "u1", Email: email, PasswordHash: digest, Role: models.RoleUser, IsVerified: true}
}

func TestLoginSuccessPersistsRefreshToken(t *testing.T) {
	user := verifiedUser(t, "ada@example.com", "Str0ngPass")
	users := &mockAuthUserRepo{usersByEmail: map[string]*models.User{user.Email: user}}
	tokens := &mockAuthTokenRepo{}
	svc := newTestAuthService(t, users, tokens, &mockEnqueuer{})

	pair, err := svc.Login(context.Background(), models.LoginRequest{Email: "ada@example.com", Password: "Str0ngPass"})
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "bearer", pair.TokenType)

	stored, ok := tokens.refreshTokens[pair.RefreshToken]
	require.True(t, ok)
	assert.Equal(t, "u1", stored.UserID)
	assert.False(t, stored.Revoked)
}

func TestLoginUniformErrorForUnknownEmailAndWrongPassword(t *testing.T) {
	user := verifiedUser(t, "ada@example.com", "Str0ngPass")
	users := &mockAuthUserRepo{usersByEmail: map[string]*models.User{user.Email: user}}
	svc := newTestAuthService(t, users, &mockAuthTokenRepo{}, &mockEnqueuer{})

	_, errUnknown := svc.Login(context.Background(), models.LoginRequest{Email: "nobody@example.com", Password: "Str0ngPass"})
	_, errWrong := svc.Login(context.Background(), models.LoginRequest{Email: "ada@example.com", Password: "WrongPass1"})

	require.Error(t, errUnknown)
	require.Error(t, errWrong)
	assert.Equal(t, appErrors.FromError(errUnknown).Code, appErrors.FromError(errWrong).Code)
	assert.Equal(t, appErrors.FromError(errUnknown).Message, appErrors.FromError(errWrong).Message)
}

func TestLoginRejectsUnverifiedEmail(t *testing.T) {
	user := verifiedUser(t, "ada@example.com", "Str0ngPass")
	user.IsVerified = false
	users := &mockAuthUserRepo{usersByEmail: map[string]*models.User{user.Email: user}}
	svc := newTestAuthService(t, users, &mockAuthTokenRepo{}, &mockEnqueuer{})

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "ada@example.com", Password: "Str0ngPass"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrEmailNotVerified))
}

func TestRefreshReturnsSameRefreshToken(t *testing.T) {
	user := verifiedUser(t, "ada@example.com", "Str0ngPass")
	users := &mockAuthUserRepo{
		usersByEmail: map[string]*models.User{user.Email: user},
		usersByID:    map[string]*models.User{user.ID: user},
	}
	tokens := &mockAuthTokenRepo{}
	svc := newTestAuthService(t, users, tokens, &mockEnqueuer{})

	pair, err := svc.Login(context.Background(), models.LoginRequest{Email: "ada@example.com", Password: "Str0ngPass"})
	require.NoError(t, err)

	refreshed, err := svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: pair.RefreshToken})
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)
	assert.Equal(t, pair.RefreshToken, refreshed.RefreshToken)
	assert.Len(t, tokens.refreshTokens, 1)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	user := verifiedUser(t, "ada@example.com", "Str0ngPass")
	users := &mockAuthUserRepo{
		usersByEmail: map[string]*models.User{user.Email: user},
		usersByID:    map[string]*models.User{user.ID: user},
	}
	tokens := &mockAuthTokenRepo{}
	svc := newTestAuthService(t, users, tokens, &mockEnqueuer{})

	pair, err := svc.Login(context.Background(), models.LoginRequest{Email: "ada@example.com", Password: "Str0ngPass"})
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: pair.AccessToken})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidOrExpiredToken))
}

func TestRefreshRejectsRevokedToken(t *testing.T) {
	user := verifiedUser(t, "ada@example.com", "Str0ngPass")
	users := &mockAuthUserRepo{
		usersByEmail: map[string]*models.User{user.Email: user},
		usersByID:    map[string]*models.User{user.ID: user},
	}
	tokens := &mockAuthTokenRepo{}
	svc := newTestAuthService(t, users, tokens, &mockEnqueuer{})

	pair, err := svc.Login(context.Background(), models.LoginRequest{Email: "ada@example.com", Password: "Str0ngPass"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), models.LogoutRequest{RefreshToken: pair.RefreshToken}))

	_, err = svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: pair.RefreshToken})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidOrExpiredToken))
}

func TestRefreshRejectsUnknownButValidlySignedToken(t *testing.T) {
	user := verifiedUser(t, "ada@example.com", "Str0ngPass")
	users := &mockAuthUserRepo{usersByID: map[string]*models.User{user.ID: user}}
	svc := newTestAuthService(t, users, &mockAuthTokenRepo{}, &mockEnqueuer{})

	// Well signed but never persisted: a token the store has no row for.
	unknown, _, err := testIssuer().IssueRefreshToken(user.ID)
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: unknown})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidOrExpiredToken))
}

func TestRefreshRejectsExpiredToken(t *testing.T) {
	current := time.Now()
	clock := func() time.Time { return current }
	user := verifiedUser(t, "ada@example.com", "Str0ngPass")
	users := &mockAuthUserRepo{
		usersByEmail: map[string]*models.User{user.Email: user},
		usersByID:    map[string]*models.User{user.ID: user},
	}
	tokens := &mockAuthTokenRepo{}
	cfg := AuthConfig{VerificationEnabled: true, VerificationTTL: 15 * time.Minute, FrontendURL: "https://shop.example.com"}
	svc := NewAuthService(users, tokens, testHasher(), testIssuer(token.WithClock(clock)), &mockEnqueuer{}, testValidator(t), zap.NewNop(), cfg, WithAuthClock(clock))

	pair, err := svc.Login(context.Background(), models.LoginRequest{Email: "ada@example.com", Password: "Str0ngPass"})
	require.NoError(t, err)

	current = current.Add(7*24*time.Hour + time.Minute)

	_, err = svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: pair.RefreshToken})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidOrExpiredToken))
}

func TestLogoutIsIdempotentlyUniform(t *testing.T) {
	user := verifiedUser(t, "ada@example.com", "Str0ngPass")
	users := &mockAuthUserRepo{usersByEmail: map[string]*models.User{user.Email: user}}
	tokens := &mockAuthTokenRepo{}
	svc := newTestAuthService(t, users, tokens, &mockEnqueuer{})

	pair, err := svc.Login(context.Background(), models.LoginRequest{Email: "ada@example.com", Password: "Str0ngPass"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), models.LogoutRequest{RefreshToken: pair.RefreshToken}))

	err = svc.Logout(context.Background(), models.LogoutRequest{RefreshToken: pair.RefreshToken})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidOrExpiredToken))
}

func TestValidateTokenRejectsRefreshToken(t *testing.T) {
	user := verifiedUser(t, "ada@example.com", "Str0ngPass")
	users := &mockAuthUserRepo{usersByEmail: map[string]*models.User{user.Email: user}}
	svc := newTestAuthService(t, users, &mockAuthTokenRepo{}, &mockEnqueuer{})

	pair, err := svc.Login(context.Background(), models.LoginRequest{Email: "ada@example.com", Password: "Str0ngPass"})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)

	_, err = svc.ValidateToken(pair.RefreshToken)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}

func TestRevokeAllSessions(t *testing.T) {
	tokens := &mockAuthTokenRepo{refreshTokens: map[string]*models.RefreshToken{
		"t1": {ID: "rt1", UserID: "u1", Token: "t1", ExpiresAt: time.Now().Add(time.Hour)},
		"t2": {ID: "rt2", UserID: "u1", Token: "t2", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	svc := newTestAuthService(t, &mockAuthUserRepo{}, tokens, &mockEnqueuer{})

	require.NoError(t, svc.RevokeAllSessions(context.Background(), "u1"))
	assert.Equal(t, "u1", tokens.revokedUserID)
	assert.True(t, tokens.refreshTokens["t1"].Revoked)
	assert.True(t, tokens.refreshTokens["t2"].Revoked)
}
