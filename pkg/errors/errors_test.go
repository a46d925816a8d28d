package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(cause, ErrInternal.Code, ErrInternal.Status, "something failed")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "boom")
}

func TestFromErrorPassthrough(t *testing.T) {
	err := Clone(ErrInvalidOrExpiredToken, "")
	got := FromError(fmt.Errorf("handler: %w", err))

	require.NotNil(t, got)
	assert.Equal(t, ErrInvalidOrExpiredToken.Code, got.Code)
	assert.Equal(t, http.StatusBadRequest, got.Status)
}

func TestFromErrorNormalisesUnknown(t *testing.T) {
	got := FromError(errors.New("driver: connection reset"))

	require.NotNil(t, got)
	assert.Equal(t, ErrInternal.Code, got.Code)
	assert.Equal(t, http.StatusInternalServerError, got.Status)
}

func TestCloneOverridesMessageOnly(t *testing.T) {
	got := Clone(ErrInvalidCredentials, "incorrect email or password")

	assert.Equal(t, ErrInvalidCredentials.Code, got.Code)
	assert.Equal(t, ErrInvalidCredentials.Status, got.Status)
	assert.Equal(t, "incorrect email or password", got.Message)
	// original untouched
	assert.NotSame(t, ErrInvalidCredentials, got)
}

func TestIsMatchesByCode(t *testing.T) {
	err := Wrap(errors.New("x"), ErrEmailNotVerified.Code, ErrEmailNotVerified.Status, "email not verified")

	assert.True(t, Is(err, ErrEmailNotVerified))
	assert.False(t, Is(err, ErrInvalidCredentials))
	assert.False(t, Is(nil, ErrInvalidCredentials))
}
