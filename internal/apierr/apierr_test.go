package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	force := []Code{
		CodeTokenInvalid, CodeTokenExpired, CodeTokenNotActive, CodeAuthRequired,
		CodeAccountSuspended, CodeAccountNotFound, CodeUnauthorized,
	}
	for _, c := range force {
		assert.Equal(t, ActionForceLogout, Classify(c), c)
		assert.True(t, ShouldForceLogout(c), c)
		assert.False(t, ShouldSurface(c), c)
	}

	for _, c := range []Code{CodeCredentialsInvalid, CodeEmailNotVerified} {
		assert.Equal(t, ActionSurface, Classify(c), c)
		assert.False(t, ShouldForceLogout(c), c)
	}

	assert.Equal(t, ActionNone, Classify("CARD_FROZEN"))
	assert.Equal(t, ActionForceLogout, Classify(" auth_token_expired "))
}

func TestIsAuthCode(t *testing.T) {
	t.Parallel()

	assert.True(t, IsAuthCode(CodeEmailNotVerified))
	assert.False(t, IsAuthCode("rate_limited"))
}

func TestDecodeShapes(t *testing.T) {
	t.Parallel()

	nested := Decode(http.StatusUnauthorized, []byte(`{"error":{"code":"AUTH_TOKEN_EXPIRED","message":"expired"}}`))
	assert.Equal(t, CodeTokenExpired, nested.Code)
	assert.Equal(t, "expired", nested.Message)
	assert.Equal(t, ActionForceLogout, nested.Action())

	flat := Decode(http.StatusBadRequest, []byte(`{"code":"AUTH_CREDENTIALS_INVALID","message":"bad password"}`))
	assert.Equal(t, CodeCredentialsInvalid, flat.Code)
	assert.Equal(t, ActionSurface, flat.Action())

	empty := Decode(http.StatusUnauthorized, []byte(`<html>`))
	assert.Equal(t, CodeUnauthorized, empty.Code)
	assert.Equal(t, "Unauthorized", empty.Message)

	other := Decode(http.StatusInternalServerError, nil)
	assert.Equal(t, Code(""), other.Code)
	assert.Equal(t, ActionNone, other.Action())
}

func TestIsUnwrapsChains(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("load cards: %w", &Error{Code: CodeAccountSuspended, StatusCode: 403})
	require.True(t, Is(err, CodeAccountSuspended))
	require.True(t, ForceLogout(err))
	require.False(t, Is(err, CodeTokenExpired))
	require.False(t, ForceLogout(errors.New("plain")))
}
