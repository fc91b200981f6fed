package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "service-secret-32-chars-long!!!!"

func TestTokenManager_IssueAndValidate(t *testing.T) {
	tm, err := NewTokenManager(testSecret, "companion")
	require.NoError(t, err)

	t.Run("round trip", func(t *testing.T) {
		tok, err := tm.Issue("transport", []string{ScopeTurns}, time.Hour)
		require.NoError(t, err)

		claims, err := tm.Validate(tok)
		require.NoError(t, err)
		assert.Equal(t, "transport", claims.Service)
		assert.True(t, claims.HasScope(ScopeTurns))
		assert.False(t, claims.HasScope(ScopeIncidents))
	})

	t.Run("garbage fails", func(t *testing.T) {
		_, err := tm.Validate("invalid-token")
		assert.Error(t, err)
	})

	t.Run("expired fails", func(t *testing.T) {
		tok, err := tm.Issue("transport", nil, -time.Second)
		require.NoError(t, err)
		_, err = tm.Validate(tok)
		assert.Error(t, err)
	})

	t.Run("other issuer fails", func(t *testing.T) {
		other, err := NewTokenManager(testSecret, "someone-else")
		require.NoError(t, err)
		tok, err := other.Issue("transport", nil, time.Hour)
		require.NoError(t, err)
		_, err = tm.Validate(tok)
		assert.Error(t, err)
	})

	t.Run("other secret fails", func(t *testing.T) {
		other, err := NewTokenManager("another-secret-32-chars-long!!!!", "companion")
		require.NoError(t, err)
		tok, err := other.Issue("transport", nil, time.Hour)
		require.NoError(t, err)
		_, err = tm.Validate(tok)
		assert.Error(t, err)
	})
}

func TestNewTokenManager_RequiresSecret(t *testing.T) {
	_, err := NewTokenManager("", "companion")
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestMiddleware_Scopes(t *testing.T) {
	tm, err := NewTokenManager(testSecret, "companion")
	require.NoError(t, err)
	handler := Middleware(tm)(RequireScope(ScopeIncidents)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "dashboard", GetServiceClaims(r.Context()).Service)
		w.WriteHeader(http.StatusOK)
	})))

	do := func(header string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	allowed, err := tm.Issue("dashboard", []string{ScopeIncidents}, time.Hour)
	require.NoError(t, err)
	denied, err := tm.Issue("transport", []string{ScopeTurns}, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, do("Bearer "+allowed))
	assert.Equal(t, http.StatusForbidden, do("Bearer "+denied))
	assert.Equal(t, http.StatusUnauthorized, do(""))
	assert.Equal(t, http.StatusUnauthorized, do("Basic abc"))
	assert.Equal(t, http.StatusUnauthorized, do("Bearer nope"))
}
