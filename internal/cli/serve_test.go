package cli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/companion/internal/auth"
	"github.com/aiox-platform/companion/internal/config"
)

func TestNewAuth_NoSecretPassesThrough(t *testing.T) {
	authMW, requireScope, err := newAuth(config.AuthConfig{})
	require.NoError(t, err)

	h := authMW(requireScope(auth.ScopeIncidents)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestNewAuth_WithSecretRejectsAnonymous(t *testing.T) {
	authMW, _, err := newAuth(config.AuthConfig{ServiceSecret: "serve-test-secret-at-least-32-bytes!!", Issuer: "companion"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	authMW(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCallerKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.1.1.1:5000"
	assert.Equal(t, "10.1.1.1", callerKey(req))

	ctx := context.WithValue(req.Context(), auth.ServiceClaimsKey, &auth.ServiceClaims{Service: "voice-transport"})
	assert.Equal(t, "svc:voice-transport", callerKey(req.WithContext(ctx)))
}

func TestNewMediaResolver_Static(t *testing.T) {
	r, err := newMediaResolver(config.MediaConfig{StaticBaseURL: "https://media.example", ResolveTimeout: time.Second})
	require.NoError(t, err)

	u, err := r.Resolve(context.Background(), "u1/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "https://media.example/u1/a.jpg", u)
}

func TestNewMediaResolver_Supabase(t *testing.T) {
	r, err := newMediaResolver(config.MediaConfig{
		SupabaseURL: "https://project.supabase.co",
		SupabaseKey: "anon-key",
		Bucket:      "photos",
	})
	require.NoError(t, err)
	assert.NotNil(t, r)
}
