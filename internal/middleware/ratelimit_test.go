package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func setupRateLimiter(t *testing.T, maxReqs, windowSec int, key KeyFunc) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRateLimiter(client, "turns", maxReqs, windowSec, key), mr
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func send(handler http.Handler, remote, service string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s1/turns", nil)
	req.RemoteAddr = remote
	if service != "" {
		req.Header.Set("X-Service", service)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiter_AllowsUnderLimit(t *testing.T) {
	rl, _ := setupRateLimiter(t, 5, 60, nil)
	handler := rl.Middleware(okHandler())

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, send(handler, "192.168.1.1:12345", "").Code, "request %d", i+1)
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	rl, mr := setupRateLimiter(t, 3, 60, nil)
	handler := rl.Middleware(okHandler())

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, send(handler, "10.0.0.1:12345", "").Code)
	}

	rec := send(handler, "10.0.0.1:12345", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rec.Body.String())
	assert.True(t, mr.Exists("ratelimit:turns:10.0.0.1"))
}

func TestRateLimiter_CustomKey(t *testing.T) {
	byService := func(r *http.Request) string { return r.Header.Get("X-Service") }
	rl, _ := setupRateLimiter(t, 2, 60, byService)
	handler := rl.Middleware(okHandler())

	// Same IP, different callers.
	for i := 0; i < 2; i++ {
		send(handler, "1.1.1.1:1", "transport")
	}
	assert.Equal(t, http.StatusTooManyRequests, send(handler, "1.1.1.1:1", "transport").Code)
	assert.Equal(t, http.StatusOK, send(handler, "1.1.1.1:1", "dashboard").Code)
}

func TestRateLimiter_FailsOpenOnRedisError(t *testing.T) {
	rl, mr := setupRateLimiter(t, 1, 60, nil)
	mr.Close()

	assert.Equal(t, http.StatusOK, send(rl.Middleware(okHandler()), "3.3.3.3:1", "").Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "9.9.9.9:1234"
	assert.Equal(t, "9.9.9.9", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "5.5.5.5, 6.6.6.6")
	assert.Equal(t, "5.5.5.5", ClientIP(req))
}
