package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/cors"
	"github.com/stretchr/testify/assert"
)

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/users/x/memory", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "same-origin", rec.Header().Get("Cross-Origin-Resource-Policy"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestCORS_Origins(t *testing.T) {
	preflight := func(origins []string, origin string) string {
		h := cors.Handler(CORS(origins))(okHandler())
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/users/x/incidents", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
		return rec.Header().Get("Access-Control-Allow-Origin")
	}

	assert.Empty(t, preflight(nil, "https://care.example"))
	assert.Equal(t, "https://care.example", preflight([]string{"https://care.example"}, "https://care.example"))
	assert.Empty(t, preflight([]string{"https://care.example"}, "https://evil.example"))
	assert.Equal(t, "*", preflight([]string{"*"}, "https://anywhere.example"))
}
