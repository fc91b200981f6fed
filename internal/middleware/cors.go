package middleware

import (
	"net/http"
	"slices"

	"github.com/go-chi/cors"
)

// CORS returns cors.Options for browser callers such as the caregiver
// dashboard. Callers send bearer tokens, so credentials are never allowed.
// An empty list refuses every cross-origin request; "*" accepts any origin.
func CORS(allowedOrigins []string) cors.Options {
	opts := cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id", "Retry-After"},
		MaxAge:         600,
	}
	if slices.Contains(allowedOrigins, "*") {
		opts.AllowedOrigins = []string{"*"}
		return opts
	}
	// go-chi/cors treats an empty AllowedOrigins as "*".
	opts.AllowOriginFunc = func(_ *http.Request, origin string) bool {
		return slices.Contains(allowedOrigins, origin)
	}
	return opts
}
