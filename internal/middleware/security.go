package middleware

import "net/http"

// responseHeaders are set on every response. The API serves JSON only, so
// nothing may be framed, cached or embedded by another origin.
var responseHeaders = map[string]string{
	"X-Content-Type-Options":       "nosniff",
	"X-Frame-Options":              "DENY",
	"Referrer-Policy":              "no-referrer",
	"Content-Security-Policy":      "default-src 'none'; frame-ancestors 'none'",
	"Cross-Origin-Resource-Policy": "same-origin",
	"Cache-Control":                "no-store",
}

// SecurityHeaders adds responseHeaders before the handler runs.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for k, v := range responseHeaders {
			h.Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}
