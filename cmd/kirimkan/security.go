package main

import (
	"crypto/subtle"
	"net/http"

	"kirimkan/internal/errors"
	"kirimkan/internal/httputil"
)

// apiKeyFromRequest extracts the shared secret from a request. Browser
// WebSocket clients cannot set headers, so a token query parameter is
// accepted as well.
func apiKeyFromRequest(r *http.Request) string {
	if key := r.Header.Get("X-Api-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("token")
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// requireAPIKey guards the API surface with the configured shared
// secret. When no key is configured the check is skipped entirely.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		if !secureCompare(apiKeyFromRequest(r), s.cfg.APIKey) {
			s.logger.WithFields(map[string]interface{}{
				"remote_ip": httputil.GetClientIP(r),
				"url":       r.URL.Path,
			}).Warn("Rejected request with invalid API key")
			s.writeError(w, r, errors.NewAuthError("invalid or missing API key"))
			return
		}

		next.ServeHTTP(w, r)
	})
}
