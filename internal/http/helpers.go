package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/autoreply/internal/providers"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// RequireToken rejects requests without the bearer token. An empty token disables the check.
func RequireToken(token string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token != "" && extractBearerToken(r) != token {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// friendlyVerifyError extracts a human-readable message from backend errors.
// Raw bodies often look like `{"error":{"message":"Incorrect API key provided"}}`.
func friendlyVerifyError(err error) string {
	var httpErr *providers.HTTPError
	if !errors.As(err, &httpErr) {
		return err.Error()
	}
	if httpErr.Status == http.StatusUnauthorized || httpErr.Status == http.StatusForbidden {
		return "invalid API key"
	}

	var body struct {
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(httpErr.Body), &body) == nil {
		if body.Error.Message != "" {
			return body.Error.Message
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return httpErr.Error()
}
