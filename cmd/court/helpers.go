package main

import (
	"encoding/json"
	"net/http"

	"github.com/opencawt/court/pkg/api"
)

// decodeJSON reads and decodes a request body into dst, rejecting unknown
// fields so typo'd clients fail loudly instead of silently dropping data.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header, used by the internal endpoints that authenticate the seal
// worker and the court operator rather than a signed agent request.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func writeValidationError(w http.ResponseWriter, err error) {
	api.WriteBadRequest(w, err.Error())
}
