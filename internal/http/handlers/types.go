// Package handlers provides HTTP handlers for vodarr.
package handlers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// decodeSourceRef turns the {source} path value into a source URL. The
// value may be URL-safe base64 of the source URL, which keeps nested URLs
// out of path routing entirely, or the URL itself percent-encoded.
func decodeSourceRef(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("empty source")
	}

	candidates := []string{raw}
	if decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "=")); err == nil {
		candidates = append([]string{string(decoded)}, candidates...)
	}

	for _, c := range candidates {
		u, err := url.Parse(c)
		if err != nil {
			continue
		}
		if u.Scheme == "http" || u.Scheme == "https" {
			return c, nil
		}
	}
	return "", fmt.Errorf("source is not an http(s) URL")
}

// errorBody is the JSON error envelope for raw stream routes. API routes
// registered through Huma use its RFC 7807 responses instead.
type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg, reason string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg, Reason: reason})
}

// writeStreamHeaders sets the headers every stream response carries. The
// payload is a progressive container of unknown length, so ranges and
// caching are both off.
func writeStreamHeaders(h http.Header) {
	h.Set("Content-Type", "video/mp4")
	h.Set("Accept-Ranges", "none")
	h.Set("Cache-Control", "no-store")
}
