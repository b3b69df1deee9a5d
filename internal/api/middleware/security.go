package middleware

import (
	"fmt"
	"net/http"
	"strings"
)

// SecurityHeaders adds security headers to all responses. Chat history and
// identity lookups under /api are never cacheable.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		// JSON and websocket only, nothing to render
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		if strings.HasPrefix(r.URL.Path, "/api/") {
			h.Set("Cache-Control", "no-store")
		}

		next.ServeHTTP(w, r)
	})
}

// MaxBodySize rejects request bodies larger than maxBytes. Message content is
// bounded much lower by the message log, so this only stops oversized payloads
// before they are decoded.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	limitMsg := fmt.Sprintf("request body exceeds %d bytes", maxBytes)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				jsonError(w, http.StatusRequestEntityTooLarge, limitMsg)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// ValidateRequest rejects requests that no route of this API can serve:
// bodies that are not JSON on /api writes, paths with segments outside the
// id, username and phone alphabet, and query values carrying markup or
// control characters.
func ValidateRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hasBody(r) && strings.HasPrefix(r.URL.Path, "/api/") {
			if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
				jsonError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
				return
			}
		}

		if !validPath(r.URL.Path) {
			jsonError(w, http.StatusBadRequest, "invalid path")
			return
		}

		for name, values := range r.URL.Query() {
			for _, v := range append(values, name) {
				if !validQueryValue(v) {
					jsonError(w, http.StatusBadRequest, "invalid query parameter")
					return
				}
			}
		}

		next.ServeHTTP(w, r)
	})
}

func hasBody(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return r.ContentLength > 0
	}
	return false
}

// validPath accepts "/" and slash-separated segments made of letters, digits,
// '-', '_' and '+' (E.164 phone numbers). A single trailing slash is allowed.
func validPath(path string) bool {
	if path == "/" {
		return true
	}
	if !strings.HasPrefix(path, "/") {
		return false
	}
	segments := strings.Split(strings.TrimSuffix(path[1:], "/"), "/")
	for _, seg := range segments {
		if seg == "" {
			return false
		}
		for _, c := range seg {
			if !isPathRune(c) {
				return false
			}
		}
	}
	return true
}

func isPathRune(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '_', c == '+':
		return true
	}
	return false
}

func validQueryValue(v string) bool {
	for _, c := range v {
		if c < 0x20 || c == 0x7f || c == '<' || c == '>' {
			return false
		}
	}
	lower := strings.ToLower(v)
	return !strings.Contains(lower, "javascript:") && !strings.Contains(lower, "vbscript:")
}
