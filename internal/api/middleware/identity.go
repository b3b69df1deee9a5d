package middleware

import (
	"context"
	"net/http"
	"strconv"
)

type contextKey string

// UserIDContextKey holds the caller's user id.
const UserIDContextKey contextKey = "user_id"

// UserIDHeader carries the caller-asserted identity. It is trusted as-is;
// credential checks happen at login.
const UserIDHeader = "User-Id"

// RequireUser rejects requests without a valid User-Id header and stores the id
// in the request context. Websocket clients may pass userId as a query parameter
// instead, since browsers cannot set headers on the upgrade request.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(UserIDHeader)
		if raw == "" {
			raw = r.URL.Query().Get("userId")
		}
		if raw == "" {
			jsonError(w, http.StatusUnauthorized, "User-Id header required")
			return
		}

		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			jsonError(w, http.StatusBadRequest, "invalid User-Id header")
			return
		}

		noteUserID(r.Context(), id)
		ctx := context.WithValue(r.Context(), UserIDContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserIDFromContext returns the caller's user id, or 0 when absent.
func UserIDFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(UserIDContextKey).(int64)
	return id
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
