package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// requestLog collects fields that inner middleware learn after Logger has run.
type requestLog struct {
	userID int64
}

const requestLogKey contextKey = "request_log"

// noteUserID records the caller on the request's log entry, if there is one.
func noteUserID(ctx context.Context, id int64) {
	if rl, ok := ctx.Value(requestLogKey).(*requestLog); ok {
		rl.userID = id
	}
}

// Logger logs one line per request. A websocket upgrade that the handler took
// over is logged once, when the session ends, with its duration.
func Logger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rl := &requestLog{}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				status := ww.Status()
				hijacked := isWebsocketUpgrade(r) && status == 0

				var event *zerolog.Event
				switch {
				case hijacked:
					status = http.StatusSwitchingProtocols
					event = logger.Info()
				case status >= 500:
					event = logger.Error()
				case status >= 400:
					event = logger.Warn()
				default:
					event = logger.Info()
				}

				event = event.
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", status).
					Dur("latency", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("remote_addr", r.RemoteAddr)
				if rl.userID != 0 {
					event = event.Int64("user_id", rl.userID)
				}

				if hijacked {
					event.Bool("websocket", true).Msg("websocket session ended")
					return
				}
				event.Msg("request completed")
			}()

			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), requestLogKey, rl)))
		})
	}
}

func isWebsocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
