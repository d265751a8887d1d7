package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type logInfoKey struct{}

// logInfo collects request details that are only known further down the
// chain, like the signed-in user.
type logInfo struct {
	userID uuid.UUID
}

// noteUser records the signed-in user for the request log line.
func noteUser(ctx context.Context, userID uuid.UUID) {
	if info, ok := ctx.Value(logInfoKey{}).(*logInfo); ok {
		info.userID = userID
	}
}

// quietPaths are polled by infrastructure and logged at debug level.
var quietPaths = map[string]bool{"/health": true, "/metrics": true}

// Logger returns a request logging middleware using zerolog.
func Logger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			info := &logInfo{}

			// Wrap response writer to capture status code
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				status := ww.Status()
				var ev *zerolog.Event
				switch {
				case status >= 500:
					ev = logger.Error()
				case status >= 400:
					ev = logger.Warn()
				case quietPaths[r.URL.Path]:
					ev = logger.Debug()
				default:
					ev = logger.Info()
				}

				ev = ev.
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", status).
					Dur("latency", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("remote_addr", r.RemoteAddr)
				if info.userID != uuid.Nil {
					ev = ev.Str("user", info.userID.String())
				}
				if sid := r.Header.Get("X-Session-ID"); sid != "" {
					ev = ev.Str("session", sid)
				}
				ev.Msg("request completed")
			}()

			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), logInfoKey{}, info)))
		})
	}
}
