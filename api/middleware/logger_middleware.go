package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"go.uber.org/zap"
)

// Logger creates a middleware wrapper around a zap Sugared logger that logs
// HTTP requests. Query strings are logged as a hash since they may carry credentials.
func Logger(l *zap.SugaredLogger) func(next http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			lw := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			t1 := time.Now()
			h.ServeHTTP(lw, r)
			if lw.Status() == 0 {
				lw.WriteHeader(http.StatusOK)
			}
			logString := newRequestLogger().
				requestID(middleware.GetReqID(r.Context())).
				requestType(r.Method).
				request(r.URL.Path).
				params(r.URL.RawQuery).
				status(lw.Status()).
				size(lw.BytesWritten()).
				duration(time.Since(t1)).
				render()
			switch {
			case lw.Status() >= 500:
				l.Warn(logString)
			case r.URL.Path == "/liveness" || r.URL.Path == "/readiness" || r.URL.Path == "/metrics":
				// probes and scrapes would drown everything else
				l.Debug(logString)
			default:
				l.Info(logString)
			}
		}
		return http.HandlerFunc(fn)
	}
}
