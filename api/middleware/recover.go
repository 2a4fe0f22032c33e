package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/render"
	"go.uber.org/zap"
)

// InternalErrorMessage is reported for every failure the client cannot act upon.
const InternalErrorMessage = "Internal server error occurred, please contact administrator with provided details."

// InternalErrorResponse builds the body answered for internal failures. Only the type of the
// cause and the time are reported so that logs can be correlated without leaking details.
func InternalErrorResponse(cause interface{}, now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"error": InternalErrorMessage,
		"details": map[string]interface{}{
			"type":     fmt.Sprintf("%T", cause),
			"datetime": now.UTC().Format(time.RFC3339),
		},
	}
}

// Recover answers panicking requests with a JSON internal error.
func Recover(l *zap.SugaredLogger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					if rvr == http.ErrAbortHandler {
						panic(rvr)
					}
					l.Errorf("Panic serving %s %s: %v\n%s", r.Method, r.URL.Path, rvr, debug.Stack())
					render.Status(r, http.StatusInternalServerError)
					render.JSON(w, r, InternalErrorResponse(rvr, time.Now()))
				}
			}()
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}
