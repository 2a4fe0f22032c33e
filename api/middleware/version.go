package middleware

import "net/http"

// Version response headers.
const (
	ThothVersionHeader   = "X-Thoth-Version"
	ServiceVersionHeader = "X-User-API-Service-Version"
)

// Version adds the deployment and service versions to every response.
func Version(thothVersion string, serviceVersion string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(ThothVersionHeader, thothVersion)
			w.Header().Set(ServiceVersionHeader, serviceVersion)
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}
