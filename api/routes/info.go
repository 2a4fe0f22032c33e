package routes

import (
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi"
	"gitlab.uncharted.software/WM/analysis-gateway/api/graph"
	"gitlab.uncharted.software/WM/analysis-gateway/config"
)

// APIPrefix is the prefix of every versioned endpoint.
const APIPrefix = "/api/v1"

// GetInfo creates a get request handler describing the deployment.
func GetInfo(cfg *config.Config) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		env := cfg.Environment
		handleJSON(w, r, http.StatusOK, Response{
			"deployment_name":      env.DeploymentName,
			"version":              env.ServiceVersion,
			"graph_addr":           env.GraphAddr,
			"middletier_namespace": env.MiddletierNamespace,
			"backend_namespace":    env.BackendNamespace,
		})
	}
}

// registeredPaths lists the versioned endpoints of the router.
func registeredPaths(routes chi.Routes) []string {
	seen := map[string]bool{}
	_ = chi.Walk(routes, func(method string, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
		route = strings.TrimSuffix(route, "/")
		if strings.HasPrefix(route, APIPrefix) {
			seen[route] = true
		}
		return nil
	})
	paths := make([]string, 0, len(seen))
	for path := range seen {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// ListPaths creates a get request handler listing the versioned endpoints.
func ListPaths(routes chi.Routes) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		handleJSON(w, r, http.StatusOK, Response{"paths": registeredPaths(routes)})
	}
}

func healthy(w http.ResponseWriter, r *http.Request, cfg *config.Config) {
	handleJSON(w, r, http.StatusOK, Response{"status": "ready", "version": cfg.Environment.ServiceVersion})
}

// Liveness creates the liveness probe handler.
func Liveness(cfg *config.Config) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		healthy(w, r, cfg)
	}
}

// Readiness creates the readiness probe handler. The gateway is ready once the advise endpoint is
// routed and the graph database answers.
func Readiness(cfg *config.Config, routes chi.Routes, db graph.Database) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		found := false
		for _, path := range registeredPaths(routes) {
			if path == APIPrefix+"/advise-python" {
				found = true
				break
			}
		}
		if !found {
			cfg.Logger.Error("Advise endpoint was not registered, service not ready")
			handleError(w, r, http.StatusServiceUnavailable, "Advise endpoint was not registered, service not ready", Response{})
			return
		}
		if _, err := db.IsSchemaUpToDate(r.Context()); err != nil {
			cfg.Logger.Errorf("Graph database is not ready: %v", err)
			handleError(w, r, http.StatusServiceUnavailable, "Graph database is not ready", Response{})
			return
		}
		healthy(w, r, cfg)
	}
}
