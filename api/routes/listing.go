package routes

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"
	"gitlab.uncharted.software/WM/analysis-gateway/api/graph"
	"gitlab.uncharted.software/WM/analysis-gateway/api/helpers"
	"gitlab.uncharted.software/WM/analysis-gateway/api/storage"
	"gitlab.uncharted.software/WM/analysis-gateway/config"
)

func pageParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	page, err := helpers.PageParam(r)
	if err != nil {
		handleError(w, r, http.StatusBadRequest, err.Error(), Response{"page": r.URL.Query().Get("page")})
		return 0, false
	}
	return page, true
}

// ListDocuments creates a get request handler listing the identifiers of stored documents.
func ListDocuments(cfg *config.Config, store storage.DocumentStore) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		page, ok := pageParam(w, r)
		if !ok {
			return
		}
		ids, err := store.List(r.Context())
		if err != nil {
			handleErrorType(w, r, err, Response{"page": page}, cfg.Logger)
			return
		}
		listing := helpers.Paginate(ids, page, cfg.Environment.PageSize)
		handleListing(w, r, listing.Items, len(listing.Items), page, listing.PageSize, Response{})
	}
}

// ListRuntimeEnvironments creates a get request handler listing runtime environments known to the graph.
func ListRuntimeEnvironments(cfg *config.Config, db graph.Database) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		page, ok := pageParam(w, r)
		if !ok {
			return
		}
		results, err := db.RuntimeEnvironments(r.Context(), page, cfg.Environment.PageSize)
		if err != nil {
			handleErrorType(w, r, err, Response{"page": page}, cfg.Logger)
			return
		}
		handleListing(w, r, results, len(results), page, cfg.Environment.PageSize, Response{})
	}
}

// GetRuntimeEnvironment creates a get request handler returning the packages of a runtime
// environment as seen by one of its analyses, the latest one by default.
func GetRuntimeEnvironment(cfg *config.Config, db graph.Database) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "runtime_environment_name")
		analysisID := r.URL.Query().Get("analysis_id")
		parameters := Response{"runtime_environment_name": name, "analysis_id": nil}
		if analysisID != "" {
			parameters["analysis_id"] = analysisID
		}

		environment, err := db.RuntimeEnvironment(r.Context(), name, analysisID)
		if errors.Is(err, graph.ErrNotFound) {
			handleError(w, r, http.StatusNotFound, err.Error(), parameters)
			return
		}
		if err != nil {
			handleErrorType(w, r, err, parameters, cfg.Logger)
			return
		}
		handleJSON(w, r, http.StatusOK, Response{
			"results":       environment.Packages,
			"analysis":      environment.Analysis,
			"results_count": len(environment.Packages),
			"parameters":    parameters,
		})
	}
}

// ListRuntimeEnvironmentAnalyses creates a get request handler listing analyses of a runtime environment.
func ListRuntimeEnvironmentAnalyses(cfg *config.Config, db graph.Database) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "runtime_environment_name")
		page, ok := pageParam(w, r)
		if !ok {
			return
		}
		parameters := Response{"runtime_environment_name": name}
		results, err := db.RuntimeEnvironmentAnalyses(r.Context(), name, page, cfg.Environment.PageSize)
		if err != nil {
			handleErrorType(w, r, err, parameters, cfg.Logger)
			return
		}
		handleListing(w, r, results, len(results), page, cfg.Environment.PageSize, parameters)
	}
}

// ListPythonPackageIndexes creates a get request handler listing Python package indexes registered in the graph.
func ListPythonPackageIndexes(cfg *config.Config, db graph.Database) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		indexes, err := db.PythonPackageIndexes(r.Context())
		if err != nil {
			handleErrorType(w, r, err, Response{}, cfg.Logger)
			return
		}
		handleJSON(w, r, http.StatusOK, indexes)
	}
}
