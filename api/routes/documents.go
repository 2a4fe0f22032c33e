package routes

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"
	"gitlab.uncharted.software/WM/analysis-gateway/api/lifecycle"
	"gitlab.uncharted.software/WM/analysis-gateway/config"
)

// Operation binds a lifecycle target to the name it is reported under.
type Operation struct {
	Name   string
	Target lifecycle.Target
}

// GetDocument creates a get request handler returning the result of a job, or the reason why it
// is not available yet.
func GetDocument(cfg *config.Config, resolver *lifecycle.Resolver, op Operation, param string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		handle := chi.URLParam(r, param)
		resolution, err := resolver.Resolve(r.Context(), op.Target, handle)
		if err != nil {
			handleErrorType(w, r, err, Response{param: handle}, cfg.Logger)
			return
		}
		handleResolution(w, r, op.Name, handle, resolution)
	}
}

// GetJobStatus creates a get request handler returning the scheduler status of a job.
func GetJobStatus(cfg *config.Config, resolver *lifecycle.Resolver, op Operation) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		handle := chi.URLParam(r, "analysis_id")
		parameters := Response{"analysis_id": handle}
		status, err := resolver.Status(r.Context(), op.Target, handle)
		if errors.Is(err, lifecycle.ErrNotFound) {
			handleError(w, r, http.StatusNotFound,
				fmt.Sprintf("Requested status for analysis '%s' was not found", handle), parameters)
			return
		}
		if err != nil {
			handleErrorType(w, r, err, parameters, cfg.Logger)
			return
		}
		handleJSON(w, r, http.StatusOK, Response{"status": status, "parameters": parameters})
	}
}

// GetJobLog creates a get request handler returning the log of a job.
func GetJobLog(cfg *config.Config, resolver *lifecycle.Resolver, op Operation) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		handle := chi.URLParam(r, "analysis_id")
		parameters := Response{"analysis_id": handle}
		log, err := resolver.Log(r.Context(), op.Target, handle)
		if errors.Is(err, lifecycle.ErrNotFound) {
			handleError(w, r, http.StatusNotFound,
				fmt.Sprintf("Requested log for analysis '%s' was not found", handle), parameters)
			return
		}
		if err != nil {
			handleErrorType(w, r, err, parameters, cfg.Logger)
			return
		}
		handleJSON(w, r, http.StatusOK, Response{"log": log, "parameters": parameters})
	}
}
