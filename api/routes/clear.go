package routes

import (
	"net/http"

	"gitlab.uncharted.software/WM/analysis-gateway/api/tracker"
	"gitlab.uncharted.software/WM/analysis-gateway/config"
)

// ClearRequest drops every tracked job.
func ClearRequest(cfg *config.Config, jobTracker *tracker.Tracker) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := jobTracker.Clear(); err != nil {
			handleErrorType(w, r, err, Response{}, cfg.Logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
