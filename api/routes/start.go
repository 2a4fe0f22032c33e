package routes

import (
	"net/http"

	"gitlab.uncharted.software/WM/analysis-gateway/api/tracker"
	"gitlab.uncharted.software/WM/analysis-gateway/config"
)

// StartRequest will start the job tracker.  If its already running then the request does nothing.
func StartRequest(cfg *config.Config, jobTracker *tracker.Tracker) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		jobTracker.Start()
		cfg.Logger.Info("Job tracker started")
		w.WriteHeader(http.StatusNoContent)
	}
}
