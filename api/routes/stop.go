package routes

import (
	"net/http"

	"gitlab.uncharted.software/WM/analysis-gateway/api/tracker"
	"gitlab.uncharted.software/WM/analysis-gateway/config"
)

// StopRequest stops the job tracker.  Dispatched jobs are still tracked, but failures no longer
// invalidate cache records until it is started again.
func StopRequest(cfg *config.Config, jobTracker *tracker.Tracker) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		jobTracker.Stop()
		cfg.Logger.Info("Job tracker stopped")
		w.WriteHeader(http.StatusNoContent)
	}
}
