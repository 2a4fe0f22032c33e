package routes

import (
	"net/http"

	"gitlab.uncharted.software/WM/analysis-gateway/api/tracker"
	"gitlab.uncharted.software/WM/analysis-gateway/config"
)

// JobsRequest returns the jobs currently tracked, oldest first.
func JobsRequest(cfg *config.Config, jobTracker *tracker.Tracker) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := jobTracker.Tracked()
		if err != nil {
			handleErrorType(w, r, err, Response{}, cfg.Logger)
			return
		}
		handleJSON(w, r, http.StatusOK, Response{"jobs": jobs, "count": len(jobs)})
	}
}
