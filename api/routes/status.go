package routes

import (
	"net/http"

	"gitlab.uncharted.software/WM/analysis-gateway/api/tracker"
	"gitlab.uncharted.software/WM/analysis-gateway/config"
)

// StatusResponse provides the number of jobs currently tracked, and whether or not the
// the tracker routine has been stopped, or is running.
type StatusResponse struct {
	Count     int  `json:"count"`
	IsRunning bool `json:"is_running"`
}

// StatusRequest creates a get request handler that will return status info for the job tracker.
func StatusRequest(cfg *config.Config, jobTracker *tracker.Tracker) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		handleJSON(w, r, http.StatusOK, StatusResponse{Count: jobTracker.Size(), IsRunning: jobTracker.Running()})
	}
}
