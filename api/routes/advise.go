package routes

import (
	"net/http"

	"gitlab.uncharted.software/WM/analysis-gateway/api/orchestrator"
	"gitlab.uncharted.software/WM/analysis-gateway/config"
)

// PostAdvise creates a post request handler scheduling a stack recommendation.
func PostAdvise(cfg *config.Config, orch *orchestrator.Orchestrator) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req orchestrator.AdviseRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		outcome, err := orch.Advise(r.Context(), &req)
		if err != nil {
			handleErrorType(w, r, err, req.Parameters(), cfg.Logger)
			return
		}
		handleJSON(w, r, http.StatusAccepted, outcome)
	}
}

// PostProvenance creates a post request handler scheduling a provenance check.
func PostProvenance(cfg *config.Config, orch *orchestrator.Orchestrator) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req orchestrator.ProvenanceRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		outcome, err := orch.CheckProvenance(r.Context(), &req)
		if err != nil {
			handleErrorType(w, r, err, req.Parameters(), cfg.Logger)
			return
		}
		handleJSON(w, r, http.StatusAccepted, outcome)
	}
}
