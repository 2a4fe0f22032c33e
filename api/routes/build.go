package routes

import (
	"net/http"

	"gitlab.uncharted.software/WM/analysis-gateway/api/orchestrator"
	"gitlab.uncharted.software/WM/analysis-gateway/config"
)

// PostBuildLog creates a post request handler storing a build log.
func PostBuildLog(cfg *config.Config, orch *orchestrator.Orchestrator) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var log map[string]interface{}
		if !decodeRequest(w, r, &log) {
			return
		}
		documentID, err := orch.StoreBuildLog(r.Context(), log)
		if err != nil {
			handleErrorType(w, r, err, Response{}, cfg.Logger)
			return
		}
		handleJSON(w, r, http.StatusAccepted, Response{"document_id": documentID})
	}
}

// PostBuildAnalysis creates a post request handler scheduling a build log analysis.
func PostBuildAnalysis(cfg *config.Config, orch *orchestrator.Orchestrator) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req orchestrator.BuildLogAnalysisRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		outcome, err := orch.AnalyzeBuildLog(r.Context(), &req)
		if err != nil {
			handleErrorType(w, r, err, req.Parameters(), cfg.Logger)
			return
		}
		handleJSON(w, r, http.StatusAccepted, outcome)
	}
}

// PostBuild creates a post request handler scheduling the analyses of an image build.
func PostBuild(cfg *config.Config, orch *orchestrator.Orchestrator) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req orchestrator.BuildRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		outcome, err := orch.Build(r.Context(), &req)
		if err != nil {
			handleErrorType(w, r, err, req.Parameters(), cfg.Logger)
			return
		}
		handleJSON(w, r, http.StatusAccepted, outcome)
	}
}
