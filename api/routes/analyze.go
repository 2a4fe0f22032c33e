package routes

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"
	"github.com/pkg/errors"
	"gitlab.uncharted.software/WM/analysis-gateway/api/lifecycle"
	"gitlab.uncharted.software/WM/analysis-gateway/api/orchestrator"
	"gitlab.uncharted.software/WM/analysis-gateway/config"
)

// decodeRequest reads a JSON request body into req.
func decodeRequest(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if err := render.DecodeJSON(r.Body, req); err != nil {
		handleError(w, r, http.StatusBadRequest, errors.Wrap(err, "Invalid request body").Error(), Response{})
		return false
	}
	return true
}

// PostAnalyze creates a post request handler scheduling an image analysis.
func PostAnalyze(cfg *config.Config, orch *orchestrator.Orchestrator) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req orchestrator.AnalysisRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		outcome, err := orch.AnalyzeImage(r.Context(), &req)
		if err != nil {
			handleErrorType(w, r, err, req.Parameters(), cfg.Logger)
			return
		}
		handleJSON(w, r, http.StatusAccepted, outcome)
	}
}

// PostImageMetadata creates a post request handler returning the registry metadata of an image.
func PostImageMetadata(cfg *config.Config, orch *orchestrator.Orchestrator) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req orchestrator.ImageMetadataRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		metadata, err := orch.ImageMetadata(r.Context(), &req)
		if err != nil {
			handleErrorType(w, r, err, req.Parameters(), cfg.Logger)
			return
		}
		handleJSON(w, r, http.StatusOK, metadata)
	}
}

// GetAnalysisByHash creates a get request handler resolving the analysis scheduled for an image digest.
func GetAnalysisByHash(cfg *config.Config, orch *orchestrator.Orchestrator, resolver *lifecycle.Resolver, op Operation) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		digest := chi.URLParam(r, "image_hash")
		handle, err := orch.AnalysisForDigest(r.Context(), digest)
		if err != nil {
			handleErrorType(w, r, err, Response{"image_hash": digest}, cfg.Logger)
			return
		}
		resolution, err := resolver.Resolve(r.Context(), op.Target, handle)
		if err != nil {
			handleErrorType(w, r, err, Response{"analysis_id": handle, "image_hash": digest}, cfg.Logger)
			return
		}
		handleResolution(w, r, op.Name, handle, resolution)
	}
}
