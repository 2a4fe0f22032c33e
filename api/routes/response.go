package routes

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/render"
	"github.com/pkg/errors"
	"gitlab.uncharted.software/WM/analysis-gateway/api/lifecycle"
	"gitlab.uncharted.software/WM/analysis-gateway/api/metrics"
	api_middleware "gitlab.uncharted.software/WM/analysis-gateway/api/middleware"
	"gitlab.uncharted.software/WM/analysis-gateway/api/orchestrator"
	"go.uber.org/zap"
)

// Response is the body of every answer that is not a stored document.
type Response map[string]interface{}

func handleJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	render.Status(r, status)
	render.JSON(w, r, data)
}

func handleError(w http.ResponseWriter, r *http.Request, status int, message string, parameters interface{}) {
	handleJSON(w, r, status, Response{"error": message, "parameters": parameters})
}

// handleErrorType answers an error returned by the orchestrators or the lifecycle resolver.
// Errors of unknown kind are internal and only their type is reported.
func handleErrorType(w http.ResponseWriter, r *http.Request, err error, parameters interface{}, logger *zap.SugaredLogger) {
	var clientErr *orchestrator.Error
	switch {
	case errors.As(err, &clientErr):
		if clientErr.Parameters != nil {
			parameters = clientErr.Parameters
		}
		handleError(w, r, kindStatus(clientErr.Kind), clientErr.Message, parameters)
	case errors.Is(err, lifecycle.ErrInvalidHandle):
		handleError(w, r, http.StatusBadRequest, "Wrong analysis id provided", parameters)
	default:
		logger.Errorf("%+v", err)
		handleJSON(w, r, http.StatusInternalServerError, api_middleware.InternalErrorResponse(errors.Cause(err), time.Now()))
	}
}

func kindStatus(kind orchestrator.Kind) int {
	switch kind {
	case orchestrator.KindInvalidInput:
		return http.StatusBadRequest
	case orchestrator.KindUnauthorized:
		return http.StatusUnauthorized
	case orchestrator.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// handleResolution answers a result query from the resolved phase of the job.
func handleResolution(w http.ResponseWriter, r *http.Request, operation string, handle string, resolution *lifecycle.Resolution) {
	metrics.ResolutionsTotal.WithLabelValues(operation, string(resolution.Phase)).Inc()
	parameters := Response{"analysis_id": handle}

	switch resolution.Phase {
	case lifecycle.Succeeded:
		handleJSON(w, r, http.StatusOK, resolution.Result)
	case lifecycle.InProgress:
		handleJSON(w, r, http.StatusAccepted, Response{
			"error":      "Analysis is still in progress",
			"status":     resolution.Status,
			"parameters": parameters,
		})
	case lifecycle.Scheduling:
		handleJSON(w, r, http.StatusAccepted, Response{
			"error":      "Analysis is being scheduled",
			"status":     resolution.Status,
			"parameters": parameters,
		})
	case lifecycle.Failed:
		handleJSON(w, r, http.StatusBadRequest, Response{
			"error":      "Analysis was not successful",
			"status":     resolution.Status,
			"parameters": parameters,
		})
	default:
		handleError(w, r, http.StatusNotFound,
			fmt.Sprintf("Requested result for analysis '%s' was not found", handle), parameters)
	}
}

// handleListing answers one page of a listing. The page metadata is reported in headers too.
func handleListing(w http.ResponseWriter, r *http.Request, results interface{}, count int, page int, pageSize int, parameters Response) {
	w.Header().Set("page", fmt.Sprint(page))
	w.Header().Set("page_size", fmt.Sprint(pageSize))
	w.Header().Set("results_count", fmt.Sprint(count))
	parameters["page"] = page
	handleJSON(w, r, http.StatusOK, Response{"results": results, "parameters": parameters})
}
