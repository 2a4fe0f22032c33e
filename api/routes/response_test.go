package routes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.uncharted.software/WM/analysis-gateway/api/lifecycle"
	api_middleware "gitlab.uncharted.software/WM/analysis-gateway/api/middleware"
	"gitlab.uncharted.software/WM/analysis-gateway/api/orchestrator"
	"gitlab.uncharted.software/WM/analysis-gateway/api/scheduler"
	"go.uber.org/zap"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	body := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHandleErrorType(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid input", &orchestrator.Error{Kind: orchestrator.KindInvalidInput, Message: "bad"}, http.StatusBadRequest},
		{"unauthorized", &orchestrator.Error{Kind: orchestrator.KindUnauthorized, Message: "denied"}, http.StatusUnauthorized},
		{"not found", &orchestrator.Error{Kind: orchestrator.KindNotFound, Message: "missing"}, http.StatusNotFound},
		{"wrong prefix", errors.Wrap(lifecycle.ErrInvalidHandle, "adviser-1"), http.StatusBadRequest},
		{"unreachable", errors.Wrap(lifecycle.ErrUnreachableState, "Unknown"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		handleErrorType(rec, httptest.NewRequest("GET", "/", nil), tc.err, Response{"analysis_id": "x"}, zap.NewNop().Sugar())
		assert.Equal(t, tc.status, rec.Code, tc.name)
		assert.Contains(t, decode(t, rec), "error", tc.name)
	}
}

type quotaError struct{}

func (quotaError) Error() string { return "quota exceeded for namespace thoth" }

func TestHandleErrorTypeInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	handleErrorType(rec, httptest.NewRequest("GET", "/", nil),
		&scheduler.DispatchError{Operation: "adviser", Err: quotaError{}},
		Response{}, zap.NewNop().Sugar())

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, api_middleware.InternalErrorMessage, body["error"])
	assert.Equal(t, "routes.quotaError", body["details"].(map[string]interface{})["type"])
	assert.NotContains(t, rec.Body.String(), "quota exceeded")
}

func TestHandleResolution(t *testing.T) {
	exitCode := int32(7)
	cases := []struct {
		resolution lifecycle.Resolution
		status     int
		message    string
	}{
		{lifecycle.Resolution{Phase: lifecycle.InProgress, Status: &scheduler.StatusReport{State: scheduler.StateRunning}},
			http.StatusAccepted, "Analysis is still in progress"},
		{lifecycle.Resolution{Phase: lifecycle.Scheduling, Status: &scheduler.StatusReport{State: scheduler.StateWaiting}},
			http.StatusAccepted, "Analysis is being scheduled"},
		{lifecycle.Resolution{Phase: lifecycle.Failed, Status: &scheduler.StatusReport{State: scheduler.StateTerminated, ExitCode: &exitCode}},
			http.StatusBadRequest, "Analysis was not successful"},
		{lifecycle.Resolution{Phase: lifecycle.NotFound},
			http.StatusNotFound, "Requested result for analysis 'adviser-1' was not found"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		resolution := tc.resolution
		handleResolution(rec, httptest.NewRequest("GET", "/", nil), "adviser", "adviser-1", &resolution)
		assert.Equal(t, tc.status, rec.Code, tc.message)
		body := decode(t, rec)
		assert.Equal(t, tc.message, body["error"])
		assert.Equal(t, "adviser-1", body["parameters"].(map[string]interface{})["analysis_id"])
	}

	rec := httptest.NewRecorder()
	handleResolution(rec, httptest.NewRequest("GET", "/", nil), "adviser", "adviser-1",
		&lifecycle.Resolution{Phase: lifecycle.Succeeded, Result: map[string]interface{}{"result": "ok"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["result"])
}
