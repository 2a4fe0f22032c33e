package orchestrator

import (
	"context"

	"gitlab.uncharted.software/WM/analysis-gateway/api/fingerprint"
	"gitlab.uncharted.software/WM/analysis-gateway/api/scheduler"
)

// BuildLogPrefix prefixes the identifiers of stored build logs.
const BuildLogPrefix = "buildlog-"

// StoreBuildLog stores a build log and returns its document id. Identical logs share a document.
func (o *Orchestrator) StoreBuildLog(ctx context.Context, log map[string]interface{}) (string, error) {
	if len(log) == 0 {
		return "", newError(KindInvalidInput, map[string]interface{}{}, "No log provided")
	}
	logFingerprint, err := fingerprint.Compute(log)
	if err != nil {
		return "", err
	}
	documentID := BuildLogPrefix + logFingerprint
	if err := o.BuildLogs.Store(ctx, documentID, log); err != nil {
		return "", err
	}
	return documentID, nil
}

// AnalyzeBuildLog stores the build log and schedules its analysis.
func (o *Orchestrator) AnalyzeBuildLog(ctx context.Context, req *BuildLogAnalysisRequest) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	parameters := req.Parameters()

	documentID, err := o.StoreBuildLog(ctx, req.BuildLog)
	if err != nil {
		return nil, err
	}
	parameters["buildlog_document_id"] = documentID

	key, err := fingerprint.Compute(map[string]interface{}{
		"buildlog_document_id": documentID,
		"base_image":           nullable(req.BaseImage),
		"output_image":         nullable(req.OutputImage),
		"environment_type":     nullable(req.EnvironmentType),
		"origin":               nullable(req.Origin),
	})
	if err != nil {
		return nil, err
	}

	store := o.Caches.BuildAnalyses
	analysisID, cached, err := o.memoize(ctx, store, key, o.CacheExpiration(), req.Force, func(ctx context.Context) (string, error) {
		return o.dispatch(ctx, scheduler.JobRequest{
			Operation:  o.buildAnalyze,
			Parameters: parameters,
			Debug:      req.Debug,
		}, store, key)
	})
	if err != nil {
		return nil, err
	}
	return &Outcome{
		AnalysisID:         analysisID,
		Cached:             cached,
		Parameters:         parameters,
		BuildlogDocumentID: documentID,
	}, nil
}

// BuildStep is the outcome of one analysis of a build.
type BuildStep struct {
	AnalysisID string `json:"analysis_id"`
	Cached     bool   `json:"cached"`
}

// BuildOutcome is the answer to a build request. Steps that were not requested are nil.
type BuildOutcome struct {
	OutputImageAnalysis *BuildStep             `json:"output_image_analysis"`
	BaseImageAnalysis   *BuildStep             `json:"base_image_analysis"`
	BuildlogAnalysis    *BuildStep             `json:"buildlog_analysis"`
	BuildlogDocumentID  *string                `json:"buildlog_document_id"`
	Parameters          map[string]interface{} `json:"parameters"`
}

func stepOf(outcome *Outcome) *BuildStep {
	return &BuildStep{AnalysisID: outcome.AnalysisID, Cached: outcome.Cached}
}

// Build runs the analyses describing an image build: the output image, the base image and the
// build log, in that order. The first failing analysis aborts the remaining ones.
func (o *Orchestrator) Build(ctx context.Context, req *BuildRequest) (*BuildOutcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	parameters := req.Parameters()
	if req.OutputImage == "" && req.BaseImage == "" && len(req.BuildLog) == 0 {
		return nil, newError(KindInvalidInput, parameters, "No information provided")
	}

	result := &BuildOutcome{Parameters: parameters}
	if req.OutputImage != "" {
		outcome, err := o.AnalyzeImage(ctx, req.imageAnalysis(req.OutputImage))
		if err != nil {
			return nil, withParameters(err, parameters)
		}
		result.OutputImageAnalysis = stepOf(outcome)
	}
	if req.BaseImage != "" {
		outcome, err := o.AnalyzeImage(ctx, req.imageAnalysis(req.BaseImage))
		if err != nil {
			return nil, withParameters(err, parameters)
		}
		result.BaseImageAnalysis = stepOf(outcome)
	}
	if len(req.BuildLog) > 0 {
		outcome, err := o.AnalyzeBuildLog(ctx, req.buildLogAnalysis())
		if err != nil {
			return nil, withParameters(err, parameters)
		}
		result.BuildlogAnalysis = stepOf(outcome)
		result.BuildlogDocumentID = &outcome.BuildlogDocumentID
	}
	return result, nil
}

// withParameters reports a failed step against the parameters of the whole build.
func withParameters(err error, parameters map[string]interface{}) error {
	if e, ok := err.(*Error); ok {
		return &Error{Kind: e.Kind, Message: e.Message, Parameters: parameters}
	}
	return err
}
