package orchestrator

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"gitlab.uncharted.software/WM/analysis-gateway/api/fingerprint"
	"gitlab.uncharted.software/WM/analysis-gateway/api/scheduler"
	"gitlab.uncharted.software/WM/analysis-gateway/api/stack"
)

func stackError(err error, parameters map[string]interface{}) error {
	if !errors.Is(err, stack.ErrInvalidStack) {
		return err
	}
	problem := strings.TrimSuffix(err.Error(), ": "+stack.ErrInvalidStack.Error())
	if problem == stack.ErrInvalidStack.Error() {
		return newError(KindInvalidInput, parameters, "Invalid application stack supplied")
	}
	return newError(KindInvalidInput, parameters, "Invalid application stack supplied: %s", problem)
}

// CheckProvenance schedules a provenance check of a locked stack against the package indexes
// known to the graph database.
func (o *Orchestrator) CheckProvenance(ctx context.Context, req *ProvenanceRequest) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	parameters := req.Parameters()

	project, err := stack.Parse(req.ApplicationStack, true)
	if err != nil {
		return nil, stackError(err, parameters)
	}

	whitelisted, err := o.Graph.PythonPackageIndexURLs(ctx)
	if err != nil {
		return nil, err
	}
	parameters["whitelisted_sources"] = whitelisted

	keyed := project.ToMap()
	keyed["origin"] = nullable(req.Origin)
	keyed["whitelisted_sources"] = whitelisted
	key, err := fingerprint.Compute(keyed)
	if err != nil {
		return nil, err
	}

	store := o.Caches.Provenance
	analysisID, cached, err := o.memoize(ctx, store, key, o.CacheExpiration(), req.Force, func(ctx context.Context) (string, error) {
		return o.dispatch(ctx, scheduler.JobRequest{
			Operation:  o.provenanceChecker,
			Parameters: parameters,
			Debug:      req.Debug,
		}, store, key)
	})
	if err != nil {
		return nil, err
	}
	return &Outcome{AnalysisID: analysisID, Cached: cached, Parameters: parameters}, nil
}

// Advise schedules a stack recommendation. The lock file is optional.
func (o *Orchestrator) Advise(ctx context.Context, req *AdviseRequest) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	parameters := req.Parameters()

	project, err := stack.Parse(req.ApplicationStack, false)
	if err != nil {
		return nil, stackError(err, parameters)
	}

	keyed := project.ToMap()
	keyed["count"] = req.Count
	keyed["limit"] = req.Limit
	keyed["limit_latest_versions"] = req.LimitLatestVersions
	keyed["runtime_environment"] = req.RuntimeEnvironment
	keyed["recommendation_type"] = req.RecommendationType
	keyed["origin"] = nullable(req.Origin)
	key, err := fingerprint.Compute(keyed)
	if err != nil {
		return nil, err
	}

	store := o.Caches.Adviser
	analysisID, cached, err := o.memoize(ctx, store, key, o.CacheExpiration(), req.Force, func(ctx context.Context) (string, error) {
		return o.dispatch(ctx, scheduler.JobRequest{
			Operation:  o.adviser,
			Parameters: parameters,
			Debug:      req.Debug,
		}, store, key)
	})
	if err != nil {
		return nil, err
	}
	return &Outcome{AnalysisID: analysisID, Cached: cached, Parameters: parameters}, nil
}
