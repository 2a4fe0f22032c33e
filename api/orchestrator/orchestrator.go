// Package orchestrator composes fingerprinting, caching and dispatch into the memoize-or-schedule
// flow behind every analysis endpoint.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"gitlab.uncharted.software/WM/analysis-gateway/api/cache"
	"gitlab.uncharted.software/WM/analysis-gateway/api/graph"
	"gitlab.uncharted.software/WM/analysis-gateway/api/metrics"
	"gitlab.uncharted.software/WM/analysis-gateway/api/queue"
	"gitlab.uncharted.software/WM/analysis-gateway/api/registry"
	"gitlab.uncharted.software/WM/analysis-gateway/api/scheduler"
	"gitlab.uncharted.software/WM/analysis-gateway/api/storage"
	"gitlab.uncharted.software/WM/analysis-gateway/config"
	"golang.org/x/sync/singleflight"
)

// Kind classifies client facing failures.
type Kind string

// Error kinds.
const (
	KindInvalidInput Kind = "invalid-input"
	KindUnauthorized Kind = "unauthorized"
	KindNotFound     Kind = "not-found"
)

// Error is a failure caused by the request rather than by the gateway or its backends.
type Error struct {
	Kind       Kind
	Message    string
	Parameters map[string]interface{}
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, parameters map[string]interface{}, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Parameters: parameters}
}

// Outcome is the answer to a scheduling request.
type Outcome struct {
	AnalysisID         string                 `json:"analysis_id"`
	Cached             bool                   `json:"cached"`
	Parameters         map[string]interface{} `json:"parameters"`
	BuildlogDocumentID string                 `json:"buildlog_document_id,omitempty"`
}

// Tracker follows dispatched jobs.
type Tracker interface {
	Track(job queue.Job) error
}

// Caches holds the request caches, one per operation.
type Caches struct {
	Analyses      cache.Store
	Adviser       cache.Store
	Provenance    cache.Store
	BuildAnalyses cache.Store
}

// Dependencies are the collaborators of an Orchestrator. Tracker is optional.
type Dependencies struct {
	Dispatcher       scheduler.Dispatcher
	Registry         registry.Inspector
	Graph            graph.Database
	Tracker          Tracker
	Caches           Caches
	AnalysisByDigest storage.DocumentStore
	BuildLogs        storage.DocumentStore
}

// Orchestrator runs the scheduling operations.
type Orchestrator struct {
	config.Config
	Dependencies
	flights *singleflight.Group
	now     func() time.Time

	packageExtract    scheduler.Operation
	adviser           scheduler.Operation
	provenanceChecker scheduler.Operation
	buildAnalyze      scheduler.Operation
}

// New creates an orchestrator. Concurrent identical requests share one dispatch when
// single flight is enabled in the environment.
func New(cfg *config.Config, deps Dependencies) *Orchestrator {
	o := &Orchestrator{
		Config:            cfg.Named("orchestrator"),
		Dependencies:      deps,
		now:               time.Now,
		packageExtract:    scheduler.PackageExtract(cfg.Environment),
		adviser:           scheduler.Adviser(cfg.Environment),
		provenanceChecker: scheduler.ProvenanceChecker(cfg.Environment),
		buildAnalyze:      scheduler.BuildAnalyze(cfg.Environment),
	}
	if cfg.Environment.SingleFlight {
		o.flights = &singleflight.Group{}
	}
	return o
}

// dispatchFunc schedules a job and returns its handle.
type dispatchFunc func(ctx context.Context) (string, error)

// memoize returns the handle cached under key when it is fresh, otherwise it dispatches a new
// job and records its handle. Two concurrent misses may both dispatch; the last write wins.
func (o *Orchestrator) memoize(ctx context.Context, store cache.Store, key string, ttl time.Duration, force bool, dispatch dispatchFunc) (string, bool, error) {
	outcome := metrics.CacheForced
	if !force {
		record, err := store.Get(ctx, key)
		switch {
		case err == nil && record.Fresh(ttl, o.now()):
			metrics.CacheLookupsTotal.WithLabelValues(store.Name(), metrics.CacheHit).Inc()
			o.Logger.Debugf("Cache hit in %s for %s: %s", store.Name(), key, record.AnalysisID)
			return record.AnalysisID, true, nil
		case err == nil:
			outcome = metrics.CacheExpired
		case errors.Is(err, cache.ErrCacheMiss):
			outcome = metrics.CacheMiss
		default:
			return "", false, err
		}
	}
	metrics.CacheLookupsTotal.WithLabelValues(store.Name(), outcome).Inc()

	schedule := func() (string, error) {
		analysisID, err := dispatch(ctx)
		if err != nil {
			return "", err
		}
		if err := store.Put(ctx, key, cache.NewRecord(analysisID, o.now())); err != nil {
			return "", err
		}
		return analysisID, nil
	}

	if o.flights == nil {
		analysisID, err := schedule()
		return analysisID, false, err
	}

	v, err, shared := o.flights.Do(store.Name()+"/"+key, func() (interface{}, error) {
		return schedule()
	})
	if shared {
		metrics.SingleFlightSharedTotal.WithLabelValues(store.Name()).Inc()
	}
	if err != nil {
		return "", false, err
	}
	return v.(string), false, nil
}

// dispatch schedules a job and starts tracking it against its cache record.
func (o *Orchestrator) dispatch(ctx context.Context, req scheduler.JobRequest, store cache.Store, key string) (string, error) {
	analysisID, err := o.Dispatcher.Schedule(ctx, req)
	if err != nil {
		metrics.DispatchErrorsTotal.WithLabelValues(req.Operation.Name).Inc()
		return "", err
	}
	metrics.DispatchesTotal.WithLabelValues(req.Operation.Name).Inc()
	o.Logger.Infof("Scheduled %s for %s", analysisID, key)

	if o.Tracker != nil {
		err := o.Tracker.Track(queue.Job{
			AnalysisID: analysisID,
			Operation:  req.Operation.Name,
			Namespace:  req.Operation.Namespace,
			Cache:      store.Name(),
			CacheKey:   key,
			EnqueuedAt: o.now().UTC(),
		})
		if err != nil {
			// the job runs regardless, only failure reconciliation is lost
			o.Logger.Warnf("Not tracking %s: %v", analysisID, err)
		}
	}
	return analysisID, nil
}
