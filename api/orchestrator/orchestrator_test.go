package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gitlab.uncharted.software/WM/analysis-gateway/api/cache"
	"gitlab.uncharted.software/WM/analysis-gateway/api/graph"
	"gitlab.uncharted.software/WM/analysis-gateway/api/queue"
	"gitlab.uncharted.software/WM/analysis-gateway/api/registry"
	"gitlab.uncharted.software/WM/analysis-gateway/api/scheduler"
	"gitlab.uncharted.software/WM/analysis-gateway/api/stack"
	"gitlab.uncharted.software/WM/analysis-gateway/api/storage"
	"gitlab.uncharted.software/WM/analysis-gateway/config"
	"go.uber.org/zap"
)

const pipfile = `
[[source]]
name = "pypi"
url = "https://pypi.org/simple"
verify_ssl = true

[packages]
flask = "*"
`

const pipfileLock = `{
  "_meta": {"hash": {"sha256": "abc"}, "pipfile-spec": 6},
  "default": {
    "flask": {"version": "==1.1.2", "hashes": ["sha256:aaa"], "index": "pypi"}
  },
  "develop": {}
}`

const imageDigest = "sha256:6c3c624b58dbbcd3c0dd82b4c53f04194d1247c6eebdaab7c610cf7d66709b3b"

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Schedule(ctx context.Context, req scheduler.JobRequest) (string, error) {
	args := m.Called(req)
	return args.String(0), args.Error(1)
}

type mockRegistry struct {
	mock.Mock
}

func (m *mockRegistry) Metadata(ctx context.Context, req registry.Request) (*registry.Metadata, error) {
	args := m.Called(req)
	metadata, _ := args.Get(0).(*registry.Metadata)
	return metadata, args.Error(1)
}

// mockGraph answers the index listing, other queries are not used by the orchestrator
type mockGraph struct {
	graph.Database
	mock.Mock
}

func (m *mockGraph) PythonPackageIndexURLs(ctx context.Context) ([]string, error) {
	args := m.Called()
	urls, _ := args.Get(0).([]string)
	return urls, args.Error(1)
}

type recordingTracker struct {
	jobs []queue.Job
}

func (r *recordingTracker) Track(job queue.Job) error {
	r.jobs = append(r.jobs, job)
	return nil
}

type OrchestratorSuite struct {
	suite.Suite
	ctx        context.Context
	clock      time.Time
	dispatcher *mockDispatcher
	registry   *mockRegistry
	graph      *mockGraph
	tracker    *recordingTracker
	deps       Dependencies
	orch       *Orchestrator
}

func (s *OrchestratorSuite) SetupTest() {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := storage.Open(&config.Environment{DatabaseType: config.DatabaseSQLite, DatabaseDSN: dsn})
	s.Require().NoError(err)
	s.Require().NoError(cache.Migrate(db))
	s.T().Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	s.ctx = context.Background()
	s.clock = time.Unix(1700000000, 0)
	s.dispatcher = &mockDispatcher{}
	s.registry = &mockRegistry{}
	s.graph = &mockGraph{}
	s.tracker = &recordingTracker{}
	s.deps = Dependencies{
		Dispatcher: s.dispatcher,
		Registry:   s.registry,
		Graph:      s.graph,
		Tracker:    s.tracker,
		Caches: Caches{
			Analyses:      cache.NewSQLStore(db, cache.Analyses),
			Adviser:       cache.NewSQLStore(db, cache.Adviser),
			Provenance:    cache.NewSQLStore(db, cache.Provenance),
			BuildAnalyses: cache.NewSQLStore(db, cache.BuildAnalyses),
		},
		AnalysisByDigest: storage.NewDocumentStore(db, storage.AnalysisByDigest),
		BuildLogs:        storage.NewDocumentStore(db, storage.BuildLogs),
	}
	s.orch = s.newOrchestrator(false)
}

func (s *OrchestratorSuite) newOrchestrator(singleFlight bool) *Orchestrator {
	cfg := &config.Config{
		Logger: zap.NewNop().Sugar(),
		Environment: &config.Environment{
			MiddletierNamespace: "thoth-middletier",
			BackendNamespace:    "thoth-backend",
			CacheExpirationSec:  3600,
			SingleFlight:        singleFlight,
		},
	}
	o := New(cfg, s.deps)
	o.now = func() time.Time { return s.clock }
	return o
}

func (s *OrchestratorSuite) expectImage(image string, digest string) {
	s.registry.On("Metadata", mock.MatchedBy(func(req registry.Request) bool {
		return req.Image == image
	})).Return(&registry.Metadata{Image: image, Digest: digest}, nil)
}

func (s *OrchestratorSuite) expectSchedule(operation string, ids ...string) {
	for _, id := range ids {
		s.dispatcher.On("Schedule", mock.MatchedBy(func(req scheduler.JobRequest) bool {
			return req.Operation.Name == operation
		})).Return(id, nil).Once()
	}
}

func adviseRequest() *AdviseRequest {
	return &AdviseRequest{
		ApplicationStack:   stack.ApplicationStack{Requirements: pipfile},
		RecommendationType: RecommendationStable,
	}
}

func (s *OrchestratorSuite) TestAdviseIsMemoized() {
	s.expectSchedule("adviser", "adviser-1")

	first, err := s.orch.Advise(s.ctx, adviseRequest())
	s.Require().NoError(err)
	s.False(first.Cached)
	s.Equal("adviser-1", first.AnalysisID)

	second, err := s.orch.Advise(s.ctx, adviseRequest())
	s.Require().NoError(err)
	s.True(second.Cached)
	s.Equal("adviser-1", second.AnalysisID)

	s.dispatcher.AssertNumberOfCalls(s.T(), "Schedule", 1)
	s.Require().Len(s.tracker.jobs, 1)
	s.Equal(cache.Adviser, s.tracker.jobs[0].Cache)
	s.Equal("thoth-backend", s.tracker.jobs[0].Namespace)
}

func (s *OrchestratorSuite) TestAdviseDifferentParameters() {
	s.expectSchedule("adviser", "adviser-1", "adviser-2")

	first, err := s.orch.Advise(s.ctx, adviseRequest())
	s.Require().NoError(err)

	req := adviseRequest()
	req.RecommendationType = RecommendationLatest
	second, err := s.orch.Advise(s.ctx, req)
	s.Require().NoError(err)

	s.NotEqual(first.AnalysisID, second.AnalysisID)
	s.False(second.Cached)
}

func (s *OrchestratorSuite) TestAdviseForce() {
	s.expectSchedule("adviser", "adviser-1", "adviser-2")

	_, err := s.orch.Advise(s.ctx, adviseRequest())
	s.Require().NoError(err)

	forced := adviseRequest()
	forced.Force = true
	outcome, err := s.orch.Advise(s.ctx, forced)
	s.Require().NoError(err)
	s.False(outcome.Cached)
	s.Equal("adviser-2", outcome.AnalysisID)

	// the forced job replaced the cached one
	outcome, err = s.orch.Advise(s.ctx, adviseRequest())
	s.Require().NoError(err)
	s.True(outcome.Cached)
	s.Equal("adviser-2", outcome.AnalysisID)
	s.dispatcher.AssertNumberOfCalls(s.T(), "Schedule", 2)
}

func (s *OrchestratorSuite) TestAdviseExpired() {
	s.expectSchedule("adviser", "adviser-1", "adviser-2")

	_, err := s.orch.Advise(s.ctx, adviseRequest())
	s.Require().NoError(err)

	s.clock = s.clock.Add(time.Hour - time.Second)
	outcome, err := s.orch.Advise(s.ctx, adviseRequest())
	s.Require().NoError(err)
	s.True(outcome.Cached)

	s.clock = s.clock.Add(time.Second)
	outcome, err = s.orch.Advise(s.ctx, adviseRequest())
	s.Require().NoError(err)
	s.False(outcome.Cached)
	s.Equal("adviser-2", outcome.AnalysisID)
}

func (s *OrchestratorSuite) TestAdviseSingleFlight() {
	s.orch = s.newOrchestrator(true)
	s.expectSchedule("adviser", "adviser-1")

	_, err := s.orch.Advise(s.ctx, adviseRequest())
	s.Require().NoError(err)
	outcome, err := s.orch.Advise(s.ctx, adviseRequest())
	s.Require().NoError(err)
	s.True(outcome.Cached)
	s.dispatcher.AssertNumberOfCalls(s.T(), "Schedule", 1)
}

func (s *OrchestratorSuite) TestAdviseInvalid() {
	cases := map[string]*AdviseRequest{
		"missing requirements": {RecommendationType: RecommendationStable},
		"unknown recommendation type": {
			ApplicationStack:   stack.ApplicationStack{Requirements: pipfile},
			RecommendationType: "fastest",
		},
		"malformed pipfile": {
			ApplicationStack:   stack.ApplicationStack{Requirements: "[packages"},
			RecommendationType: RecommendationStable,
		},
	}
	for name, req := range cases {
		_, err := s.orch.Advise(s.ctx, req)
		var e *Error
		s.Require().True(errors.As(err, &e), name)
		s.Equal(KindInvalidInput, e.Kind, name)
		s.NotNil(e.Parameters, name)
	}
	s.dispatcher.AssertNotCalled(s.T(), "Schedule", mock.Anything)
}

func (s *OrchestratorSuite) TestAdviseDispatchFailure() {
	s.dispatcher.On("Schedule", mock.Anything).
		Return("", &scheduler.DispatchError{Operation: "adviser", Err: errors.New("quota exceeded")})

	_, err := s.orch.Advise(s.ctx, adviseRequest())
	var dispatchErr *scheduler.DispatchError
	s.True(errors.As(err, &dispatchErr))
	s.Empty(s.tracker.jobs)

	// nothing was cached so the next request dispatches again
	s.dispatcher.ExpectedCalls = nil
	s.expectSchedule("adviser", "adviser-1")
	outcome, err := s.orch.Advise(s.ctx, adviseRequest())
	s.Require().NoError(err)
	s.False(outcome.Cached)
}

func (s *OrchestratorSuite) TestCheckProvenance() {
	s.graph.On("PythonPackageIndexURLs").Return([]string{"https://pypi.org/simple"}, nil)
	s.expectSchedule("provenance-checker", "provenance-checker-1")

	req := &ProvenanceRequest{ApplicationStack: stack.ApplicationStack{Requirements: pipfile, RequirementsLock: pipfileLock}}
	outcome, err := s.orch.CheckProvenance(s.ctx, req)
	s.Require().NoError(err)
	s.Equal("provenance-checker-1", outcome.AnalysisID)
	s.Equal([]string{"https://pypi.org/simple"}, outcome.Parameters["whitelisted_sources"])

	outcome, err = s.orch.CheckProvenance(s.ctx, req)
	s.Require().NoError(err)
	s.True(outcome.Cached)
	s.dispatcher.AssertNumberOfCalls(s.T(), "Schedule", 1)
}

func (s *OrchestratorSuite) TestCheckProvenanceRequiresLock() {
	req := &ProvenanceRequest{ApplicationStack: stack.ApplicationStack{Requirements: pipfile}}
	_, err := s.orch.CheckProvenance(s.ctx, req)

	var e *Error
	s.Require().True(errors.As(err, &e))
	s.Equal(KindInvalidInput, e.Kind)
	s.Contains(e.Message, "Invalid application stack supplied")
	s.graph.AssertNotCalled(s.T(), "PythonPackageIndexURLs")
}

func (s *OrchestratorSuite) TestAnalyzeImage() {
	s.expectImage("quay.io/thoth/s2i:latest", imageDigest)
	s.expectSchedule("package-extract", "package-extract-1")

	req := &AnalysisRequest{Image: "quay.io/thoth/s2i:latest", RegistryUser: "user", RegistryPassword: "secret"}
	outcome, err := s.orch.AnalyzeImage(s.ctx, req)
	s.Require().NoError(err)
	s.False(outcome.Cached)
	s.NotContains(outcome.Parameters, "registry_password")
	s.NotContains(outcome.Parameters, "registry_user")

	call := s.dispatcher.Calls[0].Arguments.Get(0).(scheduler.JobRequest)
	s.Equal("user:secret", call.Secrets["THOTH_REGISTRY_CREDENTIALS"])
	s.Equal("thoth-middletier", call.Operation.Namespace)

	handle, err := s.orch.AnalysisForDigest(s.ctx, imageDigest)
	s.Require().NoError(err)
	s.Equal("package-extract-1", handle)

	// analyses never expire by default
	s.clock = s.clock.Add(365 * 24 * time.Hour)
	outcome, err = s.orch.AnalyzeImage(s.ctx, req)
	s.Require().NoError(err)
	s.True(outcome.Cached)
	s.Equal("package-extract-1", outcome.AnalysisID)
	s.dispatcher.AssertNumberOfCalls(s.T(), "Schedule", 1)
	s.registry.AssertNumberOfCalls(s.T(), "Metadata", 2)
}

func (s *OrchestratorSuite) TestAnalyzeImageCredentialsScopeTheCache() {
	s.expectImage("quay.io/thoth/s2i:latest", imageDigest)
	s.expectSchedule("package-extract", "package-extract-1", "package-extract-2")

	_, err := s.orch.AnalyzeImage(s.ctx, &AnalysisRequest{Image: "quay.io/thoth/s2i:latest"})
	s.Require().NoError(err)
	outcome, err := s.orch.AnalyzeImage(s.ctx, &AnalysisRequest{
		Image: "quay.io/thoth/s2i:latest", RegistryUser: "user", RegistryPassword: "secret",
	})
	s.Require().NoError(err)
	s.False(outcome.Cached)
}

func (s *OrchestratorSuite) TestAnalyzeImageRegistryErrors() {
	cases := map[string]struct {
		err  error
		kind Kind
	}{
		"manifest unknown": {errors.Wrap(registry.ErrManifestUnknown, "image missing was not found"), KindInvalidInput},
		"authentication":   {errors.Wrap(registry.ErrAuthenticationRequired, "denied"), KindUnauthorized},
		"image error":      {errors.Wrap(registry.ErrImage, "broken"), KindInvalidInput},
	}
	for name, tc := range cases {
		image := "quay.io/thoth/" + uuid.NewString()
		s.registry.On("Metadata", mock.MatchedBy(func(req registry.Request) bool {
			return req.Image == image
		})).Return(nil, tc.err)

		_, err := s.orch.AnalyzeImage(s.ctx, &AnalysisRequest{Image: image})
		var e *Error
		s.Require().True(errors.As(err, &e), name)
		s.Equal(tc.kind, e.Kind, name)
	}
	s.dispatcher.AssertNotCalled(s.T(), "Schedule", mock.Anything)
}

func (s *OrchestratorSuite) TestAnalyzeImageCredentialsBothOrNeither() {
	_, err := s.orch.AnalyzeImage(s.ctx, &AnalysisRequest{Image: "quay.io/thoth/s2i", RegistryUser: "user"})

	var e *Error
	s.Require().True(errors.As(err, &e))
	s.Equal(KindInvalidInput, e.Kind)
	s.registry.AssertNotCalled(s.T(), "Metadata", mock.Anything)
}

func (s *OrchestratorSuite) TestAnalysisForDigestMissing() {
	_, err := s.orch.AnalysisForDigest(s.ctx, "sha256:unknown")

	var e *Error
	s.Require().True(errors.As(err, &e))
	s.Equal(KindNotFound, e.Kind)
}

func (s *OrchestratorSuite) TestAnalyzeBuildLog() {
	s.expectSchedule("build-analyze", "build-analyze-1")

	req := &BuildLogAnalysisRequest{BuildLog: map[string]interface{}{"log": "Step 1/3 : FROM fedora"}}
	outcome, err := s.orch.AnalyzeBuildLog(s.ctx, req)
	s.Require().NoError(err)
	s.Regexp(`^buildlog-[0-9a-f]{64}$`, outcome.BuildlogDocumentID)

	stored, err := s.deps.BuildLogs.Retrieve(s.ctx, outcome.BuildlogDocumentID)
	s.Require().NoError(err)
	s.Equal("Step 1/3 : FROM fedora", stored["log"])

	again, err := s.orch.AnalyzeBuildLog(s.ctx, req)
	s.Require().NoError(err)
	s.True(again.Cached)
	s.Equal(outcome.BuildlogDocumentID, again.BuildlogDocumentID)
}

func (s *OrchestratorSuite) TestAnalyzeBuildLogEmpty() {
	_, err := s.orch.AnalyzeBuildLog(s.ctx, &BuildLogAnalysisRequest{BuildLog: map[string]interface{}{}})

	var e *Error
	s.Require().True(errors.As(err, &e))
	s.Equal(KindInvalidInput, e.Kind)
	s.Contains(e.Message, "build_log")
}

func (s *OrchestratorSuite) TestBuildNothingProvided() {
	_, err := s.orch.Build(s.ctx, &BuildRequest{})

	var e *Error
	s.Require().True(errors.As(err, &e))
	s.Equal(KindInvalidInput, e.Kind)
	s.Equal("No information provided", e.Message)
	s.dispatcher.AssertNotCalled(s.T(), "Schedule", mock.Anything)
}

func (s *OrchestratorSuite) TestBuildBaseImageOnly() {
	s.expectImage("fedora:32", imageDigest)
	s.expectSchedule("package-extract", "package-extract-1")

	outcome, err := s.orch.Build(s.ctx, &BuildRequest{BaseImage: "fedora:32"})
	s.Require().NoError(err)
	s.Require().NotNil(outcome.BaseImageAnalysis)
	s.Equal("package-extract-1", outcome.BaseImageAnalysis.AnalysisID)
	s.Nil(outcome.OutputImageAnalysis)
	s.Nil(outcome.BuildlogAnalysis)
	s.Nil(outcome.BuildlogDocumentID)
	s.dispatcher.AssertNumberOfCalls(s.T(), "Schedule", 1)
}

func (s *OrchestratorSuite) TestBuildAll() {
	s.expectImage("quay.io/app:1", "sha256:"+fmt.Sprintf("%064d", 1))
	s.expectImage("fedora:32", imageDigest)
	s.expectSchedule("package-extract", "package-extract-out", "package-extract-base")
	s.expectSchedule("build-analyze", "build-analyze-1")

	outcome, err := s.orch.Build(s.ctx, &BuildRequest{
		OutputImage: "quay.io/app:1",
		BaseImage:   "fedora:32",
		BuildLog:    map[string]interface{}{"log": "done"},
	})
	s.Require().NoError(err)
	s.Equal("package-extract-out", outcome.OutputImageAnalysis.AnalysisID)
	s.Equal("package-extract-base", outcome.BaseImageAnalysis.AnalysisID)
	s.Equal("build-analyze-1", outcome.BuildlogAnalysis.AnalysisID)
	s.Require().NotNil(outcome.BuildlogDocumentID)
}

func (s *OrchestratorSuite) TestBuildStopsAtFirstFailure() {
	s.registry.On("Metadata", mock.Anything).Return(nil, errors.Wrap(registry.ErrAuthenticationRequired, "denied"))

	_, err := s.orch.Build(s.ctx, &BuildRequest{
		OutputImage: "quay.io/private:1",
		BaseImage:   "fedora:32",
		BuildLog:    map[string]interface{}{"log": "done"},
	})
	var e *Error
	s.Require().True(errors.As(err, &e))
	s.Equal(KindUnauthorized, e.Kind)
	s.Equal("quay.io/private:1", e.Parameters["output_image"])

	s.registry.AssertNumberOfCalls(s.T(), "Metadata", 1)
	s.dispatcher.AssertNotCalled(s.T(), "Schedule", mock.Anything)
	logs, err := s.deps.BuildLogs.List(s.ctx)
	s.Require().NoError(err)
	s.Empty(logs)
}

func (s *OrchestratorSuite) TestBuildStopsAtFailingBaseImage() {
	s.expectImage("quay.io/app:1", imageDigest)
	s.registry.On("Metadata", mock.MatchedBy(func(req registry.Request) bool {
		return req.Image == "fedora:missing"
	})).Return(nil, errors.Wrap(registry.ErrManifestUnknown, "image fedora:missing was not found"))
	s.expectSchedule("package-extract", "package-extract-out")

	_, err := s.orch.Build(s.ctx, &BuildRequest{
		OutputImage: "quay.io/app:1",
		BaseImage:   "fedora:missing",
		BuildLog:    map[string]interface{}{"log": "done"},
	})
	var e *Error
	s.Require().True(errors.As(err, &e))
	s.Equal(KindInvalidInput, e.Kind)
	s.Equal("quay.io/app:1", e.Parameters["output_image"])
	s.Equal("fedora:missing", e.Parameters["base_image"])

	s.dispatcher.AssertNumberOfCalls(s.T(), "Schedule", 1)
	s.dispatcher.AssertNotCalled(s.T(), "Schedule", mock.MatchedBy(func(req scheduler.JobRequest) bool {
		return req.Operation.Name == "build-analyze"
	}))
	logs, err := s.deps.BuildLogs.List(s.ctx)
	s.Require().NoError(err)
	s.Empty(logs)
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func TestValidationMessages(t *testing.T) {
	err := (&AdviseRequest{}).Validate()
	require.Error(t, err)
	e, ok := err.(*Error)
	require.True(t, ok)
	assert.Contains(t, e.Message, "application_stack.requirements is required")
	assert.Contains(t, e.Message, "recommendation_type is required")

	count := 0
	err = (&AdviseRequest{
		ApplicationStack:   stack.ApplicationStack{Requirements: pipfile},
		RecommendationType: RecommendationTesting,
		Count:              &count,
	}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count must be at least 1")
}
