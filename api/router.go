package api

import (
	"compress/flate"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gitlab.uncharted.software/WM/analysis-gateway/api/graph"
	"gitlab.uncharted.software/WM/analysis-gateway/api/lifecycle"
	api_middleware "gitlab.uncharted.software/WM/analysis-gateway/api/middleware"
	"gitlab.uncharted.software/WM/analysis-gateway/api/orchestrator"
	"gitlab.uncharted.software/WM/analysis-gateway/api/routes"
	"gitlab.uncharted.software/WM/analysis-gateway/api/scheduler"
	"gitlab.uncharted.software/WM/analysis-gateway/api/storage"
	"gitlab.uncharted.software/WM/analysis-gateway/api/tracker"
	"gitlab.uncharted.software/WM/analysis-gateway/config"
)

// Results holds the document stores answered by the result endpoints.
type Results struct {
	Analyses      storage.DocumentStore
	Advises       storage.DocumentStore
	Provenance    storage.DocumentStore
	BuildAnalyses storage.DocumentStore
	BuildLogs     storage.DocumentStore
}

// Services are the components the router exposes.
type Services struct {
	Orchestrator *orchestrator.Orchestrator
	Inspector    scheduler.Inspector
	Graph        graph.Database
	Results      Results
	// Tracker is nil when job tracking is disabled.
	Tracker  *tracker.Tracker
	Gatherer prometheus.Gatherer
}

// NewRouter returns a chi router with endpoints registered.
func NewRouter(cfg config.Config, services Services) (chi.Router, error) {

	// Setup the router and configure baseline middleware
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(api_middleware.Logger(cfg.Logger.Named("http")))
	r.Use(middleware.RealIP)
	r.Use(api_middleware.Recover(cfg.Logger))
	r.Use(api_middleware.Version(cfg.Environment.ThothVersion, cfg.Environment.ServiceVersion))
	r.Use(api_middleware.Metrics)
	r.Use(middleware.Compress(flate.DefaultCompression))

	// Configure CORS handling
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"page", "page_size", "results_count"},
		AllowCredentials: true,
	})
	r.Use(c.Handler)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, routes.Response{"error": "The requested URL was not found on the server."})
	})

	resolver := lifecycle.NewResolver(services.Inspector)
	env := cfg.Environment
	analyses := routes.Operation{
		Name:   scheduler.PackageExtract(env).Name,
		Target: lifecycle.NewTarget(scheduler.PackageExtract(env), services.Results.Analyses),
	}
	advises := routes.Operation{
		Name:   scheduler.Adviser(env).Name,
		Target: lifecycle.NewTarget(scheduler.Adviser(env), services.Results.Advises),
	}
	provenance := routes.Operation{
		Name:   scheduler.ProvenanceChecker(env).Name,
		Target: lifecycle.NewTarget(scheduler.ProvenanceChecker(env), services.Results.Provenance),
	}
	buildAnalyses := routes.Operation{
		Name:   scheduler.BuildAnalyze(env).Name,
		Target: lifecycle.NewTarget(scheduler.BuildAnalyze(env), services.Results.BuildAnalyses),
	}
	// build logs are submitted by users, no job ever writes them
	buildLogs := routes.Operation{
		Name:   "buildlog",
		Target: lifecycle.Target{Prefix: orchestrator.BuildLogPrefix, Results: services.Results.BuildLogs},
	}

	orch := services.Orchestrator
	root := r
	r.Route(routes.APIPrefix, func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Get("/", routes.ListPaths(root))
		r.Get("/info", routes.GetInfo(&cfg))

		r.Route("/analyze", func(r chi.Router) {
			r.Post("/", routes.PostAnalyze(&cfg, orch))
			r.Get("/", routes.ListDocuments(&cfg, services.Results.Analyses))
			r.Get("/by-hash/{image_hash}", routes.GetAnalysisByHash(&cfg, orch, resolver, analyses))
			r.Get("/{analysis_id}", routes.GetDocument(&cfg, resolver, analyses, "analysis_id"))
			r.Get("/{analysis_id}/log", routes.GetJobLog(&cfg, resolver, analyses))
			r.Get("/{analysis_id}/status", routes.GetJobStatus(&cfg, resolver, analyses))
		})
		r.Post("/image-metadata", routes.PostImageMetadata(&cfg, orch))

		r.Route("/provenance-python", func(r chi.Router) {
			r.Post("/", routes.PostProvenance(&cfg, orch))
			r.Get("/", routes.ListDocuments(&cfg, services.Results.Provenance))
			r.Get("/{analysis_id}", routes.GetDocument(&cfg, resolver, provenance, "analysis_id"))
			r.Get("/{analysis_id}/log", routes.GetJobLog(&cfg, resolver, provenance))
			r.Get("/{analysis_id}/status", routes.GetJobStatus(&cfg, resolver, provenance))
		})

		r.Route("/advise-python", func(r chi.Router) {
			r.Post("/", routes.PostAdvise(&cfg, orch))
			r.Get("/", routes.ListDocuments(&cfg, services.Results.Advises))
			r.Get("/{analysis_id}", routes.GetDocument(&cfg, resolver, advises, "analysis_id"))
			r.Get("/{analysis_id}/log", routes.GetJobLog(&cfg, resolver, advises))
			r.Get("/{analysis_id}/status", routes.GetJobStatus(&cfg, resolver, advises))
		})

		r.Post("/build", routes.PostBuild(&cfg, orch))
		r.Route("/build-analysis", func(r chi.Router) {
			r.Post("/", routes.PostBuildAnalysis(&cfg, orch))
			r.Get("/", routes.ListDocuments(&cfg, services.Results.BuildAnalyses))
			r.Get("/{analysis_id}", routes.GetDocument(&cfg, resolver, buildAnalyses, "analysis_id"))
			r.Get("/{analysis_id}/log", routes.GetJobLog(&cfg, resolver, buildAnalyses))
			r.Get("/{analysis_id}/status", routes.GetJobStatus(&cfg, resolver, buildAnalyses))
		})

		r.Route("/buildlog", func(r chi.Router) {
			r.Post("/", routes.PostBuildLog(&cfg, orch))
			r.Get("/", routes.ListDocuments(&cfg, services.Results.BuildLogs))
			r.Get("/{document_id}", routes.GetDocument(&cfg, resolver, buildLogs, "document_id"))
		})

		r.Route("/runtime-environment", func(r chi.Router) {
			r.Get("/", routes.ListRuntimeEnvironments(&cfg, services.Graph))
			r.Get("/{runtime_environment_name}", routes.GetRuntimeEnvironment(&cfg, services.Graph))
			r.Get("/{runtime_environment_name}/analyses", routes.ListRuntimeEnvironmentAnalyses(&cfg, services.Graph))
		})
		r.Get("/python/package-index", routes.ListPythonPackageIndexes(&cfg, services.Graph))

		if services.Tracker != nil {
			r.Route("/tracker", func(r chi.Router) {
				r.Get("/status", routes.StatusRequest(&cfg, services.Tracker))
				r.Get("/jobs", routes.JobsRequest(&cfg, services.Tracker))
				r.Put("/start", routes.StartRequest(&cfg, services.Tracker))
				r.Put("/stop", routes.StopRequest(&cfg, services.Tracker))
				r.Put("/clear", routes.ClearRequest(&cfg, services.Tracker))
			})
		}
	})

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, routes.APIPrefix, http.StatusFound)
	})
	r.Get("/liveness", routes.Liveness(&cfg))
	r.Get("/readiness", routes.Readiness(&cfg, r, services.Graph))
	if services.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(services.Gatherer, promhttp.HandlerOpts{}))
	}

	return r, nil
}
