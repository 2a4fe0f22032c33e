package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"gitlab.uncharted.software/WM/analysis-gateway/api"
	"gitlab.uncharted.software/WM/analysis-gateway/api/cache"
	"gitlab.uncharted.software/WM/analysis-gateway/api/fingerprint"
	"gitlab.uncharted.software/WM/analysis-gateway/api/graph"
	"gitlab.uncharted.software/WM/analysis-gateway/api/metrics"
	"gitlab.uncharted.software/WM/analysis-gateway/api/orchestrator"
	"gitlab.uncharted.software/WM/analysis-gateway/api/queue"
	"gitlab.uncharted.software/WM/analysis-gateway/api/registry"
	"gitlab.uncharted.software/WM/analysis-gateway/api/scheduler"
	"gitlab.uncharted.software/WM/analysis-gateway/api/storage"
	"gitlab.uncharted.software/WM/analysis-gateway/api/tracker"
	"gitlab.uncharted.software/WM/analysis-gateway/config"
	"go.uber.org/zap"
)

const (
	defaultEnvFile  = "thoth.env"
	shutdownTimeout = 10 * time.Second
)

var (
	// populated at compile time based on data injected by the makefile
	version   = "unset"
	timestamp = "unset"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "analysis-gateway",
		Short: "Memoizing REST gateway for image analyses, provenance checks and advises",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Usage()
		},
		SilenceUsage: true,
	}
	root.AddCommand(newStartCommand(), newFingerprintCommand())
	return root
}

func newStartCommand() *cobra.Command {
	envFile := defaultEnvFile
	cmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the gateway",
		Example: "analysis-gateway start --env-file thoth.env",
		RunE: func(cmd *cobra.Command, args []string) error {
			return start(envFile)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", envFile, "environment file loaded when THOTH_MODE is not set")
	return cmd
}

func newFingerprintCommand() *cobra.Command {
	var digest string
	cmd := &cobra.Command{
		Use:   "fingerprint [file]",
		Short: "Print the cache key of a JSON parameter document read from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				input = f
			}
			key, err := fingerprintOf(input, digest)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	cmd.Flags().StringVar(&digest, "digest", "", "image digest the parameters are scoped to")
	return cmd
}

func fingerprintOf(input io.Reader, digest string) (string, error) {
	raw, err := io.ReadAll(input)
	if err != nil {
		return "", err
	}
	key, err := fingerprint.Compute(rawJSON(raw))
	if err != nil {
		return "", err
	}
	if digest != "" {
		key = fingerprint.WithContent(digest, key)
	}
	return key, nil
}

// rawJSON is marshalled as is so that the document is only parsed by the canonicalizer.
type rawJSON []byte

func (r rawJSON) MarshalJSON() ([]byte, error) {
	return r, nil
}

func start(envFile string) error {
	// Load environment
	env, err := config.Load(envFile)
	if err != nil {
		log.Fatal(err)
	}

	// Setup logging
	var logger *zap.Logger
	switch env.Mode {
	case "dev":
		logger, err = zap.NewDevelopment()
	case "prod":
		logger, err = zap.NewProduction()

	default:
		err = fmt.Errorf("Invalid 'mode' flag: %s", env.Mode)
	}
	if err != nil {
		log.Fatal(err)
	}

	defer func() {
		_ = logger.Sync()
	}()
	sugar := logger.Sugar()

	cfg := config.Config{
		Logger:      sugar,
		Environment: env,
	}

	// Log version
	sugar.Infof("Version: %s Timestamp: %s", version, timestamp)

	// Log config
	sugar.Info(env)

	// Result stores and request caches share one database
	db, err := storage.Open(env)
	if err != nil {
		sugar.Fatal(err)
	}
	if err := cache.Migrate(db); err != nil {
		sugar.Fatal(err)
	}
	caches := orchestrator.Caches{
		Analyses:      cache.NewSQLStore(db, cache.Analyses),
		Adviser:       cache.NewSQLStore(db, cache.Adviser),
		Provenance:    cache.NewSQLStore(db, cache.Provenance),
		BuildAnalyses: cache.NewSQLStore(db, cache.BuildAnalyses),
	}
	results := api.Results{
		Analyses:      storage.NewDocumentStore(db, storage.AnalysisResults),
		Advises:       storage.NewDocumentStore(db, storage.AdviserResults),
		Provenance:    storage.NewDocumentStore(db, storage.ProvenanceResults),
		BuildAnalyses: storage.NewDocumentStore(db, storage.BuildAnalysisResults),
		BuildLogs:     storage.NewDocumentStore(db, storage.BuildLogs),
	}

	core, err := scheduler.NewCore(env.KubernetesConfig)
	if err != nil {
		sugar.Fatal(err)
	}
	kube := scheduler.NewKubernetes(&cfg, core)
	graphDB := graph.Shared(&cfg)

	// Setup the job tracker
	var jobTracker *tracker.Tracker
	if env.TrackerEnabled {
		var jobQueue queue.JobQueue
		if env.TrackerPersistedQueue {
			jobQueue, err = queue.NewPersistedFIFOQueue(env.TrackerQueueSize, env.TrackerQueueDir, env.TrackerQueueName)
			if err != nil {
				sugar.Fatal(err)
			}
			sugar.Infof("Loaded tracker queue with %d entries from %s%s", jobQueue.Size(), env.TrackerQueueDir, env.TrackerQueueName)
		} else {
			// in-memory queue, tracked jobs do not survive a restart
			jobQueue = queue.NewListFIFOQueue(env.TrackerQueueSize)
		}
		jobTracker = tracker.NewTracker(&cfg, jobQueue, kube,
			caches.Analyses, caches.Adviser, caches.Provenance, caches.BuildAnalyses)
	}

	deps := orchestrator.Dependencies{
		Dispatcher:       kube,
		Registry:         registry.NewClient(&cfg),
		Graph:            graphDB,
		Caches:           caches,
		AnalysisByDigest: storage.NewDocumentStore(db, storage.AnalysisByDigest),
		BuildLogs:        results.BuildLogs,
	}
	if jobTracker != nil {
		deps.Tracker = jobTracker
	}
	orch := orchestrator.New(&cfg, deps)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(reg)
	reg.MustRegister(metrics.NewSchemaCollector(graphDB.IsSchemaUpToDate,
		time.Duration(env.GraphTimeoutSec)*time.Second, cfg.Logger.Named("metrics")))

	// Setup router
	r, err := api.NewRouter(cfg, api.Services{
		Orchestrator: orch,
		Inspector:    kube,
		Graph:        graphDB,
		Results:      results,
		Tracker:      jobTracker,
		Gatherer:     reg,
	})
	if err != nil {
		sugar.Fatal(err)
	}

	// Start following dispatched jobs
	if jobTracker != nil {
		jobTracker.Start()
	}

	// Start listening
	listener, err := net.Listen("tcp", env.Addr)
	if err != nil {
		sugar.Fatal(err)
	}
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sugar.Infof("Listening on %s", env.Addr)
	if err := serve(&http.Server{Handler: r}, listener, signals, shutdownTimeout, sugar); err != nil {
		sugar.Fatal(err)
	}

	// in-flight requests are done, nothing dispatches anymore
	if jobTracker != nil {
		jobTracker.Stop()
		if err := jobTracker.Close(); err != nil {
			sugar.Error(err)
		}
	}
	return nil
}

// serve answers requests on listener until a signal arrives on stop. It returns once the requests
// in flight at that time are answered or the timeout expires.
func serve(server *http.Server, listener net.Listener, stop <-chan os.Signal, timeout time.Duration, logger *zap.SugaredLogger) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s := <-stop
		logger.Infof("Shutting down on %s", s)
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error(err)
		}
	}()

	if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	<-done
	return nil
}
