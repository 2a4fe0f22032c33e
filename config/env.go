package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

const maskedValue = "********"

// Environment contains the imported environment variables.
type Environment struct {
	// Debug vs Deploy
	Mode string `default:"dev"`
	// Port to listen on
	Addr string `default:":4040"`
	// Reported through the version response headers and the info endpoint
	ServiceVersion string `default:"dev" split_words:"true"`
	ThothVersion   string `default:"dev" split_words:"true"`
	// Name of the deployment reported by the info endpoint
	DeploymentName string `default:"thoth-local" split_words:"true"`
	// Directory holding the kubeconfig file, in-cluster configuration is used when empty
	KubernetesConfig string `default:"" split_words:"true"`
	// Namespace running image analyses
	MiddletierNamespace string `default:"thoth-middletier" split_words:"true"`
	// Namespace running adviser, provenance checker and build analysis jobs
	BackendNamespace string `default:"thoth-backend" split_words:"true"`
	// Job images and the result store endpoints they report to
	AnalyzerImage           string `default:"quay.io/thoth-station/package-extract:latest" split_words:"true"`
	AnalyzerOutput          string `default:"http://result-api/api/v1/analysis-result" split_words:"true"`
	AdviserImage            string `default:"quay.io/thoth-station/adviser:latest" split_words:"true"`
	AdviserOutput           string `default:"http://result-api/api/v1/adviser-result" split_words:"true"`
	ProvenanceCheckerImage  string `default:"quay.io/thoth-station/adviser:latest" split_words:"true"`
	ProvenanceCheckerOutput string `default:"http://result-api/api/v1/provenance-checker-result" split_words:"true"`
	BuildAnalyzerImage      string `default:"quay.io/thoth-station/build-analyzers:latest" split_words:"true"`
	BuildAnalyzerOutput     string `default:"http://result-api/api/v1/build-analysis-result" split_words:"true"`
	// Time to live of adviser, provenance and build analysis cache records
	CacheExpirationSec int `default:"43200" split_words:"true"`
	// Time to live of image analysis cache records, 0 never expires
	AnalysisCacheExpirationSec int `default:"0" split_words:"true"`
	// Result and cache database: sqlite or postgres
	DatabaseType string `default:"sqlite" split_words:"true"`
	DatabaseDSN  string `default:"thoth.db" split_words:"true"`
	// Graph database GraphQL endpoint
	GraphAddr       string `default:"http://localhost:8182/graphql" split_words:"true"`
	GraphTimeoutSec int    `default:"10" split_words:"true"`
	// Container registry request timeout
	RegistryTimeoutSec int `default:"30" split_words:"true"`
	// Number of entries returned by a listing page
	PageSize int `default:"100" split_words:"true"`
	// Collapse concurrent identical requests into a single dispatch
	SingleFlight bool `default:"false" split_words:"true"`
	// Track dispatched jobs and invalidate cache records of failed ones
	TrackerEnabled         bool `default:"true" split_words:"true"`
	TrackerPollIntervalSec int  `default:"10" split_words:"true"`
	TrackerQueueSize       int  `default:"1000" split_words:"true"`
	// Use persisted queue or default (memory only) queue.
	TrackerPersistedQueue bool `default:"false" split_words:"true"`
	// Directory to store the queue data in when persisted queue is used.
	TrackerQueueDir string `default:"./" split_words:"true"`
	// Name of queue when persisted queue is used.
	TrackerQueueName string `default:"tracked_jobs" split_words:"true"`
}

const (
	// DatabaseSQLite stores caches and results in a local sqlite file
	DatabaseSQLite = "sqlite"
	// DatabasePostgres stores caches and results in postgres
	DatabasePostgres = "postgres"
)

func (e Environment) String() string {
	// the DSN may carry database credentials
	e.DatabaseDSN = maskedValue
	settings, err := json.MarshalIndent(e, "", "    ")
	if err != nil {
		return fmt.Errorf("Failed to marshal env: %v", err).Error()
	}
	return fmt.Sprintf("Environment Settings:\n%s\n", string(settings))
}

// Load imports the environment variables and returns them in an Environment.
func Load(envFile string) (*Environment, error) {
	testEnv := os.Getenv("THOTH_MODE")
	// if no env var in existing environment, load environment file from the .env file,
	// otherwise (in production) just check existing host environment
	if "" == testEnv {
		err := godotenv.Load(envFile)
		if err != nil {
			return nil, errors.Wrapf(err, "Error loading %s file", envFile)
		}
	}

	var env Environment
	err := envconfig.Process("thoth", &env)
	if err != nil {
		return nil, errors.Wrap(err, "Error processing environment config")
	}
	return &env, err
}
