// Package graph queries the knowledge graph database over its GraphQL endpoint.
package graph

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/machinebox/graphql"
	"github.com/pkg/errors"
	"gitlab.uncharted.software/WM/analysis-gateway/config"
)

// ErrNotFound is returned when a queried entity does not exist in the graph.
var ErrNotFound = errors.New("not found in graph database")

// PackageIndex is a Python package index known to the graph.
type PackageIndex struct {
	URL             string `json:"url"`
	WarehouseAPIURL string `json:"warehouse_api_url,omitempty"`
	VerifySSL       bool   `json:"verify_ssl"`
	Enabled         bool   `json:"enabled"`
}

// Package is a package found in an analyzed runtime environment.
type Package struct {
	Name      string `json:"package_name"`
	Version   string `json:"package_version"`
	Ecosystem string `json:"ecosystem"`
}

// RuntimeEnvironment is the content of a runtime environment as seen by one analysis.
type RuntimeEnvironment struct {
	Packages []Package              `json:"packages"`
	Analysis map[string]interface{} `json:"analysis"`
}

// Analysis summarizes an image analysis of a runtime environment.
type Analysis struct {
	AnalysisID       string `json:"analysis_document_id"`
	AnalysisDatetime string `json:"analysis_datetime"`
	AnalyzerVersion  string `json:"analyzer_version"`
}

// Database is the subset of graph queries the gateway relies on.
type Database interface {
	PythonPackageIndexURLs(ctx context.Context) ([]string, error)
	PythonPackageIndexes(ctx context.Context) ([]PackageIndex, error)
	RuntimeEnvironments(ctx context.Context, page int, pageSize int) ([]string, error)
	RuntimeEnvironment(ctx context.Context, name string, analysisID string) (*RuntimeEnvironment, error)
	RuntimeEnvironmentAnalyses(ctx context.Context, name string, page int, pageSize int) ([]Analysis, error)
	IsSchemaUpToDate(ctx context.Context) (bool, error)
}

// Client is a Database speaking GraphQL.
type Client struct {
	client *graphql.Client
}

// NewClient creates a client for the GraphQL endpoint at addr.
func NewClient(addr string, timeout time.Duration) *Client {
	// graphql client that uses our http client - our timeout is applied transitively
	httpClient := &http.Client{Timeout: timeout}
	return &Client{client: graphql.NewClient(addr, graphql.WithHTTPClient(httpClient))}
}

func (c *Client) run(ctx context.Context, req *graphql.Request, resp interface{}) error {
	if err := c.client.Run(ctx, req, resp); err != nil {
		return errors.Wrap(err, "graph database query failed")
	}
	return nil
}

type packageIndexesResponse struct {
	PythonPackageIndexes []PackageIndex `json:"python_package_indexes"`
}

// PythonPackageIndexes lists all registered Python package indexes.
func (c *Client) PythonPackageIndexes(ctx context.Context) ([]PackageIndex, error) {
	req := graphql.NewRequest(`query {
		python_package_indexes {
			url
			warehouse_api_url
			verify_ssl
			enabled
		}
	}`)

	var resp packageIndexesResponse
	if err := c.run(ctx, req, &resp); err != nil {
		return nil, err
	}
	if resp.PythonPackageIndexes == nil {
		return []PackageIndex{}, nil
	}
	return resp.PythonPackageIndexes, nil
}

// PythonPackageIndexURLs returns the URLs of enabled package indexes, the sources provenance
// checks accept.
func (c *Client) PythonPackageIndexURLs(ctx context.Context) ([]string, error) {
	indexes, err := c.PythonPackageIndexes(ctx)
	if err != nil {
		return nil, err
	}
	urls := []string{}
	for _, index := range indexes {
		if index.Enabled {
			urls = append(urls, index.URL)
		}
	}
	return urls, nil
}

type runtimeEnvironmentsResponse struct {
	RuntimeEnvironments []struct {
		Name string `json:"name"`
	} `json:"runtime_environments"`
}

// RuntimeEnvironments lists runtime environment names one page at a time.
func (c *Client) RuntimeEnvironments(ctx context.Context, page int, pageSize int) ([]string, error) {
	req := graphql.NewRequest(`query($offset: Int!, $limit: Int!) {
		runtime_environments(offset: $offset, limit: $limit) {
			name
		}
	}`)
	req.Var("offset", page*pageSize)
	req.Var("limit", pageSize)

	var resp runtimeEnvironmentsResponse
	if err := c.run(ctx, req, &resp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.RuntimeEnvironments))
	for _, env := range resp.RuntimeEnvironments {
		names = append(names, env.Name)
	}
	return names, nil
}

type runtimeEnvironmentResponse struct {
	RuntimeEnvironment *RuntimeEnvironment `json:"runtime_environment"`
}

// RuntimeEnvironment returns the packages of a runtime environment. Without an analysisID the
// latest analysis is used.
func (c *Client) RuntimeEnvironment(ctx context.Context, name string, analysisID string) (*RuntimeEnvironment, error) {
	req := graphql.NewRequest(`query($name: String!, $analysis_id: String) {
		runtime_environment(name: $name, analysis_id: $analysis_id) {
			packages {
				package_name
				package_version
				ecosystem
			}
			analysis
		}
	}`)
	req.Var("name", name)
	if analysisID != "" {
		req.Var("analysis_id", analysisID)
	}

	var resp runtimeEnvironmentResponse
	if err := c.run(ctx, req, &resp); err != nil {
		return nil, err
	}
	if resp.RuntimeEnvironment == nil {
		return nil, errors.Wrapf(ErrNotFound, "no runtime environment %q", name)
	}
	if resp.RuntimeEnvironment.Packages == nil {
		resp.RuntimeEnvironment.Packages = []Package{}
	}
	return resp.RuntimeEnvironment, nil
}

type runtimeEnvironmentAnalysesResponse struct {
	RuntimeEnvironmentAnalyses []Analysis `json:"runtime_environment_analyses"`
}

// RuntimeEnvironmentAnalyses lists the analyses of a runtime environment one page at a time.
func (c *Client) RuntimeEnvironmentAnalyses(ctx context.Context, name string, page int, pageSize int) ([]Analysis, error) {
	req := graphql.NewRequest(`query($name: String!, $offset: Int!, $limit: Int!) {
		runtime_environment_analyses(name: $name, offset: $offset, limit: $limit) {
			analysis_document_id
			analysis_datetime
			analyzer_version
		}
	}`)
	req.Var("name", name)
	req.Var("offset", page*pageSize)
	req.Var("limit", pageSize)

	var resp runtimeEnvironmentAnalysesResponse
	if err := c.run(ctx, req, &resp); err != nil {
		return nil, err
	}
	if resp.RuntimeEnvironmentAnalyses == nil {
		return []Analysis{}, nil
	}
	return resp.RuntimeEnvironmentAnalyses, nil
}

type schemaResponse struct {
	Schema struct {
		UpToDate bool `json:"up_to_date"`
	} `json:"schema"`
}

// IsSchemaUpToDate reports whether the graph schema matches the version the gateway expects.
func (c *Client) IsSchemaUpToDate(ctx context.Context) (bool, error) {
	req := graphql.NewRequest(`query {
		schema {
			up_to_date
		}
	}`)

	var resp schemaResponse
	if err := c.run(ctx, req, &resp); err != nil {
		return false, err
	}
	return resp.Schema.UpToDate, nil
}

// Lazy defers creating a Database until its first use. Concurrent first uses connect once.
type Lazy struct {
	once    sync.Once
	connect func() Database
	db      Database
}

// NewLazy creates a Lazy that obtains its Database from connect.
func NewLazy(connect func() Database) *Lazy {
	return &Lazy{connect: connect}
}

func (l *Lazy) get() Database {
	l.once.Do(func() {
		l.db = l.connect()
	})
	return l.db
}

var (
	shared     *Lazy
	sharedOnce sync.Once
)

// Shared returns the process wide graph database for the configured endpoint.
func Shared(cfg *config.Config) Database {
	sharedOnce.Do(func() {
		addr := cfg.Environment.GraphAddr
		timeout := time.Duration(cfg.Environment.GraphTimeoutSec) * time.Second
		logger := cfg.Logger
		shared = NewLazy(func() Database {
			logger.Infof("Connecting to graph database at %s", addr)
			return NewClient(addr, timeout)
		})
	})
	return shared
}

// PythonPackageIndexURLs implements Database.
func (l *Lazy) PythonPackageIndexURLs(ctx context.Context) ([]string, error) {
	return l.get().PythonPackageIndexURLs(ctx)
}

// PythonPackageIndexes implements Database.
func (l *Lazy) PythonPackageIndexes(ctx context.Context) ([]PackageIndex, error) {
	return l.get().PythonPackageIndexes(ctx)
}

// RuntimeEnvironments implements Database.
func (l *Lazy) RuntimeEnvironments(ctx context.Context, page int, pageSize int) ([]string, error) {
	return l.get().RuntimeEnvironments(ctx, page, pageSize)
}

// RuntimeEnvironment implements Database.
func (l *Lazy) RuntimeEnvironment(ctx context.Context, name string, analysisID string) (*RuntimeEnvironment, error) {
	return l.get().RuntimeEnvironment(ctx, name, analysisID)
}

// RuntimeEnvironmentAnalyses implements Database.
func (l *Lazy) RuntimeEnvironmentAnalyses(ctx context.Context, name string, page int, pageSize int) ([]Analysis, error) {
	return l.get().RuntimeEnvironmentAnalyses(ctx, name, page, pageSize)
}

// IsSchemaUpToDate implements Database.
func (l *Lazy) IsSchemaUpToDate(ctx context.Context) (bool, error) {
	return l.get().IsSchemaUpToDate(ctx)
}
