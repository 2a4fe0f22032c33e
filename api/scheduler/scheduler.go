// Package scheduler submits analysis jobs to the execution backend and reports on them.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"gitlab.uncharted.software/WM/analysis-gateway/config"
)

// Job handle prefixes, one per operation.
const (
	PackageExtractPrefix    = "package-extract-"
	AdviserPrefix           = "adviser-"
	ProvenanceCheckerPrefix = "provenance-checker-"
	BuildAnalyzePrefix      = "build-analyze-"
)

// Job states reported by the backend.
const (
	StateRegistered = "registered"
	StateScheduling = "scheduling"
	StateWaiting    = "waiting"
	StateRunning    = "running"
	StateTerminated = "terminated"
)

// ErrJobNotFound is returned when the backend does not know the requested job.
var ErrJobNotFound = errors.New("job not found")

// Operation describes where and how jobs of one kind are run.
type Operation struct {
	Name      string
	Prefix    string
	Namespace string
	Image     string
	// Output is the result store endpoint the job reports to.
	Output string
}

// PackageExtract is the image analysis operation.
func PackageExtract(env *config.Environment) Operation {
	return Operation{
		Name:      "package-extract",
		Prefix:    PackageExtractPrefix,
		Namespace: env.MiddletierNamespace,
		Image:     env.AnalyzerImage,
		Output:    env.AnalyzerOutput,
	}
}

// Adviser is the stack recommendation operation.
func Adviser(env *config.Environment) Operation {
	return Operation{
		Name:      "adviser",
		Prefix:    AdviserPrefix,
		Namespace: env.BackendNamespace,
		Image:     env.AdviserImage,
		Output:    env.AdviserOutput,
	}
}

// ProvenanceChecker is the provenance check operation.
func ProvenanceChecker(env *config.Environment) Operation {
	return Operation{
		Name:      "provenance-checker",
		Prefix:    ProvenanceCheckerPrefix,
		Namespace: env.BackendNamespace,
		Image:     env.ProvenanceCheckerImage,
		Output:    env.ProvenanceCheckerOutput,
	}
}

// BuildAnalyze is the build log analysis operation.
func BuildAnalyze(env *config.Environment) Operation {
	return Operation{
		Name:      "build-analyze",
		Prefix:    BuildAnalyzePrefix,
		Namespace: env.BackendNamespace,
		Image:     env.BuildAnalyzerImage,
		Output:    env.BuildAnalyzerOutput,
	}
}

// JobRequest is a unit of work to schedule.
type JobRequest struct {
	Operation  Operation
	Parameters interface{}
	// Secrets are handed to the job but never reported back.
	Secrets map[string]string
	Debug   bool
}

// StatusReport is the state of a job as seen by the backend.
type StatusReport struct {
	State      string     `json:"state"`
	ExitCode   *int32     `json:"exit_code,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Message    string     `json:"message,omitempty"`
	Container  string     `json:"container,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Dispatcher submits jobs.
type Dispatcher interface {
	Schedule(ctx context.Context, req JobRequest) (string, error)
}

// Inspector reports on previously submitted jobs.
type Inspector interface {
	StatusReport(ctx context.Context, id string, namespace string) (*StatusReport, error)
	Log(ctx context.Context, id string, namespace string) (string, error)
}

// Scheduler both submits and inspects jobs.
type Scheduler interface {
	Dispatcher
	Inspector
}

// DispatchError is returned when the backend rejects a submission.
type DispatchError struct {
	Operation string
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("failed to schedule %s job: %v", e.Operation, e.Err)
}

// Unwrap returns the backend error.
func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Cause returns the backend error.
func (e *DispatchError) Cause() error {
	return e.Err
}
