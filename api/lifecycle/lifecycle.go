// Package lifecycle answers result, status and log queries for previously issued job handles.
package lifecycle

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"gitlab.uncharted.software/WM/analysis-gateway/api/scheduler"
	"gitlab.uncharted.software/WM/analysis-gateway/api/storage"
)

var (
	// ErrInvalidHandle is returned when a handle does not carry the prefix of the queried operation.
	ErrInvalidHandle = errors.New("wrong analysis id provided")
	// ErrNotFound is returned when neither the result store nor the scheduler know a handle.
	ErrNotFound = errors.New("analysis not found")
	// ErrUnreachableState is returned when the scheduler reports a state outside the known set.
	ErrUnreachableState = errors.New("unreachable job state")
)

// Phase is the outward facing state of a job.
type Phase string

// Resolution phases.
const (
	NotFound   Phase = "not-found"
	InProgress Phase = "in-progress"
	Scheduling Phase = "scheduling"
	Succeeded  Phase = "succeeded"
	Failed     Phase = "failed"
)

// Target identifies where jobs of one operation are run and where their results land.
type Target struct {
	Prefix    string
	Namespace string
	Results   storage.DocumentStore
}

// NewTarget creates the target for an operation.
func NewTarget(op scheduler.Operation, results storage.DocumentStore) Target {
	return Target{Prefix: op.Prefix, Namespace: op.Namespace, Results: results}
}

// Resolution is the outcome of resolving a handle. Result is set when Succeeded, Status when the
// scheduler was consulted.
type Resolution struct {
	Phase  Phase
	Result map[string]interface{}
	Status *scheduler.StatusReport
}

// Resolver reconciles the result store with the scheduler's view of a job.
type Resolver struct {
	inspector scheduler.Inspector
}

// NewResolver creates a resolver backed by the given scheduler.
func NewResolver(inspector scheduler.Inspector) *Resolver {
	return &Resolver{inspector: inspector}
}

// ValidateHandle checks a handle against the target prefix.
func ValidateHandle(target Target, handle string) error {
	if !strings.HasPrefix(handle, target.Prefix) {
		return errors.Wrapf(ErrInvalidHandle, "%q does not start with %q", handle, target.Prefix)
	}
	return nil
}

// Resolve returns the result of a job when it is stored, or the state the scheduler reports
// for it otherwise.
func (r *Resolver) Resolve(ctx context.Context, target Target, handle string) (*Resolution, error) {
	if err := ValidateHandle(target, handle); err != nil {
		return nil, err
	}

	result, err := target.Results.Retrieve(ctx, handle)
	if err == nil {
		return &Resolution{Phase: Succeeded, Result: result}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if target.Namespace == "" {
		return &Resolution{Phase: NotFound}, nil
	}

	status, err := r.inspector.StatusReport(ctx, handle, target.Namespace)
	if errors.Is(err, scheduler.ErrJobNotFound) {
		return &Resolution{Phase: NotFound}, nil
	}
	if err != nil {
		return nil, err
	}

	phase, err := phaseOf(status)
	if err != nil {
		return nil, err
	}
	return &Resolution{Phase: phase, Status: status}, nil
}

// phaseOf interprets a status report of a job whose result is not stored yet. A zero exit is
// still in progress: the job finished but its result has not reached the store.
func phaseOf(status *scheduler.StatusReport) (Phase, error) {
	switch status.State {
	case scheduler.StateRunning:
		return InProgress, nil
	case scheduler.StateTerminated:
		if status.ExitCode != nil && *status.ExitCode == 0 {
			return InProgress, nil
		}
		return Failed, nil
	case scheduler.StateRegistered, scheduler.StateScheduling, scheduler.StateWaiting:
		return Scheduling, nil
	}
	return "", errors.Wrapf(ErrUnreachableState, "unknown job state %q", status.State)
}

// Status returns the scheduler's status report for a handle.
func (r *Resolver) Status(ctx context.Context, target Target, handle string) (*scheduler.StatusReport, error) {
	if err := ValidateHandle(target, handle); err != nil {
		return nil, err
	}
	status, err := r.inspector.StatusReport(ctx, handle, target.Namespace)
	if errors.Is(err, scheduler.ErrJobNotFound) {
		return nil, ErrNotFound
	}
	return status, err
}

// Log returns the job log for a handle.
func (r *Resolver) Log(ctx context.Context, target Target, handle string) (string, error) {
	if err := ValidateHandle(target, handle); err != nil {
		return "", err
	}
	log, err := r.inspector.Log(ctx, handle, target.Namespace)
	if errors.Is(err, scheduler.ErrJobNotFound) {
		return "", ErrNotFound
	}
	return log, err
}
