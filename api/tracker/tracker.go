// Package tracker follows dispatched jobs to completion and drops the cache records of jobs that
// failed, so the next identical request schedules a fresh job instead of returning a dead handle.
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gitlab.uncharted.software/WM/analysis-gateway/api/cache"
	"gitlab.uncharted.software/WM/analysis-gateway/api/metrics"
	"gitlab.uncharted.software/WM/analysis-gateway/api/queue"
	"gitlab.uncharted.software/WM/analysis-gateway/api/scheduler"
	"gitlab.uncharted.software/WM/analysis-gateway/config"
)

// ErrQueueFull is returned by Track when no more jobs can be tracked.
var ErrQueueFull = errors.New("tracked job queue full")

// Outcome is what a single check did with a job.
type Outcome string

// Check outcomes.
const (
	Idle      Outcome = "idle"
	Requeued  Outcome = "requeued"
	Completed Outcome = "completed"
	Vanished  Outcome = "vanished"
	Evicted   Outcome = "evicted"
	Dropped   Outcome = "dropped"
)

// Tracker services the queue of dispatched jobs.
type Tracker struct {
	config.Config
	queue     queue.JobQueue
	inspector scheduler.Inspector
	caches    map[string]cache.Store
	interval  time.Duration
	done      chan bool
	running   bool
	mutex     *sync.RWMutex
}

// NewTracker creates a tracker over the given queue. Jobs name the cache holding their record;
// caches not passed here are never evicted from.
func NewTracker(cfg *config.Config, jobQueue queue.JobQueue, inspector scheduler.Inspector, caches ...cache.Store) *Tracker {
	byName := map[string]cache.Store{}
	for _, c := range caches {
		byName[c.Name()] = c
	}
	return &Tracker{
		Config:    cfg.Named("tracker"),
		queue:     jobQueue,
		inspector: inspector,
		caches:    byName,
		interval:  time.Duration(cfg.Environment.TrackerPollIntervalSec) * time.Second,
		done:      make(chan bool),
		mutex:     &sync.RWMutex{},
	}
}

// Track starts following a dispatched job. Tracking the same handle twice is a no-op.
func (t *Tracker) Track(job queue.Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	added, err := t.queue.Enqueue(job)
	if err != nil {
		return errors.Wrapf(err, "failed to track job %s", job.AnalysisID)
	}
	if !added {
		return errors.Wrapf(ErrQueueFull, "failed to track job %s", job.AnalysisID)
	}
	metrics.TrackedJobs.Set(float64(t.queue.Size()))
	return nil
}

// Tracked returns the jobs currently followed.
func (t *Tracker) Tracked() ([]queue.Job, error) {
	return t.queue.GetAll()
}

// Size returns the number of jobs currently followed.
func (t *Tracker) Size() int {
	return t.queue.Size()
}

// Clear stops following every tracked job. Cache records are left untouched.
func (t *Tracker) Clear() error {
	defer metrics.TrackedJobs.Set(float64(t.queue.Size()))
	return errors.Wrap(t.queue.Clear(), "failed to clear tracked jobs")
}

// Close releases the queue backing the tracker.
func (t *Tracker) Close() error {
	return t.queue.Close()
}

// Start initiates queue servicing.
func (t *Tracker) Start() {
	t.mutex.Lock()
	if t.running {
		t.mutex.Unlock()
		return
	}
	t.running = true
	t.mutex.Unlock()

	// Check one job per tick until we get shut down.
	go func() {
		for {
			select {
			case <-t.done:
				// break out of the loop on shutdown
				t.mutex.Lock()
				t.running = false
				t.mutex.Unlock()
				return
			case <-time.After(t.interval):
				if _, err := t.Check(context.Background()); err != nil {
					t.Logger.Error(err)
				}
			}
		}
	}()
}

// Stop ends queue servicing.
func (t *Tracker) Stop() {
	t.mutex.RLock()
	running := t.running
	t.mutex.RUnlock()
	if running {
		t.done <- true
	}
}

// Running indicates whether or not the tracker routine has been stopped, or is currently running.
func (t *Tracker) Running() bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.running
}

// Check takes the oldest tracked job and acts on the state the scheduler reports for it.
func (t *Tracker) Check(ctx context.Context) (Outcome, error) {
	defer func() {
		metrics.TrackedJobs.Set(float64(t.queue.Size()))
	}()

	job, ok, err := t.queue.Dequeue()
	if err != nil {
		return Idle, errors.Wrap(err, "failed to read tracked jobs")
	}
	if !ok {
		return Idle, nil
	}

	status, err := t.inspector.StatusReport(ctx, job.AnalysisID, job.Namespace)
	if errors.Is(err, scheduler.ErrJobNotFound) {
		t.Logger.Debugf("Job %s is no longer known to the scheduler", job.AnalysisID)
		return Vanished, nil
	}
	if err != nil {
		// keep following the job, the scheduler may just be unreachable
		return t.requeue(job, errors.Wrapf(err, "failed to check job %s", job.AnalysisID))
	}

	switch status.State {
	case scheduler.StateRegistered, scheduler.StateScheduling, scheduler.StateWaiting, scheduler.StateRunning:
		return t.requeue(job, nil)
	case scheduler.StateTerminated:
		if status.ExitCode != nil && *status.ExitCode == 0 {
			t.Logger.Debugf("Job %s completed", job.AnalysisID)
			return Completed, nil
		}
		return t.evict(ctx, job, status)
	}

	t.Logger.Warnf("Dropping job %s in unknown state %q", job.AnalysisID, status.State)
	return Dropped, nil
}

func (t *Tracker) requeue(job queue.Job, cause error) (Outcome, error) {
	added, err := t.queue.Enqueue(job)
	if err != nil {
		return Dropped, errors.Wrapf(err, "failed to requeue job %s", job.AnalysisID)
	}
	if !added {
		return Dropped, errors.Wrapf(ErrQueueFull, "failed to requeue job %s", job.AnalysisID)
	}
	return Requeued, cause
}

func (t *Tracker) evict(ctx context.Context, job queue.Job, status *scheduler.StatusReport) (Outcome, error) {
	store, ok := t.caches[job.Cache]
	if !ok {
		return Dropped, errors.Errorf("job %s refers to unknown cache %q", job.AnalysisID, job.Cache)
	}

	evicted, err := store.Evict(ctx, job.CacheKey, job.AnalysisID)
	if err != nil {
		return Dropped, err
	}
	if evicted {
		metrics.CacheEvictionsTotal.WithLabelValues(job.Cache).Inc()
		t.Logger.Infof("Job %s failed (%s), dropped its %s cache record", job.AnalysisID, status.Reason, job.Cache)
	}
	return Evicted, nil
}
