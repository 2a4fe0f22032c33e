package queue

import (
	"os"
	"path"
	"reflect"
	"sync"

	"github.com/pkg/errors"
	"github.com/uncharted-causemos/dque"
)

const queueSegmentSize = 50

// PersistedFIFOQueue is a JobQueue stored on disk so tracking survives restarts.
type PersistedFIFOQueue struct {
	queue  *dque.DQue
	size   int
	hashes keySet
	mutex  *sync.RWMutex
}

func queuedItemBuilder() interface{} {
	return &queuedItem{}
}

// keySetBuilder rebuilds the in-memory key set from a queue loaded from disk.
type keySetBuilder struct {
	keys keySet
}

// Apply is called on each item of the persisted queue when it is loaded.
func (k *keySetBuilder) Apply(entry interface{}) error {
	item, ok := entry.(*queuedItem)
	if !ok {
		return errors.Errorf("unexpected type %s", reflect.TypeOf(entry))
	}
	k.keys.add(item.Key, item.Job.AnalysisID)
	return nil
}

// jobCollector copies queued jobs out of the persisted queue.
type jobCollector struct {
	jobs []Job
}

// Apply is called on each item of the persisted queue in order.
func (c *jobCollector) Apply(entry interface{}) error {
	item, ok := entry.(*queuedItem)
	if !ok {
		return errors.Errorf("unexpected type %s", reflect.TypeOf(entry))
	}
	c.jobs = append(c.jobs, item.Job)
	return nil
}

// NewPersistedFIFOQueue opens the queue stored under queueDir/queueName, creating it when
// missing.  The size of the queue is limited by the `size` parameter.
func NewPersistedFIFOQueue(size int, queueDir string, queueName string) (JobQueue, error) {
	queuePath := path.Join(queueDir, queueName)

	var (
		queue *dque.DQue
		err   error
	)
	if _, statErr := os.Stat(queuePath); os.IsNotExist(statErr) {
		if err = os.MkdirAll(queueDir, os.ModePerm); err != nil {
			return nil, errors.Wrapf(err, "failed to create job queue dir %s", queueDir)
		}
		queue, err = dque.New(queueName, queueDir, queueSegmentSize, queuedItemBuilder)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to initialize job queue %s", queuePath)
		}
	} else if statErr != nil {
		return nil, errors.Wrapf(statErr, "failed to access job queue %s", queuePath)
	} else {
		queue, err = dque.Open(queueName, queueDir, queueSegmentSize, queuedItemBuilder)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load job queue %s", queuePath)
		}
	}

	builder := keySetBuilder{keys: keySet{}}
	if err := queue.ApplyToQueue(&builder); err != nil {
		return nil, errors.Wrapf(err, "failed to rebuild key set for %s", queuePath)
	}

	return &PersistedFIFOQueue{
		queue:  queue,
		size:   size,
		hashes: builder.keys,
		mutex:  &sync.RWMutex{},
	}, nil
}

// Enqueue adds a job unless a job with the same key is already queued.  If the queue is full,
// the job will not be added and the function will return `false`.
func (r *PersistedFIFOQueue) Enqueue(job Job) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	key := job.Key()
	if r.hashes.has(key, job.AnalysisID) {
		return true, nil
	}
	if r.queue.Size() >= r.size {
		return false, nil
	}
	if err := r.queue.Enqueue(&queuedItem{Key: key, Job: job}); err != nil {
		return false, errors.Wrap(err, "failed to enqueue job")
	}
	r.hashes.add(key, job.AnalysisID)
	return true, nil
}

// Dequeue removes the oldest job. The second return value is false when the queue is empty.
func (r *PersistedFIFOQueue) Dequeue() (Job, bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.queue.Size() == 0 {
		return Job{}, false, nil
	}
	entry, err := r.queue.Dequeue()
	if err != nil {
		return Job{}, false, errors.Wrap(err, "failed to dequeue job")
	}
	item, ok := entry.(*queuedItem)
	if !ok {
		return Job{}, false, errors.Errorf("unexpected type %s", reflect.TypeOf(entry))
	}
	r.hashes.remove(item.Key, item.Job.AnalysisID)
	return item.Job, true, nil
}

// Size returns the current size of the queue.
func (r *PersistedFIFOQueue) Size() int {
	return r.queue.Size()
}

// Clear empties the queue.
func (r *PersistedFIFOQueue) Clear() error {
	// the underlying queue has no clear function so our only option is to drain it
	// iteratively
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.hashes = keySet{}
	count := r.queue.Size()
	for i := 0; i < count; i++ {
		if _, err := r.queue.Dequeue(); err != nil {
			return errors.Wrap(err, "failed to clear job queue")
		}
	}
	return nil
}

// Close flushes state to disk and disallows any further operations.
func (r *PersistedFIFOQueue) Close() error {
	return errors.Wrap(r.queue.Close(), "failed to close job queue")
}

// GetAll returns the queued jobs, oldest first.
func (r *PersistedFIFOQueue) GetAll() ([]Job, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	collector := jobCollector{jobs: make([]Job, 0, r.queue.Size())}
	if err := r.queue.ApplyToQueue(&collector); err != nil {
		return nil, errors.Wrap(err, "failed to read job queue")
	}
	return collector.jobs, nil
}
