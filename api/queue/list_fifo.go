package queue

import (
	"container/list"
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

// ListFIFOQueue is an in-memory JobQueue based on a doubly linked list. Its content does not
// survive a restart.
type ListFIFOQueue struct {
	queue  *list.List
	hashes keySet
	size   int
	closed bool
	mutex  *sync.RWMutex
}

// NewListFIFOQueue creates a queue holding at most size jobs.
func NewListFIFOQueue(size int) JobQueue {
	return &ListFIFOQueue{
		queue:  list.New(),
		hashes: keySet{},
		size:   size,
		mutex:  &sync.RWMutex{},
	}
}

// Enqueue adds a job unless a job with the same key is already queued.  If the queue is full,
// the job will not be added and the function will return `false`.  An already queued job
// is reported as added.
func (r *ListFIFOQueue) Enqueue(job Job) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return false, errors.New("no enqueue after close")
	}

	key := job.Key()
	if r.hashes.has(key, job.AnalysisID) {
		return true, nil
	}
	if r.queue.Len() >= r.size {
		return false, nil
	}
	r.queue.PushBack(&queuedItem{Key: key, Job: job})
	r.hashes.add(key, job.AnalysisID)
	return true, nil
}

// Dequeue removes the oldest job. The second return value is false when the queue is empty.
func (r *ListFIFOQueue) Dequeue() (Job, bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return Job{}, false, errors.New("no dequeue after close")
	}
	if r.queue.Len() == 0 {
		return Job{}, false, nil
	}

	front := r.queue.Front()
	item := front.Value.(*queuedItem)
	r.queue.Remove(front)
	r.hashes.remove(item.Key, item.Job.AnalysisID)

	return item.Job, true, nil
}

// Size returns the current size of the queue.
func (r *ListFIFOQueue) Size() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.queue.Len()
}

// Clear empties the queue and its key set.
func (r *ListFIFOQueue) Clear() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return errors.New("no queue clear after close")
	}

	r.queue.Init()
	r.hashes = keySet{}
	return nil
}

// Close closes the queue forbidding further operations.
func (r *ListFIFOQueue) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return errors.New("no close of previously closed queue")
	}
	r.closed = true
	return nil
}

// GetAll returns the queued jobs, oldest first.
func (r *ListFIFOQueue) GetAll() ([]Job, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	jobs := make([]Job, 0, r.queue.Len())
	for current := r.queue.Front(); current != nil; current = current.Next() {
		item, ok := current.Value.(*queuedItem)
		if !ok {
			return nil, errors.Errorf("unexpected type %s", reflect.TypeOf(current.Value))
		}
		jobs = append(jobs, item.Job)
	}
	return jobs, nil
}
