package queue

import (
	"time"

	"github.com/vova616/xxhash"
)

// Job is a dispatched job whose completion is being tracked.
type Job struct {
	AnalysisID string `json:"analysis_id"`
	Operation  string `json:"operation"`
	Namespace  string `json:"namespace"`
	// Cache and CacheKey locate the cache record pointing at this job.
	Cache      string    `json:"cache"`
	CacheKey   string    `json:"cache_key"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Key identifies the job within a queue; a job is queued at most once.
func (j Job) Key() uint32 {
	return xxhash.Checksum32([]byte(j.AnalysisID))
}

// JobQueue defines an interface for a FIFO queue of tracked jobs.
type JobQueue interface {
	Enqueue(job Job) (bool, error)
	Dequeue() (Job, bool, error)
	Clear() error
	Close() error
	Size() int
	GetAll() ([]Job, error)
}

type queuedItem struct {
	Key uint32
	Job Job
}

// keySet holds the handles of queued jobs, bucketed by key so that colliding keys of distinct
// handles are still told apart.
type keySet map[uint32]map[string]bool

func (k keySet) has(key uint32, analysisID string) bool {
	return k[key][analysisID]
}

func (k keySet) add(key uint32, analysisID string) {
	if k[key] == nil {
		k[key] = map[string]bool{}
	}
	k[key][analysisID] = true
}

func (k keySet) remove(key uint32, analysisID string) {
	delete(k[key], analysisID)
	if len(k[key]) == 0 {
		delete(k, key)
	}
}
