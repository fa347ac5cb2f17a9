package queue

import (
	"sync"

	"github.com/google/uuid"
)

// Tracker keeps the latest known state of every submitted job.
type Tracker struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]Job
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{jobs: make(map[uuid.UUID]Job)}
}

// Put records job, replacing any earlier state.
func (t *Tracker) Put(job Job) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[job.ID] = job
}

// Get returns the recorded state of id.
func (t *Tracker) Get(id uuid.UUID) (Job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[id]
	return job, ok
}

// Update applies fn to the recorded job under the tracker lock.
func (t *Tracker) Update(id uuid.UUID, fn func(*Job)) (Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok {
		return Job{}, false
	}
	fn(&job)
	t.jobs[id] = job
	return job, true
}

// Counts returns how many tracked jobs are in each state.
func (t *Tracker) Counts() map[State]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	counts := make(map[State]int, 4)
	for _, job := range t.jobs {
		counts[job.State]++
	}
	return counts
}
