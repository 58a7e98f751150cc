package installer

import "sync"

// queuedJob is a job waiting for the installer
type queuedJob struct {
	jobID   string
	startFn func()
}

// JobQueue runs install jobs with a concurrency limit. The service uses a
// limit of one: installs touch shared storage and partitions.
type JobQueue struct {
	maxConcurrent int
	active        map[string]bool // jobID -> is running
	pending       []queuedJob
	mu            sync.Mutex
}

// NewJobQueue creates a new job queue with max concurrent limit
func NewJobQueue(maxConcurrent int) *JobQueue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &JobQueue{
		maxConcurrent: maxConcurrent,
		active:        make(map[string]bool),
		pending:       make([]queuedJob, 0),
	}
}

// Enqueue adds a job to the queue and returns its queue position.
// Returns 0 if the job starts immediately, >0 if queued.
func (q *JobQueue) Enqueue(jobID string, startFn func()) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.active) < q.maxConcurrent {
		q.active[jobID] = true
		go startFn()
		return 0
	}

	q.pending = append(q.pending, queuedJob{jobID: jobID, startFn: startFn})
	return len(q.pending)
}

// MarkComplete marks a job as complete and starts the next queued job
func (q *JobQueue) MarkComplete(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.active, jobID)

	if len(q.pending) > 0 && len(q.active) < q.maxConcurrent {
		next := q.pending[0]
		q.pending = q.pending[1:]
		q.active[next.jobID] = true
		go next.startFn()
	}
}

// GetPosition returns the queue position of a job.
// Returns nil if not in queue (either running or complete)
func (q *JobQueue) GetPosition(jobID string) *int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active[jobID] {
		return nil
	}
	for i, job := range q.pending {
		if job.jobID == jobID {
			pos := i + 1
			return &pos
		}
	}
	return nil
}

// ActiveCount returns number of running jobs
func (q *JobQueue) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

// PendingCount returns number of queued jobs
func (q *JobQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
