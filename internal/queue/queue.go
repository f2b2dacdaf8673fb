// Package queue provides an in-memory report queue with a worker pool that
// delivers accepted location samples to the backend without blocking the
// tracker.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/stuartshay/treasurio/internal/location"
)

// JobStatus represents the state of a location report
type JobStatus string

// Job status constants define the lifecycle states
const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusDropped    JobStatus = "dropped"
)

// DefaultRetention is how many finished jobs are kept for inspection
const DefaultRetention = 256

// Job is one team location report
type Job struct {
	ID           string          `json:"id"`
	TeamID       int             `json:"teamId"`
	Sample       location.Sample `json:"sample"`
	Status       JobStatus       `json:"status"`
	QueuedAt     time.Time       `json:"queuedAt"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	ErrorMessage string          `json:"error,omitempty"`
	Result       *JobResult      `json:"result,omitempty"`
}

// JobResult is the backend's answer to a delivered report
type JobResult struct {
	Status           string `json:"status"`
	Message          string `json:"message,omitempty"`
	RaceFinished     bool   `json:"raceFinished"`
	ProcessingTimeMS int64  `json:"processingTimeMs"`
}

// ProcessFunc delivers a job
type ProcessFunc func(ctx context.Context, job *Job) (*JobResult, error)

// Queue manages location reports with a worker pool
type Queue struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	order     []string
	retention int
	pending   chan *Job
	workers   int
	deliver   ProcessFunc
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewQueue creates a queue holding up to size pending reports, processed by
// the given number of workers
func NewQueue(workers, size int, deliver ProcessFunc) *Queue {
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		jobs:      make(map[string]*Job),
		retention: DefaultRetention,
		pending:   make(chan *Job, size),
		workers:   workers,
		deliver:   deliver,
		ctx:       ctx,
		cancel:    cancel,
	}

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	return q
}

// Enqueue adds a report for teamID. It never blocks: when the pending buffer
// is full the report is recorded as dropped and an error is returned.
func (q *Queue) Enqueue(teamID int, sample location.Sample) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ctx.Err() != nil {
		return "", fmt.Errorf("queue is shut down")
	}

	job := &Job{
		ID:       uuid.New().String(),
		TeamID:   teamID,
		Sample:   sample,
		Status:   StatusQueued,
		QueuedAt: time.Now().UTC(),
	}
	q.store(job)

	select {
	case q.pending <- job:
		return job.ID, nil
	default:
		job.Status = StatusDropped
		job.ErrorMessage = "queue is full"
		log.Warn().Int("team_id", teamID).Msg("Report queue full, dropping location")
		return "", fmt.Errorf("queue is full")
	}
}

// store records job and evicts the oldest finished jobs beyond retention.
// Callers hold q.mu.
func (q *Queue) store(job *Job) {
	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)

	excess := len(q.order) - q.retention
	if excess <= 0 {
		return
	}

	// Queued and processing jobs are kept wherever they sit
	kept := q.order[:0]
	for _, id := range q.order {
		j := q.jobs[id]
		if excess > 0 && j.Status != StatusQueued && j.Status != StatusProcessing {
			delete(q.jobs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(jobID string) (*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	job, exists := q.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}

	return copyJob(job), nil
}

func copyJob(job *Job) *Job {
	jobCopy := *job
	if job.StartedAt != nil {
		startedCopy := *job.StartedAt
		jobCopy.StartedAt = &startedCopy
	}
	if job.CompletedAt != nil {
		completedCopy := *job.CompletedAt
		jobCopy.CompletedAt = &completedCopy
	}
	if job.Result != nil {
		resultCopy := *job.Result
		jobCopy.Result = &resultCopy
	}
	return &jobCopy
}

// ListJobs returns jobs filtered by status, newest first
func (q *Queue) ListJobs(status JobStatus, limit, offset int) []*Job {
	q.mu.RLock()
	defer q.mu.RUnlock()

	// q.order is oldest first
	out := []*Job{}
	skipped := 0
	for i := len(q.order) - 1; i >= 0 && len(out) < limit; i-- {
		job := q.jobs[q.order[i]]
		if status != "" && job.Status != status {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, copyJob(job))
	}
	return out
}

// GetStats returns queue statistics
func (q *Queue) GetStats() map[string]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := map[string]int{
		"total":      len(q.jobs),
		"queued":     0,
		"processing": 0,
		"completed":  0,
		"failed":     0,
		"dropped":    0,
	}

	for _, job := range q.jobs {
		stats[string(job.Status)]++
	}

	return stats
}

// worker processes jobs from the queue
func (q *Queue) worker(id int) {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.pending:
			q.processJob(id, job)
		}
	}
}

// processJob executes a single job
func (q *Queue) processJob(workerID int, job *Job) {
	startTime := time.Now()

	q.mu.Lock()
	job.Status = StatusProcessing
	now := time.Now().UTC()
	job.StartedAt = &now
	q.mu.Unlock()

	result, err := q.deliver(q.ctx, job)

	q.mu.Lock()
	defer q.mu.Unlock()

	completedAt := time.Now().UTC()
	job.CompletedAt = &completedAt

	if err != nil {
		job.Status = StatusFailed
		job.ErrorMessage = err.Error()
		log.Warn().Err(err).
			Int("worker", workerID).
			Int("team_id", job.TeamID).
			Msg("Location report failed")
		return
	}

	job.Status = StatusCompleted
	job.Result = result
	if result != nil {
		result.ProcessingTimeMS = time.Since(startTime).Milliseconds()
	}
}

// Shutdown gracefully shuts down the queue. Reports still pending are
// abandoned.
func (q *Queue) Shutdown(timeout time.Duration) error {
	q.mu.Lock()
	q.cancel()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout exceeded")
	}
}
