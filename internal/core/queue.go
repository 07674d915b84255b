package core

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidJob        = errors.New("invalid job")
	ErrInvalidTransition = errors.New("invalid job transition")
	ErrUnknownStatus     = errors.New("unknown job status")
)

func ParseJobStatus(s string) (JobStatus, error) {
	switch JobStatus(s) {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return JobStatus(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

type ListFilter struct {
	Status JobStatus
	Limit  int
}

type JobQueue struct {
	mu      sync.Mutex
	jobs    map[uint64]*Job
	order   []uint64
	pending []uint64
	nextID  uint64
	wakeCh  chan struct{}
	metrics Metrics
}

func NewJobQueue(metrics Metrics) *JobQueue {
	return &JobQueue{
		jobs:    make(map[uint64]*Job),
		wakeCh:  make(chan struct{}, 1),
		metrics: metrics,
	}
}

// Wake is signalled on every enqueue so the processor can skip its
// poll interval when work arrives.
func (q *JobQueue) Wake() <-chan struct{} {
	return q.wakeCh
}

func (q *JobQueue) EnqueueLabel(pageConfig string, label LabelContent, quantity int) (*Job, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1, got %d", ErrInvalidJob, quantity)
	}
	if label.QRData == "" && label.Title == "" && label.Subtitle == "" {
		return nil, fmt.Errorf("%w: empty label content", ErrInvalidJob)
	}
	if pageConfig == "" {
		pageConfig = "default"
	}

	job := &Job{
		Kind:       JobKindLabel,
		PageConfig: pageConfig,
		Label:      &label,
		Quantity:   quantity,
	}
	return q.enqueue(job), nil
}

func (q *JobQueue) EnqueueRaw(tspl string) (*Job, error) {
	if strings.TrimSpace(tspl) == "" {
		return nil, fmt.Errorf("%w: empty TSPL content", ErrInvalidJob)
	}

	job := &Job{
		Kind: JobKindRaw,
		TSPL: tspl,
	}
	return q.enqueue(job), nil
}

func (q *JobQueue) enqueue(job *Job) *Job {
	q.mu.Lock()

	q.nextID++
	job.ID = q.nextID
	job.Status = JobStatusQueued
	job.CreatedAt = time.Now()

	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)
	q.pending = append(q.pending, job.ID)

	if q.metrics != nil {
		q.metrics.JobEnqueued()
		q.reportDepth()
	}

	snapshot := job.clone()
	q.mu.Unlock()

	select {
	case q.wakeCh <- struct{}{}:
	default:
	}

	return snapshot
}

func (q *JobQueue) DequeueNext() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) > 0 {
		id := q.pending[0]
		q.pending = q.pending[1:]

		job, ok := q.jobs[id]
		if !ok || job.Status != JobStatusQueued {
			continue
		}

		now := time.Now()
		job.Status = JobStatusProcessing
		job.StartedAt = &now

		if q.metrics != nil {
			q.reportDepth()
		}

		return job.clone()
	}

	return nil
}

// setTSPL stashes rendered content on a job so later reads and the
// history record carry the commands that were actually transmitted.
func (q *JobQueue) setTSPL(id uint64, tspl string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job, ok := q.jobs[id]; ok {
		job.TSPL = tspl
	}
}

func (q *JobQueue) Get(id uint64) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrJobNotFound, id)
	}
	return job.clone(), nil
}

func (q *JobQueue) List(filter ListFilter) []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]*Job, 0, len(q.order))
	for i := len(q.order) - 1; i >= 0; i-- {
		job, ok := q.jobs[q.order[i]]
		if !ok {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		jobs = append(jobs, job.clone())
		if filter.Limit > 0 && len(jobs) >= filter.Limit {
			break
		}
	}
	return jobs
}

func (q *JobQueue) MarkCompleted(id uint64) error {
	return q.finish(id, JobStatusCompleted, "")
}

func (q *JobQueue) MarkFailed(id uint64, errMsg string) error {
	return q.finish(id, JobStatusFailed, errMsg)
}

func (q *JobQueue) finish(id uint64, status JobStatus, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrJobNotFound, id)
	}
	if job.Status != JobStatusProcessing {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, status)
	}

	now := time.Now()
	job.Status = status
	job.ErrorMessage = errMsg
	job.FinishedAt = &now

	if q.metrics != nil {
		q.reportDepth()
	}

	return nil
}

func (q *JobQueue) ClearCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.order[:0]
	removed := 0
	for _, id := range q.order {
		job, ok := q.jobs[id]
		if !ok {
			continue
		}
		if job.Status.Terminal() {
			delete(q.jobs, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept

	if q.metrics != nil {
		q.reportDepth()
	}

	return removed
}

func (q *JobQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statsLocked()
}

func (q *JobQueue) statsLocked() QueueStats {
	stats := QueueStats{}
	for _, job := range q.jobs {
		stats.Total++
		switch job.Status {
		case JobStatusQueued:
			stats.Queued++
		case JobStatusProcessing:
			stats.Processing++
		case JobStatusCompleted:
			stats.Completed++
		case JobStatusFailed:
			stats.Failed++
		}
	}
	return stats
}

func (q *JobQueue) reportDepth() {
	stats := q.statsLocked()
	q.metrics.QueueDepth(stats.Queued, stats.Processing)
}
