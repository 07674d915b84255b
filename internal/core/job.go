package core

import (
	"time"
)

type JobKind string

const (
	JobKindLabel JobKind = "label"
	JobKindRaw   JobKind = "raw"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

type LabelContent struct {
	QRData   string
	Title    string
	Subtitle string
}

type Job struct {
	ID           uint64
	Kind         JobKind
	PageConfig   string
	Label        *LabelContent
	Quantity     int
	TSPL         string
	Status       JobStatus
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

func (j *Job) clone() *Job {
	c := *j
	if j.Label != nil {
		label := *j.Label
		c.Label = &label
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

type QueueStats struct {
	Queued     int
	Processing int
	Completed  int
	Failed     int
	Total      int
}

type Notifier interface {
	SendJobEvent(event string, job *Job)
	SendPrinterStatusChange(identity PrinterIdentity, oldState, newState SessionState)
}

type Recorder interface {
	Record(job *Job) error
}

type Metrics interface {
	JobEnqueued()
	JobCompleted(seconds float64)
	JobFailed()
	QueueDepth(queued, processing int)
}

type Renderer interface {
	Render(pageConfig string, label LabelContent, quantity int) (string, error)
}
