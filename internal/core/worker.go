package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultPrinterBackoff = 3 * time.Second
)

type ProcessorConfig struct {
	PollInterval   time.Duration
	PrinterBackoff time.Duration
}

type Processor struct {
	queue    *JobQueue
	registry *Registry
	renderer Renderer
	recorder Recorder
	notifier Notifier
	metrics  Metrics
	log      *zap.Logger

	pollInterval   time.Duration
	printerBackoff time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewProcessor(queue *JobQueue, registry *Registry, renderer Renderer, recorder Recorder, notifier Notifier, metrics Metrics, cfg ProcessorConfig, log *zap.Logger) *Processor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PrinterBackoff <= 0 {
		cfg.PrinterBackoff = DefaultPrinterBackoff
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		queue:          queue,
		registry:       registry,
		renderer:       renderer,
		recorder:       recorder,
		notifier:       notifier,
		metrics:        metrics,
		log:            log,
		pollInterval:   cfg.PollInterval,
		printerBackoff: cfg.PrinterBackoff,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

func (p *Processor) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.mu.Unlock()

	go p.run()
	return nil
}

// Stop signals the loop and waits for any in-flight job to finish.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)
	<-p.doneCh
}

func (p *Processor) run() {
	defer close(p.doneCh)

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		if p.registry.Status().State != SessionStateConnected {
			p.sleep(p.printerBackoff)
			continue
		}

		job := p.queue.DequeueNext()
		if job == nil {
			p.waitForWork()
			continue
		}

		p.process(job)
	}
}

func (p *Processor) waitForWork() {
	select {
	case <-p.stopCh:
	case <-p.queue.Wake():
	case <-time.After(p.pollInterval):
	}
}

func (p *Processor) sleep(d time.Duration) {
	select {
	case <-p.stopCh:
	case <-time.After(d):
	}
}

func (p *Processor) process(job *Job) {
	if p.notifier != nil {
		p.notifier.SendJobEvent("job_started", job)
	}

	if job.Kind == JobKindLabel {
		var label LabelContent
		if job.Label != nil {
			label = *job.Label
		}
		tspl, err := p.renderer.Render(job.PageConfig, label, job.Quantity)
		if err != nil {
			p.finish(job, JobStatusFailed, fmt.Sprintf("render failed: %v", err))
			return
		}
		job.TSPL = tspl
		p.queue.setTSPL(job.ID, tspl)
	}

	if err := p.registry.Send(context.Background(), []byte(job.TSPL)); err != nil {
		p.finish(job, JobStatusFailed, err.Error())
		return
	}

	p.finish(job, JobStatusCompleted, "")
}

func (p *Processor) finish(job *Job, status JobStatus, errMsg string) {
	var err error
	if status == JobStatusCompleted {
		err = p.queue.MarkCompleted(job.ID)
	} else {
		err = p.queue.MarkFailed(job.ID, errMsg)
	}
	if err != nil {
		p.log.Warn("updating job status", zap.Uint64("job", job.ID), zap.Error(err))
	}

	now := time.Now()
	job.Status = status
	job.ErrorMessage = errMsg
	job.FinishedAt = &now

	event := "job_completed"
	if status == JobStatusFailed {
		event = "job_failed"
		p.log.Warn("job failed", zap.Uint64("job", job.ID), zap.String("error", errMsg))
	} else {
		p.log.Info("job completed", zap.Uint64("job", job.ID))
	}

	if p.notifier != nil {
		p.notifier.SendJobEvent(event, job)
	}
	if p.recorder != nil {
		if rerr := p.recorder.Record(job); rerr != nil {
			p.log.Error("recording job history", zap.Uint64("job", job.ID), zap.Error(rerr))
		}
	}
	if p.metrics != nil {
		switch status {
		case JobStatusCompleted:
			seconds := 0.0
			if job.StartedAt != nil {
				seconds = now.Sub(*job.StartedAt).Seconds()
			}
			p.metrics.JobCompleted(seconds)
		case JobStatusFailed:
			p.metrics.JobFailed()
		}
	}
}
