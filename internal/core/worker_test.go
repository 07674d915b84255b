package core

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRenderer struct {
	mu    sync.Mutex
	out   string
	err   error
	calls int
}

func (r *stubRenderer) Render(pageConfig string, label LabelContent, quantity int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	return r.out, nil
}

func (r *stubRenderer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeRecorder struct {
	mu   sync.Mutex
	jobs []*Job
	err  error
}

func (r *fakeRecorder) Record(job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.jobs = append(r.jobs, job.clone())
	return nil
}

func (r *fakeRecorder) recorded() []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Job(nil), r.jobs...)
}

type fakeMetrics struct {
	mu        sync.Mutex
	enqueued  int
	completed int
	failed    int
}

func (m *fakeMetrics) JobEnqueued() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueued++
}

func (m *fakeMetrics) JobCompleted(seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed++
}

func (m *fakeMetrics) JobFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
}

func (m *fakeMetrics) QueueDepth(queued, processing int) {}

func (m *fakeMetrics) counts() (enqueued, completed, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enqueued, m.completed, m.failed
}

func connectedRegistry(t *testing.T, transport *fakeTransport) *Registry {
	t.Helper()
	r := NewRegistry(transport, 0, nil, nil)
	_, err := r.Connect(deviceA.Identity)
	require.NoError(t, err)
	return r
}

func newTestProcessor(q *JobQueue, r *Registry, renderer Renderer, recorder Recorder, notifier Notifier, metrics Metrics) *Processor {
	cfg := ProcessorConfig{
		PollInterval:   10 * time.Millisecond,
		PrinterBackoff: 10 * time.Millisecond,
	}
	return NewProcessor(q, r, renderer, recorder, notifier, metrics, cfg, nil)
}

func waitForJobStatus(t *testing.T, q *JobQueue, id uint64, want JobStatus) *Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		job, err := q.Get(id)
		require.NoError(t, err)
		if job.Status == want {
			return job
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %d stuck in %s, want %s", id, job.Status, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestProcessor_CompletesLabelJob(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport(deviceA)
	registry := connectedRegistry(t, transport)
	queue := NewJobQueue(nil)
	renderer := &stubRenderer{out: "SIZE 40 mm, 30 mm\nPRINT 1\n"}
	recorder := &fakeRecorder{}
	notifier := &fakeNotifier{}
	metrics := &fakeMetrics{}

	p := newTestProcessor(queue, registry, renderer, recorder, notifier, metrics)
	require.NoError(t, p.Start())
	defer p.Stop()

	job, err := queue.EnqueueLabel("default", LabelContent{QRData: "SKU-1", Title: "Widget"}, 2)
	require.NoError(t, err)

	done := waitForJobStatus(t, queue, job.ID, JobStatusCompleted)
	assert.Equal(t, renderer.out, done.TSPL)
	require.NotNil(t, done.FinishedAt)

	link := transport.linkFor(deviceA.Identity)
	assert.Equal(t, []string{renderer.out}, link.payloads())

	assert.Equal(t, []string{"job_started", "job_completed"}, notifier.events())

	recorded := recorder.recorded()
	require.Len(t, recorded, 1)
	assert.Equal(t, JobStatusCompleted, recorded[0].Status)
	assert.Equal(t, renderer.out, recorded[0].TSPL)

	_, completed, failed := metrics.counts()
	assert.Equal(t, 1, completed)
	assert.Zero(t, failed)
}

func TestProcessor_RawJobBypassesRenderer(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport(deviceA)
	registry := connectedRegistry(t, transport)
	queue := NewJobQueue(nil)
	renderer := &stubRenderer{err: errors.New("renderer must not run for raw jobs")}

	p := newTestProcessor(queue, registry, renderer, nil, nil, nil)
	require.NoError(t, p.Start())
	defer p.Stop()

	job, err := queue.EnqueueRaw("DIRECTION 0\nPRINT 1\n")
	require.NoError(t, err)

	waitForJobStatus(t, queue, job.ID, JobStatusCompleted)
	assert.Zero(t, renderer.callCount())

	link := transport.linkFor(deviceA.Identity)
	assert.Equal(t, []string{"DIRECTION 0\nPRINT 1\n"}, link.payloads())
}

func TestProcessor_RenderFailureFailsJob(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport(deviceA)
	registry := connectedRegistry(t, transport)
	queue := NewJobQueue(nil)
	renderer := &stubRenderer{err: errors.New("unknown page preset")}
	recorder := &fakeRecorder{}
	notifier := &fakeNotifier{}
	metrics := &fakeMetrics{}

	p := newTestProcessor(queue, registry, renderer, recorder, notifier, metrics)
	require.NoError(t, p.Start())
	defer p.Stop()

	job, err := queue.EnqueueLabel("default", LabelContent{Title: "Widget"}, 1)
	require.NoError(t, err)

	failed := waitForJobStatus(t, queue, job.ID, JobStatusFailed)
	assert.Contains(t, failed.ErrorMessage, "render failed")

	// Nothing reaches the printer when rendering fails.
	link := transport.linkFor(deviceA.Identity)
	assert.Empty(t, link.payloads())

	assert.Equal(t, []string{"job_started", "job_failed"}, notifier.events())

	recorded := recorder.recorded()
	require.Len(t, recorded, 1)
	assert.Equal(t, JobStatusFailed, recorded[0].Status)

	_, completed, failedCount := metrics.counts()
	assert.Zero(t, completed)
	assert.Equal(t, 1, failedCount)
}

func TestProcessor_TransportFailureFailsJob(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport(deviceA)
	link := &fakeLink{sendErr: errors.New("endpoint stalled")}
	transport.setLink(deviceA.Identity, link)
	registry := connectedRegistry(t, transport)
	queue := NewJobQueue(nil)

	p := newTestProcessor(queue, registry, &stubRenderer{}, nil, nil, nil)
	require.NoError(t, p.Start())
	defer p.Stop()

	job, err := queue.EnqueueRaw("PRINT 1\n")
	require.NoError(t, err)

	failed := waitForJobStatus(t, queue, job.ID, JobStatusFailed)
	assert.Contains(t, failed.ErrorMessage, "printer transport failure")
}

func TestProcessor_IdleWithoutPrinter(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(newFakeTransport(deviceA), 0, nil, nil)
	queue := NewJobQueue(nil)

	p := newTestProcessor(queue, registry, &stubRenderer{out: "PRINT 1\n"}, nil, nil, nil)
	require.NoError(t, p.Start())
	defer p.Stop()

	job, err := queue.EnqueueRaw("PRINT 1\n")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	got, err := queue.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusQueued, got.Status)
}

func TestProcessor_StopWaitsForInFlightJob(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport(deviceA)
	link := &fakeLink{block: make(chan struct{})}
	transport.setLink(deviceA.Identity, link)
	registry := connectedRegistry(t, transport)
	queue := NewJobQueue(nil)

	p := newTestProcessor(queue, registry, &stubRenderer{}, nil, nil, nil)
	require.NoError(t, p.Start())

	job, err := queue.EnqueueRaw("PRINT 1\n")
	require.NoError(t, err)
	waitForState(t, registry, SessionStateBusy)

	stopDone := make(chan struct{})
	go func() {
		p.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		t.Fatal("Stop returned while a job was still transmitting")
	case <-time.After(50 * time.Millisecond):
	}

	close(link.block)
	select {
	case <-stopDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the job finished")
	}

	got, err := queue.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, got.Status)
}

func TestProcessor_StartStopIdempotent(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(newFakeTransport(deviceA), 0, nil, nil)
	queue := NewJobQueue(nil)
	p := newTestProcessor(queue, registry, &stubRenderer{}, nil, nil, nil)

	require.NoError(t, p.Start())
	require.NoError(t, p.Start())
	p.Stop()
	p.Stop()
}

func TestProcessor_ProcessesJobsInOrder(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport(deviceA)
	registry := connectedRegistry(t, transport)
	queue := NewJobQueue(nil)

	p := newTestProcessor(queue, registry, &stubRenderer{}, nil, nil, nil)
	require.NoError(t, p.Start())
	defer p.Stop()

	var last *Job
	for _, tspl := range []string{"FIRST\n", "SECOND\n", "THIRD\n"} {
		job, err := queue.EnqueueRaw(tspl)
		require.NoError(t, err)
		last = job
	}

	waitForJobStatus(t, queue, last.ID, JobStatusCompleted)

	link := transport.linkFor(deviceA.Identity)
	assert.Equal(t, []string{"FIRST\n", "SECOND\n", "THIRD\n"}, link.payloads())
}
