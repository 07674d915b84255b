package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KudcraftsHQ/label-printer-server/internal/core"
)

type Event string

const (
	EventJobStarted           Event = "job_started"
	EventJobCompleted         Event = "job_completed"
	EventJobFailed            Event = "job_failed"
	EventPrinterStatusChanged Event = "printer_status_changed"
)

type Payload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	Signature string      `json:"signature,omitempty"`
}

type JobEventData struct {
	JobID        uint64 `json:"jobId"`
	Kind         string `json:"kind"`
	Status       string `json:"status"`
	PageConfig   string `json:"pageConfig,omitempty"`
	Quantity     int    `json:"quantity,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	DurationMS   int64  `json:"durationMs,omitempty"`
}

type PrinterStatusData struct {
	VendorID       uint16    `json:"vendorId"`
	ProductID      uint16    `json:"productId"`
	Printer        string    `json:"printer"`
	PreviousStatus string    `json:"previousStatus"`
	NewStatus      string    `json:"newStatus"`
	Timestamp      time.Time `json:"timestamp"`
}

// Endpoint is a configured webhook receiver. An empty Events list
// subscribes it to every event.
type Endpoint struct {
	Name   string
	URL    string
	Secret string
	Events []string
}

func (e Endpoint) matches(event string) bool {
	if len(e.Events) == 0 {
		return true
	}
	for _, ev := range e.Events {
		if ev == event {
			return true
		}
	}
	return false
}

type Config struct {
	RetryCount  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	WorkerCount int
	QueueSize   int
}

type task struct {
	endpoint Endpoint
	event    string
	payload  *Payload
	attempt  int
}

type Sender struct {
	endpoints   []Endpoint
	httpClient  *http.Client
	retryCount  int
	retryDelay  time.Duration
	workerCount int
	queue       chan *task
	stopCh      chan struct{}
	wg          sync.WaitGroup
	log         *zap.Logger
}

func NewSender(endpoints []Endpoint, cfg Config, log *zap.Logger) *Sender {
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 3
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Sender{
		endpoints: endpoints,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		retryCount:  cfg.RetryCount,
		retryDelay:  cfg.RetryDelay,
		workerCount: cfg.WorkerCount,
		queue:       make(chan *task, cfg.QueueSize),
		stopCh:      make(chan struct{}),
		log:         log,
	}
}

func (s *Sender) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

func (s *Sender) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Sender) SendJobEvent(event string, job *core.Job) {
	data := &JobEventData{
		JobID:        job.ID,
		Kind:         string(job.Kind),
		Status:       string(job.Status),
		PageConfig:   job.PageConfig,
		Quantity:     job.Quantity,
		ErrorMessage: job.ErrorMessage,
	}
	if job.StartedAt != nil && job.FinishedAt != nil {
		data.DurationMS = job.FinishedAt.Sub(*job.StartedAt).Milliseconds()
	}
	s.enqueue(event, data)
}

func (s *Sender) SendPrinterStatusChange(identity core.PrinterIdentity, oldState, newState core.SessionState) {
	s.enqueue(string(EventPrinterStatusChanged), &PrinterStatusData{
		VendorID:       identity.VendorID,
		ProductID:      identity.ProductID,
		Printer:        identity.String(),
		PreviousStatus: string(oldState),
		NewStatus:      string(newState),
		Timestamp:      time.Now(),
	})
}

// enqueue fans the event out to matching endpoints. Delivery is best
// effort; a full queue drops the task rather than blocking the caller.
func (s *Sender) enqueue(event string, data interface{}) {
	for _, ep := range s.endpoints {
		if !ep.matches(event) {
			continue
		}

		t := &task{
			endpoint: ep,
			event:    event,
			payload: &Payload{
				Event:     event,
				Timestamp: time.Now(),
				Data:      data,
			},
		}

		select {
		case s.queue <- t:
		default:
			s.log.Warn("webhook queue full, dropping event",
				zap.String("event", event),
				zap.String("url", ep.URL))
		}
	}
}

func (s *Sender) worker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case t := <-s.queue:
			if err := s.sendWithRetry(t); err != nil {
				s.log.Error("webhook delivery failed",
					zap.String("event", t.event),
					zap.String("url", t.endpoint.URL),
					zap.Int("attempts", t.attempt),
					zap.Error(err))
			}
		}
	}
}

func (s *Sender) sendWithRetry(t *task) error {
	var lastErr error
	for t.attempt < s.retryCount {
		t.attempt++

		err := s.sendRequest(t.endpoint, t.payload)
		if err == nil {
			return nil
		}
		lastErr = err

		if isClientError(err) {
			return err
		}

		if t.attempt < s.retryCount {
			backoff := s.retryDelay * time.Duration(1<<(t.attempt-1))
			s.log.Debug("webhook retry",
				zap.String("url", t.endpoint.URL),
				zap.Int("attempt", t.attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err))

			select {
			case <-s.stopCh:
				return fmt.Errorf("shutdown requested")
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (s *Sender) sendRequest(ep Endpoint, payload *Payload) error {
	dataBytes, err := json.Marshal(payload.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	if ep.Secret != "" {
		payload.Signature = signPayload(dataBytes, ep.Secret)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", payload.Signature)
	req.Header.Set("X-Webhook-Event", payload.Event)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("http error: %d", resp.StatusCode)
	}

	return nil
}

func signPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func isClientError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "http error: 4")
}
