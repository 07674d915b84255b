package journal

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/KudcraftsHQ/label-printer-server/internal/core"
)

const defaultListLimit = 50

type Entry struct {
	ID           int64      `json:"id"`
	JobID        uint64     `json:"jobId"`
	Kind         string     `json:"kind"`
	Status       string     `json:"status"`
	PageConfig   string     `json:"pageConfig,omitempty"`
	QRData       string     `json:"qrData,omitempty"`
	Title        string     `json:"title,omitempty"`
	Subtitle     string     `json:"subtitle,omitempty"`
	Quantity     int        `json:"quantity,omitempty"`
	TSPL         string     `json:"tspl,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	RecordedAt   time.Time  `json:"recordedAt"`
}

// Journal keeps a durable record of finished jobs so the in-memory
// queue can stay bounded.
type Journal struct {
	db            *sql.DB
	retentionDays int
	log           *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

func Open(path string, retentionDays int, log *zap.Logger) (*Journal, error) {
	if log == nil {
		log = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(createJobHistory); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create job history schema: %w", err)
	}

	return &Journal{
		db:            db,
		retentionDays: retentionDays,
		log:           log,
		stopCh:        make(chan struct{}),
	}, nil
}

func (j *Journal) Record(job *core.Job) error {
	var qrData, title, subtitle string
	if job.Label != nil {
		qrData = job.Label.QRData
		title = job.Label.Title
		subtitle = job.Label.Subtitle
	}

	_, err := j.db.Exec(insertJobHistory,
		job.ID, string(job.Kind), string(job.Status),
		job.PageConfig, qrData, title, subtitle, job.Quantity,
		job.TSPL, job.ErrorMessage,
		job.CreatedAt, job.StartedAt, job.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record job: %w", err)
	}
	return nil
}

func (j *Journal) List(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := j.db.Query(listJobHistory, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query job history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var startedAt, finishedAt sql.NullTime
		if err := rows.Scan(
			&e.ID, &e.JobID, &e.Kind, &e.Status,
			&e.PageConfig, &e.QRData, &e.Title, &e.Subtitle, &e.Quantity,
			&e.TSPL, &e.ErrorMessage,
			&e.CreatedAt, &startedAt, &finishedAt, &e.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan job history row: %w", err)
		}
		if startedAt.Valid {
			e.StartedAt = &startedAt.Time
		}
		if finishedAt.Valid {
			e.FinishedAt = &finishedAt.Time
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (j *Journal) Prune() (int64, error) {
	if j.retentionDays <= 0 {
		return 0, nil
	}

	cutoff := time.Now().AddDate(0, 0, -j.retentionDays)
	result, err := j.db.Exec(pruneJobHistory, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune job history: %w", err)
	}
	return result.RowsAffected()
}

// Start runs the daily retention sweep. It is a no-op when retention
// is disabled.
func (j *Journal) Start() {
	if j.retentionDays <= 0 {
		return
	}

	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return
	}
	j.running = true
	j.mu.Unlock()

	go j.retentionLoop()
}

func (j *Journal) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	j.mu.Unlock()

	close(j.stopCh)
}

func (j *Journal) retentionLoop() {
	j.prune()

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopCh:
			return
		case <-ticker.C:
			j.prune()
		}
	}
}

func (j *Journal) prune() {
	removed, err := j.Prune()
	if err != nil {
		j.log.Error("pruning job history", zap.Error(err))
		return
	}
	if removed > 0 {
		j.log.Info("pruned job history", zap.Int64("removed", removed))
	}
}

func (j *Journal) Close() error {
	return j.db.Close()
}
