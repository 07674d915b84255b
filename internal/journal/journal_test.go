package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KudcraftsHQ/label-printer-server/internal/core"
)

func openTestJournal(t *testing.T, retentionDays int) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), retentionDays, nil)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func finishedJob(id uint64, status core.JobStatus) *core.Job {
	now := time.Now()
	started := now.Add(-2 * time.Second)
	return &core.Job{
		ID:         id,
		Kind:       core.JobKindLabel,
		PageConfig: "default",
		Label:      &core.LabelContent{QRData: "SKU-1", Title: "Widget", Subtitle: "Bin 7"},
		Quantity:   2,
		TSPL:       "SIZE 40 mm, 30 mm\nPRINT 1\n",
		Status:     status,
		CreatedAt:  now.Add(-3 * time.Second),
		StartedAt:  &started,
		FinishedAt: &now,
	}
}

func TestJournal_RecordAndList(t *testing.T) {
	t.Parallel()

	j := openTestJournal(t, 0)
	job := finishedJob(7, core.JobStatusCompleted)
	require.NoError(t, j.Record(job))

	entries, err := j.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, uint64(7), e.JobID)
	assert.Equal(t, "label", e.Kind)
	assert.Equal(t, "completed", e.Status)
	assert.Equal(t, "default", e.PageConfig)
	assert.Equal(t, "SKU-1", e.QRData)
	assert.Equal(t, "Widget", e.Title)
	assert.Equal(t, "Bin 7", e.Subtitle)
	assert.Equal(t, 2, e.Quantity)
	assert.Equal(t, job.TSPL, e.TSPL)
	assert.Empty(t, e.ErrorMessage)
	assert.WithinDuration(t, job.CreatedAt, e.CreatedAt, time.Second)
	require.NotNil(t, e.StartedAt)
	assert.WithinDuration(t, *job.StartedAt, *e.StartedAt, time.Second)
	require.NotNil(t, e.FinishedAt)
	assert.WithinDuration(t, *job.FinishedAt, *e.FinishedAt, time.Second)
	assert.False(t, e.RecordedAt.IsZero())
}

func TestJournal_RecordFailedJobKeepsError(t *testing.T) {
	t.Parallel()

	j := openTestJournal(t, 0)
	job := finishedJob(3, core.JobStatusFailed)
	job.ErrorMessage = "printer transport failure: endpoint stalled"
	require.NoError(t, j.Record(job))

	entries, err := j.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "failed", entries[0].Status)
	assert.Equal(t, job.ErrorMessage, entries[0].ErrorMessage)
}

func TestJournal_RecordRawJob(t *testing.T) {
	t.Parallel()

	j := openTestJournal(t, 0)
	now := time.Now()
	job := &core.Job{
		ID:         4,
		Kind:       core.JobKindRaw,
		TSPL:       "DIRECTION 0\nPRINT 1\n",
		Status:     core.JobStatusCompleted,
		CreatedAt:  now,
		FinishedAt: &now,
	}
	require.NoError(t, j.Record(job))

	entries, err := j.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, "raw", e.Kind)
	assert.Empty(t, e.QRData)
	assert.Empty(t, e.Title)
	assert.Empty(t, e.Subtitle)
	assert.Equal(t, job.TSPL, e.TSPL)
}

func TestJournal_ListNewestFirst(t *testing.T) {
	t.Parallel()

	j := openTestJournal(t, 0)
	for id := uint64(1); id <= 3; id++ {
		require.NoError(t, j.Record(finishedJob(id, core.JobStatusCompleted)))
	}

	entries, err := j.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, uint64(3), entries[0].JobID)
	assert.Equal(t, uint64(2), entries[1].JobID)
	assert.Equal(t, uint64(1), entries[2].JobID)

	limited, err := j.List(2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, uint64(3), limited[0].JobID)
}

func TestJournal_ListEmpty(t *testing.T) {
	t.Parallel()

	j := openTestJournal(t, 0)
	entries, err := j.List(0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestJournal_PruneRemovesExpired(t *testing.T) {
	t.Parallel()

	j := openTestJournal(t, 7)
	require.NoError(t, j.Record(finishedJob(1, core.JobStatusCompleted)))
	require.NoError(t, j.Record(finishedJob(2, core.JobStatusCompleted)))

	// Age the first record past the retention window.
	_, err := j.db.Exec("UPDATE job_history SET recorded_at = ? WHERE job_id = ?",
		time.Now().AddDate(0, 0, -30), uint64(1))
	require.NoError(t, err)

	removed, err := j.Prune()
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	entries, err := j.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(2), entries[0].JobID)
}

func TestJournal_PruneDisabled(t *testing.T) {
	t.Parallel()

	j := openTestJournal(t, 0)
	require.NoError(t, j.Record(finishedJob(1, core.JobStatusCompleted)))

	_, err := j.db.Exec("UPDATE job_history SET recorded_at = ?", time.Now().AddDate(0, 0, -90))
	require.NoError(t, err)

	removed, err := j.Prune()
	require.NoError(t, err)
	assert.Zero(t, removed)

	entries, err := j.List(0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestJournal_RetentionSweepRunsOnStart(t *testing.T) {
	t.Parallel()

	j := openTestJournal(t, 7)
	require.NoError(t, j.Record(finishedJob(1, core.JobStatusCompleted)))
	_, err := j.db.Exec("UPDATE job_history SET recorded_at = ?", time.Now().AddDate(0, 0, -30))
	require.NoError(t, err)

	j.Start()
	defer j.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		entries, err := j.List(0)
		require.NoError(t, err)
		if len(entries) == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("expired history rows survived the startup sweep")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
