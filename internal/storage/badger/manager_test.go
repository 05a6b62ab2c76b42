package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arremate/internal/common"
	"github.com/ternarybob/arremate/internal/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	manager, err := NewManager(arbor.NewLogger(), &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	return manager
}

func newTestJob(id, owner string) *models.Job {
	return &models.Job{
		ID:        id,
		OwnerID:   owner,
		Filename:  "edital.pdf",
		SizeBytes: 1024,
		Status:    models.JobStatusUploaded,
		CreatedAt: time.Now().UTC(),
	}
}

func TestJobCreateAndGet(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	job := newTestJob("job_1", "owner-a")
	require.NoError(t, m.Jobs().Create(ctx, job))

	got, err := m.Jobs().Get(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, "edital.pdf", got.Filename)
	assert.Equal(t, models.JobStatusUploaded, got.Status)

	// Duplicate IDs are rejected.
	err = m.Jobs().Create(ctx, newTestJob("job_1", "owner-a"))
	assert.ErrorIs(t, err, common.ErrAlreadyExists)

	_, err = m.Jobs().Get(ctx, "job_missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestCompareAndSetStatus(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Jobs().Create(ctx, newTestJob("job_1", "owner-a")))

	updated, err := m.Jobs().CompareAndSetStatus(ctx, "job_1", models.JobStatusUploaded, models.JobStatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, updated.Status)
	assert.NotNil(t, updated.StartedAt)

	// A second worker racing on the same transition loses.
	_, err = m.Jobs().CompareAndSetStatus(ctx, "job_1", models.JobStatusUploaded, models.JobStatusProcessing)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrConflict)

	// Illegal transitions are rejected before touching the store.
	_, err = m.Jobs().CompareAndSetStatus(ctx, "job_1", models.JobStatusProcessing, models.JobStatusUploaded)
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestListByOwnerRequiresOwner(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Jobs().Create(ctx, newTestJob("job_1", "owner-a")))
	require.NoError(t, m.Jobs().Create(ctx, newTestJob("job_2", "owner-b")))

	jobs, err := m.Jobs().ListByOwner(ctx, "owner-a", 0, 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	// No owner means no results, never a full scan of everyone's jobs.
	jobs, err = m.Jobs().ListByOwner(ctx, "", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestChunkGetByPageIncludesOverlap(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	// Windows 1-5 and 5-9 share page 5.
	require.NoError(t, m.Chunks().Store(ctx, &models.Chunk{JobID: "job_1", Index: 0, PageStart: 1, PageEnd: 5, Status: models.ChunkStatusExtracted}))
	require.NoError(t, m.Chunks().Store(ctx, &models.Chunk{JobID: "job_1", Index: 1, PageStart: 5, PageEnd: 9, Status: models.ChunkStatusExtracted}))

	chunks, err := m.Chunks().GetByPage(ctx, "job_1", 5)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 1, chunks[1].Index)

	chunks, err = m.Chunks().GetByPage(ctx, "job_1", 3)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
}

func TestDeleteJobCascade(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Jobs().Create(ctx, newTestJob("job_1", "owner-a")))
	require.NoError(t, m.Chunks().Store(ctx, &models.Chunk{JobID: "job_1", Index: 0, PageStart: 1, PageEnd: 5}))
	require.NoError(t, m.Analyses().Store(ctx, &models.TextAnalysis{JobID: "job_1", ChunkIndex: 0}))
	require.NoError(t, m.Predictions().Store(ctx, &models.Prediction{JobID: "job_1", Score: 80}))
	require.NoError(t, m.Feedback().Store(ctx, &models.FeedbackRecord{ID: "fb_1", JobID: "job_1", ActualClass: models.LeadHigh}))

	require.NoError(t, m.DeleteJobCascade(ctx, "job_1"))

	_, err := m.Jobs().Get(ctx, "job_1")
	assert.ErrorIs(t, err, common.ErrNotFound)

	count, err := m.Chunks().CountByJob(ctx, "job_1")
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = m.Predictions().Get(ctx, "job_1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestDeleteJobCascadeRollsBackOnMissingJob(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	// Orphaned rows without a job record: the cascade fails on the job
	// delete and the single transaction must leave every row in place.
	require.NoError(t, m.Chunks().Store(ctx, &models.Chunk{JobID: "job_ghost", Index: 0, PageStart: 1, PageEnd: 5}))
	require.NoError(t, m.Feedback().Store(ctx, &models.FeedbackRecord{ID: "fb_ghost", JobID: "job_ghost", ActualClass: models.LeadLow}))

	err := m.DeleteJobCascade(ctx, "job_ghost")
	assert.ErrorIs(t, err, common.ErrNotFound)

	count, err := m.Chunks().CountByJob(ctx, "job_ghost")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	remaining, err := m.Feedback().CountUnprocessed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}

func TestUpdateProgressLeavesStatusAlone(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Jobs().Create(ctx, newTestJob("job_1", "owner-a")))

	// Status moves concurrently; a progress write must not undo it.
	_, err := m.Jobs().CompareAndSetStatus(ctx, "job_1", models.JobStatusUploaded, models.JobStatusProcessing)
	require.NoError(t, err)

	require.NoError(t, m.Jobs().UpdateProgress(ctx, "job_1", models.Progress{Current: 2, Total: 5, Stage: "chunking"}))

	got, err := m.Jobs().Get(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, got.Status)
	assert.Equal(t, 2, got.Progress.Current)
	assert.Equal(t, 5, got.Progress.Total)
	assert.Equal(t, "chunking", got.Progress.Stage)
}

func TestCountByMonthBucketsAndScopes(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	january := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	march := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	for i, spec := range []struct {
		owner string
		at    time.Time
	}{
		{"owner-a", january},
		{"owner-a", january},
		{"owner-a", march},
		{"owner-b", march},
	} {
		job := newTestJob(common.NewJobID(), spec.owner)
		job.CreatedAt = spec.at
		require.NoError(t, m.Jobs().Create(ctx, job), "job %d", i)
	}

	all, err := m.Jobs().CountByMonth(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"2026-01": 2, "2026-03": 2}, all)

	mine, err := m.Jobs().CountByMonth(ctx, "owner-a")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"2026-01": 2, "2026-03": 1}, mine)
}

func TestArtifactLatestIsNumeric(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	for _, v := range []string{"v1", "v9", "v10"} {
		require.NoError(t, m.Artifacts().Store(ctx, &models.ModelArtifact{
			Name:    models.ModelForest,
			Version: v,
		}))
	}

	latest, err := m.Artifacts().Latest(ctx, models.ModelForest)
	require.NoError(t, err)
	assert.Equal(t, "v10", latest.Version)

	// Registered versions are immutable.
	err = m.Artifacts().Store(ctx, &models.ModelArtifact{Name: models.ModelForest, Version: "v9"})
	assert.ErrorIs(t, err, common.ErrAlreadyExists)
}

func TestFeedbackUnprocessedFlow(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Feedback().Store(ctx, &models.FeedbackRecord{ID: "fb_1", JobID: "job_1", Source: models.FeedbackSourceUser, ActualClass: models.LeadHigh}))
	require.NoError(t, m.Feedback().Store(ctx, &models.FeedbackRecord{ID: "fb_2", JobID: "job_2", Source: models.FeedbackSourcePseudoLabel, ActualClass: models.LeadLow}))

	records, err := m.Feedback().ListUnprocessed(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Human feedback carries double weight.
	assert.Equal(t, 2.0, records[0].Weight)
	assert.Equal(t, 1.0, records[1].Weight)

	require.NoError(t, m.Feedback().MarkProcessed(ctx, []string{"fb_1"}))

	count, err := m.Feedback().CountUnprocessed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
