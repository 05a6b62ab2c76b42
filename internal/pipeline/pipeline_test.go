package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arremate/internal/common"
	"github.com/ternarybob/arremate/internal/interfaces"
	"github.com/ternarybob/arremate/internal/ml"
	"github.com/ternarybob/arremate/internal/models"
	"github.com/ternarybob/arremate/internal/objectstore"
	"github.com/ternarybob/arremate/internal/queue"
	"github.com/ternarybob/arremate/internal/services/analyzer"
	"github.com/ternarybob/arremate/internal/services/pdf"
	"github.com/ternarybob/arremate/internal/storage/badger"
)

type fixture struct {
	storage      *badger.Manager
	objects      *objectstore.FilesystemStore
	queue        *queue.BadgerQueue
	orchestrator *Orchestrator
	handlers     map[string]interfaces.TaskHandler
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, func(d interfaces.PDFDecomposer) interfaces.PDFDecomposer { return d })
}

// newFixtureWith lets a test wrap the real decomposer, e.g. to inject
// transient faults.
func newFixtureWith(t *testing.T, wrap func(interfaces.PDFDecomposer) interfaces.PDFDecomposer) *fixture {
	t.Helper()
	logger := arbor.NewLogger()

	manager, err := badger.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	store, err := objectstore.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	opts := badgerdb.DefaultOptions(t.TempDir())
	opts.Logger = nil
	qdb, err := badgerdb.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { qdb.Close() })

	cfg := common.NewDefaultConfig()
	cfg.Pipeline.TempDir = t.TempDir()
	// The synchronous pump needs failed tasks redelivered immediately.
	cfg.Queue.RetryBackoffBase = 0

	taskQueue, err := queue.NewBadgerQueue(qdb, &cfg.Queue, logger)
	require.NoError(t, err)

	decomposer := wrap(pdf.NewDecomposer(&cfg.Pipeline, logger))
	scorer := ml.NewScorer(ml.NewRegistry(manager.Artifacts(), store, logger), logger)

	orch := NewOrchestrator(
		manager, store, taskQueue, decomposer,
		analyzer.NewService(logger), scorer,
		&cfg.Pipeline, logger,
	)

	return &fixture{
		storage:      manager,
		objects:      store,
		queue:        taskQueue,
		orchestrator: orch,
		handlers:     orch.Handlers(),
	}
}

// pump drains all queues through the registered handlers until no task
// remains, simulating the worker pool synchronously.
func (f *fixture) pump(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		worked := false
		for _, q := range models.QueueNames {
			task, err := f.queue.Dequeue(ctx, q)
			require.NoError(t, err)
			if task == nil {
				continue
			}
			worked = true

			handler, ok := f.handlers[task.Kind]
			require.True(t, ok, "no handler for kind %s", task.Kind)

			if err := handler(ctx, task); err != nil {
				require.NoError(t, f.queue.Nack(ctx, q, task.ID, err))
			} else {
				require.NoError(t, f.queue.Ack(ctx, q, task.ID))
			}
		}
		if !worked {
			return
		}
	}
	t.Fatal("queues did not drain")
}

func writeAuctionPDF(t *testing.T, dir string, pages int) string {
	t.Helper()
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetFont("Helvetica", "", 11)
	for i := 1; i <= pages; i++ {
		doc.AddPage()
		doc.MultiCell(180, 6, fmt.Sprintf(
			"EDITAL DE LEILAO judicial, pagina %d. Valor da avaliacao R$ 300.000,00 "+
				"e lance minimo R$ 200.000,00 para a primeira praca. "+
				"Ficam intimados nos termos do art. 889 do CPC.", i), "", "L", false)
	}
	path := filepath.Join(dir, "edital.pdf")
	require.NoError(t, doc.OutputFileAndClose(path))
	return path
}

func (f *fixture) createJob(t *testing.T, path string) *models.Job {
	t.Helper()
	ctx := context.Background()

	job := &models.Job{
		ID:        common.NewJobID(),
		OwnerID:   "4dfc1b3e-9a52-4c7e-8a4e-02b1a0d5f3aa",
		Filename:  filepath.Base(path),
		Status:    models.JobStatusUploaded,
		CreatedAt: time.Now().UTC(),
	}

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	size, err := f.objects.Put(ctx, job.StorageKey(), file)
	require.NoError(t, err)
	job.SizeBytes = size

	require.NoError(t, f.storage.Jobs().Create(ctx, job))
	return job
}

func TestPipelineCompletesWithDummyPrediction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	path := writeAuctionPDF(t, t.TempDir(), 12)
	job := f.createJob(t, path)

	require.NoError(t, f.orchestrator.Submit(ctx, job.ID))
	f.pump(t)

	got, err := f.storage.Jobs().Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 12, got.PageCount)
	assert.Equal(t, StageCompleted, got.Progress.Stage)
	assert.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.Error)

	// 12 pages with size 5 overlap 1 decompose into 1-5, 5-9, 9-12.
	chunks, err := f.storage.Chunks().ListByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, 1, chunks[0].PageStart)
	assert.Equal(t, 5, chunks[0].PageEnd)
	assert.Equal(t, 5, chunks[1].PageStart)
	assert.Equal(t, 9, chunks[2].PageStart)
	assert.Equal(t, 12, chunks[2].PageEnd)

	aggregate, err := f.storage.Analyses().GetAggregate(ctx, job.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, aggregate.Points)

	// No trained models yet: the neutral dummy prediction completes the job.
	prediction, err := f.storage.Predictions().Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 50.0, prediction.Score)
	assert.Equal(t, models.LeadMedium, prediction.Class)
	assert.Equal(t, 0.5, prediction.Confidence)
}

// flakyDecomposer fails Validate a fixed number of times with a
// retryable error before delegating to the real implementation.
type flakyDecomposer struct {
	interfaces.PDFDecomposer
	failures int
	calls    int
}

func (d *flakyDecomposer) Validate(ctx context.Context, path string) (*interfaces.DocumentInfo, error) {
	d.calls++
	if d.failures > 0 {
		d.failures--
		return nil, fmt.Errorf("%w: simulated storage hiccup", common.ErrTransient)
	}
	return d.PDFDecomposer.Validate(ctx, path)
}

func TestTransientValidateFailureResumesAndCompletes(t *testing.T) {
	var flaky *flakyDecomposer
	f := newFixtureWith(t, func(real interfaces.PDFDecomposer) interfaces.PDFDecomposer {
		flaky = &flakyDecomposer{PDFDecomposer: real, failures: 1}
		return flaky
	})
	ctx := context.Background()

	job := f.createJob(t, writeAuctionPDF(t, t.TempDir(), 6))
	require.NoError(t, f.orchestrator.Submit(ctx, job.ID))

	// First delivery hits the transient fault after the job has moved to
	// processing; the redelivered task must resume the stage rather than
	// ack as a no-op and strand the job.
	f.pump(t)

	assert.Equal(t, 2, flaky.calls)

	got, err := f.storage.Jobs().Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Empty(t, got.Error)

	n, err := f.queue.CountDeadLetters(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPipelineFailsOnInvalidPDF(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "broken.pdf")
	require.NoError(t, os.WriteFile(path, []byte("this is not a pdf"), 0o644))
	job := f.createJob(t, path)

	require.NoError(t, f.orchestrator.Submit(ctx, job.ID))
	f.pump(t)

	got, err := f.storage.Jobs().Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.NotEmpty(t, got.Error)
}

func TestRetryResetsFailedJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	path := writeAuctionPDF(t, t.TempDir(), 6)
	job := f.createJob(t, path)

	f.orchestrator.failJob(ctx, job.ID, fmt.Errorf("simulated extraction fault"))
	got, err := f.storage.Jobs().Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusFailed, got.Status)

	require.NoError(t, f.orchestrator.Retry(ctx, job.ID))
	got, err = f.storage.Jobs().Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusUploaded, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Empty(t, got.Error)

	f.pump(t)
	got, err = f.storage.Jobs().Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
}

func TestRetryRequiresFailedStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job := f.createJob(t, writeAuctionPDF(t, t.TempDir(), 2))
	err := f.orchestrator.Retry(ctx, job.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestRevokedJobTasksAckAsNoops(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job := f.createJob(t, writeAuctionPDF(t, t.TempDir(), 6))
	require.NoError(t, f.orchestrator.Submit(ctx, job.ID))

	require.NoError(t, f.orchestrator.Revoke(ctx, job.ID))
	require.NoError(t, f.storage.DeleteJobCascade(ctx, job.ID))

	f.pump(t)

	// Nothing was processed for the deleted job.
	chunks, err := f.storage.Chunks().ListByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	n, err := f.queue.CountDeadLetters(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSubmitRequiresUploadedStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job := f.createJob(t, writeAuctionPDF(t, t.TempDir(), 2))
	require.NoError(t, f.orchestrator.Submit(ctx, job.ID))
	f.pump(t)

	err := f.orchestrator.Submit(ctx, job.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestFullTextDropsOverlapPages(t *testing.T) {
	chunks := []*models.Chunk{
		{Index: 0, PageStart: 1, PageEnd: 3, Text: "--- Page 1 ---\n\num\n--- Page 2 ---\n\ndois\n--- Page 3 ---\n\ntres\n"},
		{Index: 1, PageStart: 3, PageEnd: 5, Text: "--- Page 3 ---\n\ntres\n--- Page 4 ---\n\nquatro\n--- Page 5 ---\n\ncinco\n"},
	}
	text := fullTextFromChunks(chunks)

	assert.Equal(t, 1, strings.Count(text, "tres"))
	assert.Contains(t, text, "quatro")
	assert.Contains(t, text, "cinco")
}
