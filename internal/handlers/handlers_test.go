package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
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
	"github.com/ternarybob/arremate/internal/ml/learning"
	"github.com/ternarybob/arremate/internal/models"
	"github.com/ternarybob/arremate/internal/objectstore"
	"github.com/ternarybob/arremate/internal/pipeline"
	"github.com/ternarybob/arremate/internal/queue"
	"github.com/ternarybob/arremate/internal/services/analyzer"
	"github.com/ternarybob/arremate/internal/services/dashboard"
	"github.com/ternarybob/arremate/internal/services/pdf"
	"github.com/ternarybob/arremate/internal/storage/badger"
)

const (
	ownerA = "4dfc1b3e-9a52-4c7e-8a4e-02b1a0d5f3aa"
	ownerB = "91a4c6d0-3f27-4b18-a2c5-7e8b0d4f1c22"
)

type fixture struct {
	storage  *badger.Manager
	objects  *objectstore.FilesystemStore
	queue    *queue.BadgerQueue
	upload   *UploadHandler
	jobs     *JobHandler
	ml       *MLHandler
	handlers map[string]interfaces.TaskHandler
}

func newFixture(t *testing.T) *fixture {
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

	registry := ml.NewRegistry(manager.Artifacts(), store, logger)
	scorer := ml.NewScorer(registry, logger)
	orch := pipeline.NewOrchestrator(
		manager, store, taskQueue, pdf.NewDecomposer(&cfg.Pipeline, logger),
		analyzer.NewService(logger), scorer,
		&cfg.Pipeline, logger,
	)

	trainers := []interfaces.ModelTrainer{ml.NewForestTrainer(7), ml.NewBoostingTrainer()}
	learner := learning.NewService(manager, registry, trainers, store, &cfg.Learning, logger)
	stats := dashboard.NewService(manager, taskQueue, registry, &cfg.Dashboard, logger)

	return &fixture{
		storage:  manager,
		objects:  store,
		queue:    taskQueue,
		upload:   NewUploadHandler(manager, store, orch, &cfg.Pipeline, logger),
		jobs:     NewJobHandler(manager, store, orch, stats, 0, logger),
		ml:       NewMLHandler(manager, taskQueue, registry, learner, stats, logger),
		handlers: orch.Handlers(),
	}
}

// pump drains the task queues synchronously in place of the worker pool.
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

func pdfBytes(t *testing.T, pages int) []byte {
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
	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))
	return buf.Bytes()
}

func multipartUpload(t *testing.T, userID, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	require.NoError(t, writer.WriteField("userId", userID))
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.Copy(part, bytes.NewReader(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

// uploadJob drives a document through the upload endpoint and returns
// the created job id.
func (f *fixture) uploadJob(t *testing.T, userID string, pages int) string {
	t.Helper()
	rec := httptest.NewRecorder()
	f.upload.UploadHandler(rec, multipartUpload(t, userID, "edital.pdf", pdfBytes(t, pages)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		JobID string `json:"jobId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.JobID)
	return resp.JobID
}

func TestUploadRejectsInvalidUserID(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.upload.UploadHandler(rec, multipartUpload(t, "not-a-uuid", "edital.pdf", pdfBytes(t, 1)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadRejectsNonPDF(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.upload.UploadHandler(rec, multipartUpload(t, ownerA, "notes.txt", []byte("plain text")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadRejectsEmptyFile(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.upload.UploadHandler(rec, multipartUpload(t, ownerA, "edital.pdf", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadThenStatusReachesCompleted(t *testing.T) {
	f := newFixture(t)

	jobID := f.uploadJob(t, ownerA, 3)
	f.pump(t)

	rec := httptest.NewRecorder()
	f.jobs.StatusHandler(rec, httptest.NewRequest(http.MethodGet, "/jobs/"+jobID+"/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		Status string `json:"status"`
		Stage  string `json:"stage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "completed", status.Status)

	rec = httptest.NewRecorder()
	f.jobs.GetJobHandler(rec, httptest.NewRequest(http.MethodGet, "/jobs/"+jobID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "prediction")
}

func TestListJobsIsolatesTenants(t *testing.T) {
	f := newFixture(t)

	f.uploadJob(t, ownerA, 1)
	f.uploadJob(t, ownerA, 1)
	f.uploadJob(t, ownerB, 1)

	list := func(query string) (int, int) {
		rec := httptest.NewRecorder()
		f.jobs.ListJobsHandler(rec, httptest.NewRequest(http.MethodGet, "/jobs"+query, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Jobs  []*models.Job `json:"jobs"`
			Total int           `json:"total"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return len(resp.Jobs), resp.Total
	}

	got, total := list("?userId=" + ownerA)
	assert.Equal(t, 2, got)
	assert.Equal(t, 2, total)

	got, total = list("?userId=" + ownerB)
	assert.Equal(t, 1, got)
	assert.Equal(t, 1, total)

	// No userId enumerates nothing.
	got, total = list("")
	assert.Zero(t, got)
	assert.Zero(t, total)
}

func TestGetJobHidesOtherTenants(t *testing.T) {
	f := newFixture(t)
	jobID := f.uploadJob(t, ownerA, 1)

	rec := httptest.NewRecorder()
	f.jobs.GetJobHandler(rec, httptest.NewRequest(http.MethodGet, "/jobs/"+jobID+"?userId="+ownerB, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPageBoundsAndContent(t *testing.T) {
	f := newFixture(t)

	jobID := f.uploadJob(t, ownerA, 3)
	f.pump(t)

	rec := httptest.NewRecorder()
	f.jobs.PageHandler(rec, httptest.NewRequest(http.MethodGet, "/jobs/"+jobID+"/page/99", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	f.jobs.PageHandler(rec, httptest.NewRequest(http.MethodGet, "/jobs/"+jobID+"/page/0", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	f.jobs.PageHandler(rec, httptest.NewRequest(http.MethodGet, "/jobs/"+jobID+"/page/2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		PageContent string `json:"pageContent"`
		PageNumber  int    `json:"pageNumber"`
		TotalPages  int    `json:"totalPages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 2, page.PageNumber)
	assert.Equal(t, 3, page.TotalPages)
	assert.Contains(t, page.PageContent, "pagina 2")
}

func TestUpdateTitle(t *testing.T) {
	f := newFixture(t)
	jobID := f.uploadJob(t, ownerA, 1)

	patch := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPatch, "/jobs/"+jobID+"/title", bytes.NewBufferString(body))
		f.jobs.UpdateTitleHandler(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusBadRequest, patch(`{"title":""}`).Code)
	assert.Equal(t, http.StatusOK, patch(`{"title":"Leilao apartamento centro"}`).Code)

	job, err := f.storage.Jobs().Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, "Leilao apartamento centro", job.Title)
}

func TestDeleteJobCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jobID := f.uploadJob(t, ownerA, 3)
	f.pump(t)

	job, err := f.storage.Jobs().Get(ctx, jobID)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	f.jobs.DeleteHandler(rec, httptest.NewRequest(http.MethodDelete, "/jobs/"+jobID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	_, err = f.storage.Jobs().Get(ctx, jobID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = f.objects.Head(ctx, job.StorageKey())
	assert.Error(t, err)

	chunks, err := f.storage.Chunks().ListByJob(ctx, jobID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestDownloadStreamsPDFOnFilesystemBackend(t *testing.T) {
	f := newFixture(t)
	jobID := f.uploadJob(t, ownerA, 2)

	rec := httptest.NewRecorder()
	f.jobs.DownloadHandler(rec, httptest.NewRequest(http.MethodGet, "/jobs/"+jobID+"/download", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "edital.pdf")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))
}

func TestDownloadHidesOtherTenants(t *testing.T) {
	f := newFixture(t)
	jobID := f.uploadJob(t, ownerA, 1)

	rec := httptest.NewRecorder()
	f.jobs.DownloadHandler(rec, httptest.NewRequest(http.MethodGet, "/jobs/"+jobID+"/download?userId="+ownerB, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetryRequiresFailedJob(t *testing.T) {
	f := newFixture(t)
	jobID := f.uploadJob(t, ownerA, 1)

	rec := httptest.NewRecorder()
	f.jobs.RetryHandler(rec, httptest.NewRequest(http.MethodPost, "/jobs/"+jobID+"/retry", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func postFeedback(t *testing.T, f *fixture, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/feedback", bytes.NewBufferString(body))
	f.ml.FeedbackHandler(rec, req)
	return rec
}

func TestFeedbackRequiresExistingPrediction(t *testing.T) {
	f := newFixture(t)
	rec := postFeedback(t, f, `{"jobId":"job_missing","actualClass":"high"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFeedbackRejectsUnknownClass(t *testing.T) {
	f := newFixture(t)
	rec := postFeedback(t, f, `{"jobId":"job_x","actualClass":"amazing"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFeedbackStoredAtDoubleWeight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	prediction := &models.Prediction{
		JobID:       "job_fb",
		Score:       82.0,
		Class:       models.LeadHigh,
		Confidence:  0.9,
		PredictedAt: time.Now().UTC(),
	}
	require.NoError(t, f.storage.Predictions().Store(ctx, prediction))

	rec := postFeedback(t, f, fmt.Sprintf(
		`{"jobId":"job_fb","userId":%q,"actualClass":"medium","comment":"arrematado abaixo da avaliacao"}`, ownerA))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	records, err := f.storage.Feedback().ListUnprocessed(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.FeedbackSourceUser, records[0].Source)
	assert.Equal(t, "medium", records[0].ActualClass)
	assert.Equal(t, "high", records[0].PredictedClass)
	assert.Equal(t, 2.0, records[0].TrainingWeight())
}

func TestDeadLettersEndpointEmpty(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.ml.DeadLettersHandler(rec, httptest.NewRequest(http.MethodGet, "/queue/dead-letters", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Zero(t, resp.Count)
}

func TestModelsEndpointListsBothMembers(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.ml.ModelsHandler(rec, httptest.NewRequest(http.MethodGet, "/ml/models", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Models map[string][]*models.ModelArtifact `json:"models"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Models, models.ModelForest)
	assert.Contains(t, resp.Models, models.ModelBoosting)
}

func TestStatsEndpointServesSnapshot(t *testing.T) {
	f := newFixture(t)

	f.uploadJob(t, ownerA, 1)
	f.pump(t)

	rec := httptest.NewRecorder()
	f.ml.StatsHandler(rec, httptest.NewRequest(http.MethodGet, "/dashboard/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot models.DashboardSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, 1, snapshot.TotalJobs)
	assert.True(t, snapshot.ExpiresAt.After(time.Now()))
}

func TestStatsEndpointScopesByUser(t *testing.T) {
	f := newFixture(t)

	f.uploadJob(t, ownerA, 1)
	f.uploadJob(t, ownerA, 1)
	f.uploadJob(t, ownerB, 1)
	f.pump(t)

	fetch := func(query string) models.DashboardSnapshot {
		rec := httptest.NewRecorder()
		f.ml.StatsHandler(rec, httptest.NewRequest(http.MethodGet, "/dashboard/stats"+query, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var snapshot models.DashboardSnapshot
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
		return snapshot
	}

	forA := fetch("?userId=" + ownerA)
	assert.Equal(t, ownerA, forA.Scope)
	assert.Equal(t, 2, forA.TotalJobs)

	forB := fetch("?userId=" + ownerB)
	assert.Equal(t, 1, forB.TotalJobs)

	global := fetch("")
	assert.Equal(t, models.ScopeGlobal, global.Scope)
	assert.Equal(t, 3, global.TotalJobs)
}

func TestPageTextSlicesSinglePage(t *testing.T) {
	text := "--- Page 1 ---\n\num\n--- Page 2 ---\n\ndois\n"

	got, ok := pageText(text, 1)
	require.True(t, ok)
	assert.Equal(t, "um", got)

	got, ok = pageText(text, 2)
	require.True(t, ok)
	assert.Equal(t, "dois", got)

	_, ok = pageText(text, 3)
	assert.False(t, ok)
}
