package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arremate/internal/common"
	"github.com/ternarybob/arremate/internal/interfaces"
	"github.com/ternarybob/arremate/internal/models"
	"github.com/ternarybob/arremate/internal/objectstore"
)

var validate = validator.New()

// JobHandler serves job retrieval, enumeration, and mutation endpoints.
type JobHandler struct {
	storage    interfaces.StorageManager
	objects    interfaces.ObjectStore
	pipeline   interfaces.PipelineOrchestrator
	dashboard  interfaces.DashboardService
	presignTTL time.Duration
	logger     arbor.ILogger
}

func NewJobHandler(
	storage interfaces.StorageManager,
	objects interfaces.ObjectStore,
	pipeline interfaces.PipelineOrchestrator,
	dashboard interfaces.DashboardService,
	presignTTL time.Duration,
	logger arbor.ILogger,
) *JobHandler {
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	return &JobHandler{
		storage:    storage,
		objects:    objects,
		pipeline:   pipeline,
		dashboard:  dashboard,
		presignTTL: presignTTL,
		logger:     logger,
	}
}

// loadOwned fetches a job and enforces tenant isolation: when the
// request names a userId it must match the job's owner. A mismatch
// reads as not found, never as someone else's job.
func (h *JobHandler) loadOwned(w http.ResponseWriter, r *http.Request, jobID string) (*models.Job, bool) {
	job, err := h.storage.Jobs().Get(r.Context(), jobID)
	if err != nil {
		WriteTaxonomyError(w, err)
		return nil, false
	}
	if userID := r.URL.Query().Get("userId"); userID != "" && userID != job.OwnerID {
		WriteError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	return job, true
}

// GetJobHandler handles GET /jobs/{id}: the full record with ordered
// analysis points and the prediction when available.
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	jobID := PathSegment(r.URL.Path, "/jobs/", 0)

	job, ok := h.loadOwned(w, r, jobID)
	if !ok {
		return
	}

	response := map[string]interface{}{"job": job}

	if aggregate, err := h.storage.Analyses().GetAggregate(r.Context(), jobID); err == nil {
		response["points"] = aggregate.Points
		response["entities"] = aggregate.Entities
		response["summary"] = aggregate.Summary
	}
	if prediction, err := h.storage.Predictions().Get(r.Context(), jobID); err == nil {
		response["prediction"] = prediction
	}

	WriteJSON(w, http.StatusOK, response)
}

// StatusHandler handles GET /jobs/{id}/status.
func (h *JobHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	jobID := PathSegment(r.URL.Path, "/jobs/", 0)

	job, ok := h.loadOwned(w, r, jobID)
	if !ok {
		return
	}

	response := map[string]interface{}{
		"status": job.Status,
		"progress": map[string]int{
			"current": job.Progress.Current,
			"total":   job.Progress.Total,
		},
		"stage": job.Progress.Stage,
	}
	if job.Error != "" {
		response["error"] = job.Error
	}
	WriteJSON(w, http.StatusOK, response)
}

// PageHandler handles GET /jobs/{id}/page/{n}. When no chunk covers the
// page a fallback text is returned instead of an error.
func (h *JobHandler) PageHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	jobID := PathSegment(r.URL.Path, "/jobs/", 0)
	pageStr := PathSegment(r.URL.Path, "/jobs/", 2)

	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 1 {
		WriteError(w, http.StatusBadRequest, "page must be a positive integer")
		return
	}

	job, ok := h.loadOwned(w, r, jobID)
	if !ok {
		return
	}
	if job.PageCount > 0 && page > job.PageCount {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("page %d exceeds document page count %d", page, job.PageCount))
		return
	}

	content := fmt.Sprintf("Conteúdo da página %d ainda não disponível.", page)
	if chunks, err := h.storage.Chunks().GetByPage(r.Context(), jobID, page); err == nil && len(chunks) > 0 {
		if text, found := pageText(chunks[0].Text, page); found {
			content = text
		}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"pageContent": content,
		"filename":    job.Filename,
		"totalPages":  job.PageCount,
		"pageNumber":  page,
	})
}

// pageText slices one page's text out of a chunk body using the page
// separator lines.
func pageText(chunkText string, page int) (string, bool) {
	marker := fmt.Sprintf("--- Page %d ---", page)
	start := strings.Index(chunkText, marker)
	if start < 0 {
		return "", false
	}
	body := chunkText[start+len(marker):]
	if end := strings.Index(body, "--- Page "); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body), true
}

// DownloadHandler handles GET /jobs/{id}/download. Backends that can mint
// presigned URLs return one for the client to fetch directly; the
// filesystem backend streams the PDF inline instead.
func (h *JobHandler) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	jobID := PathSegment(r.URL.Path, "/jobs/", 0)

	job, ok := h.loadOwned(w, r, jobID)
	if !ok {
		return
	}

	signed, err := h.objects.PresignedURL(r.Context(), job.StorageKey(), h.presignTTL)
	if err == nil {
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"url":       signed,
			"expiresIn": int(h.presignTTL.Seconds()),
		})
		return
	}
	if !errors.Is(err, objectstore.ErrPresignUnsupported) {
		WriteTaxonomyError(w, err)
		return
	}

	rc, err := h.objects.Get(r.Context(), job.StorageKey())
	if err != nil {
		if errors.Is(err, objectstore.ErrObjectNotFound) {
			WriteError(w, http.StatusNotFound, "document not found")
			return
		}
		WriteTaxonomyError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", job.Filename))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Download stream interrupted")
	}
}

// ListJobsHandler handles GET /jobs?userId&status&skip&limit. Without a
// userId the list is empty; enumeration never crosses tenants.
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	query := r.URL.Query()

	skip, _ := strconv.Atoi(query.Get("skip"))
	if skip < 0 {
		skip = 0
	}
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	userID := query.Get("userId")
	if userID == "" {
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"jobs": []*models.Job{}, "total": 0, "skip": skip, "limit": limit,
		})
		return
	}

	jobs, err := h.storage.Jobs().ListByOwner(r.Context(), userID, 0, 0)
	if err != nil {
		WriteTaxonomyError(w, err)
		return
	}

	if status := query.Get("status"); status != "" {
		filtered := jobs[:0]
		for _, job := range jobs {
			if string(job.Status) == status {
				filtered = append(filtered, job)
			}
		}
		jobs = filtered
	}

	total := len(jobs)
	if skip >= total {
		jobs = []*models.Job{}
	} else {
		end := skip + limit
		if end > total {
			end = total
		}
		jobs = jobs[skip:end]
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs": jobs, "total": total, "skip": skip, "limit": limit,
	})
}

type titleRequest struct {
	Title string `json:"title" validate:"required,max=200"`
}

// UpdateTitleHandler handles PATCH /jobs/{id}/title.
func (h *JobHandler) UpdateTitleHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPatch) {
		return
	}
	jobID := PathSegment(r.URL.Path, "/jobs/", 0)

	var req titleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "title is required and limited to 200 characters")
		return
	}

	job, ok := h.loadOwned(w, r, jobID)
	if !ok {
		return
	}
	job.Title = req.Title
	if err := h.storage.Jobs().Update(r.Context(), job); err != nil {
		WriteTaxonomyError(w, err)
		return
	}
	WriteSuccess(w, "title updated")
}

// DeleteHandler handles DELETE /jobs/{id}: revokes outstanding tasks,
// removes stored objects under the job prefix, and cascades row deletes.
// Delete is allowed in every status.
func (h *JobHandler) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}
	jobID := PathSegment(r.URL.Path, "/jobs/", 0)

	job, ok := h.loadOwned(w, r, jobID)
	if !ok {
		return
	}
	ctx := r.Context()

	if err := h.pipeline.Revoke(ctx, jobID); err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Revoke failed during delete")
	}
	if err := h.objects.DeletePrefix(ctx, job.StoragePrefix()); err != nil {
		WriteTaxonomyError(w, err)
		return
	}
	if err := h.storage.DeleteJobCascade(ctx, jobID); err != nil {
		WriteTaxonomyError(w, err)
		return
	}
	h.dashboard.Invalidate()

	h.logger.Info().Str("job_id", jobID).Msg("Job deleted")
	WriteSuccess(w, "job deleted")
}

// RetryHandler handles POST /jobs/{id}/retry. Only failed jobs with the
// original document still in storage can be retried.
func (h *JobHandler) RetryHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	jobID := PathSegment(r.URL.Path, "/jobs/", 0)

	if _, ok := h.loadOwned(w, r, jobID); !ok {
		return
	}

	if err := h.pipeline.Retry(r.Context(), jobID); err != nil {
		if errors.Is(err, common.ErrConflict) {
			WriteError(w, http.StatusConflict, err.Error())
			return
		}
		WriteTaxonomyError(w, err)
		return
	}
	WriteSuccess(w, "job requeued")
}
