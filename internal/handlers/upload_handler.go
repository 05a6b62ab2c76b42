package handlers

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arremate/internal/common"
	"github.com/ternarybob/arremate/internal/interfaces"
	"github.com/ternarybob/arremate/internal/models"
)

// multipartMemory is the in-memory threshold for multipart parsing;
// larger files spill to disk.
const multipartMemory = 32 << 20

// UploadHandler accepts PDF submissions and starts the pipeline.
type UploadHandler struct {
	storage  interfaces.StorageManager
	objects  interfaces.ObjectStore
	pipeline interfaces.PipelineOrchestrator
	config   *common.PipelineConfig
	logger   arbor.ILogger
}

func NewUploadHandler(
	storage interfaces.StorageManager,
	objects interfaces.ObjectStore,
	pipeline interfaces.PipelineOrchestrator,
	config *common.PipelineConfig,
	logger arbor.ILogger,
) *UploadHandler {
	return &UploadHandler{
		storage:  storage,
		objects:  objects,
		pipeline: pipeline,
		config:   config,
		logger:   logger,
	}
}

// UploadHandler handles POST /upload: multipart with fields file and
// userId. The original is persisted under documents/{userId}/{jobId}/
// and the scratch copy is always removed.
func (h *UploadHandler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxPDFSize+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		WriteError(w, http.StatusBadRequest, "malformed multipart request")
		return
	}

	userID := r.FormValue("userId")
	if !common.IsUUIDv4(userID) {
		WriteError(w, http.StatusBadRequest, "userId must be a version 4 UUID")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		WriteError(w, http.StatusBadRequest, "only PDF documents are accepted")
		return
	}
	if header.Size == 0 {
		WriteError(w, http.StatusBadRequest, "file is empty")
		return
	}
	if header.Size > h.config.MaxPDFSize {
		WriteError(w, http.StatusBadRequest, "file exceeds the size limit")
		return
	}

	// Spool to scratch so the object store write streams from disk.
	scratch, err := os.CreateTemp(h.config.TempDir, "upload_*.pdf")
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to create scratch file")
		WriteError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	scratchPath := scratch.Name()
	defer os.Remove(scratchPath)

	written, err := io.Copy(scratch, file)
	scratch.Close()
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to spool upload")
		WriteError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	job := &models.Job{
		ID:        common.NewJobID(),
		OwnerID:   userID,
		Filename:  filename,
		SizeBytes: written,
		Status:    models.JobStatusUploaded,
		CreatedAt: time.Now().UTC(),
	}

	source, err := os.Open(scratchPath)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to reopen scratch file")
		WriteError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	_, err = h.objects.Put(ctx, job.StorageKey(), source)
	source.Close()
	if err != nil {
		h.logger.Error().Err(err).Str("key", job.StorageKey()).Msg("Failed to persist document")
		WriteError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	if err := h.storage.Jobs().Create(ctx, job); err != nil {
		h.objects.Delete(ctx, job.StorageKey())
		h.logger.Error().Err(err).Msg("Failed to create job record")
		WriteError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	if err := h.pipeline.Submit(ctx, job.ID); err != nil {
		// Roll back so a saturated queue leaves no orphan records.
		h.storage.DeleteJobCascade(ctx, job.ID)
		h.objects.Delete(ctx, job.StorageKey())
		WriteTaxonomyError(w, err)
		return
	}

	h.logger.Info().
		Str("job_id", job.ID).
		Str("owner", userID).
		Int64("size", written).
		Msg("Document uploaded")

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobId":    job.ID,
		"message":  "document accepted for processing",
		"fileSize": written,
		"storage": map[string]string{
			"strategy": h.objects.Strategy(),
			"location": job.StorageKey(),
		},
	})
}
