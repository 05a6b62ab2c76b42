package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arremate/internal/interfaces"
	"github.com/ternarybob/arremate/internal/models"
)

// MLHandler serves feedback submission, model inspection, retraining,
// and the operational dashboards.
type MLHandler struct {
	storage   interfaces.StorageManager
	queue     interfaces.TaskQueue
	registry  interfaces.ModelRegistry
	learning  interfaces.LearningService
	dashboard interfaces.DashboardService
	logger    arbor.ILogger
}

func NewMLHandler(
	storage interfaces.StorageManager,
	queue interfaces.TaskQueue,
	registry interfaces.ModelRegistry,
	learning interfaces.LearningService,
	dashboard interfaces.DashboardService,
	logger arbor.ILogger,
) *MLHandler {
	return &MLHandler{
		storage:   storage,
		queue:     queue,
		registry:  registry,
		learning:  learning,
		dashboard: dashboard,
		logger:    logger,
	}
}

type feedbackRequest struct {
	JobID       string          `json:"jobId" validate:"required"`
	UserID      string          `json:"userId" validate:"omitempty,uuid4"`
	ActualClass string          `json:"actualClass" validate:"required,oneof=high medium low"`
	Comment     string          `json:"comment" validate:"max=2000"`
	Answers     map[string]bool `json:"answers" validate:"omitempty,max=20"`
}

// FeedbackHandler handles POST /feedback: records a human label against
// an existing prediction. User feedback trains at double weight.
func (h *MLHandler) FeedbackHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	ctx := r.Context()

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "jobId and actualClass (high|medium|low) are required")
		return
	}

	prediction, err := h.storage.Predictions().Get(ctx, req.JobID)
	if err != nil {
		WriteTaxonomyError(w, err)
		return
	}

	record := models.NewUserFeedback(req.JobID, req.UserID, req.ActualClass, req.Comment, req.Answers, prediction)
	if err := h.storage.Feedback().Store(ctx, record); err != nil {
		WriteTaxonomyError(w, err)
		return
	}

	h.logger.Info().
		Str("job_id", req.JobID).
		Str("actual_class", req.ActualClass).
		Str("predicted_class", prediction.Class).
		Msg("Feedback recorded")

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "success",
		"feedbackId": record.ID,
	})
}

// StatsHandler handles GET /dashboard/stats?userId=. Without a userId the
// snapshot covers all tenants; with one it carries only that user's jobs
// and leads.
func (h *MLHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	snapshot, err := h.dashboard.Stats(r.Context(), r.URL.Query().Get("userId"))
	if err != nil {
		WriteTaxonomyError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, snapshot)
}

// DeadLettersHandler handles GET /queue/dead-letters?limit=.
func (h *MLHandler) DeadLettersHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	letters, err := h.queue.DeadLetters(r.Context(), limit)
	if err != nil {
		WriteTaxonomyError(w, err)
		return
	}
	if letters == nil {
		letters = []*models.DeadLetter{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"deadLetters": letters,
		"count":       len(letters),
	})
}

// RetrainHandler handles POST /ml/retrain: forces a retraining cycle
// regardless of the scheduled conditions.
func (h *MLHandler) RetrainHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	start := time.Now()

	trained, err := h.learning.Retrain(r.Context(), "manual", true)
	if err != nil {
		WriteTaxonomyError(w, err)
		return
	}

	h.logger.Info().
		Bool("trained", trained).
		Str("duration", time.Since(start).String()).
		Msg("Manual retrain finished")

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"trained": trained,
	})
}

// ModelsHandler handles GET /ml/models: every registered version of both
// ensemble members, newest first per member.
func (h *MLHandler) ModelsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	ctx := r.Context()

	byName := make(map[string][]*models.ModelArtifact)
	for _, name := range []string{models.ModelForest, models.ModelBoosting} {
		versions, err := h.registry.Versions(ctx, name)
		if err != nil {
			WriteTaxonomyError(w, err)
			return
		}
		if versions == nil {
			versions = []*models.ModelArtifact{}
		}
		byName[name] = versions
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{"models": byName})
}
