package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skillstream/skillstream/internal/ledger"
	"github.com/skillstream/skillstream/internal/observability"
	"github.com/skillstream/skillstream/internal/queue"
	"github.com/skillstream/skillstream/model"
)

type taskHandler struct {
	store   ledger.Store
	queue   queue.Queue
	logger  *zap.Logger
	metrics *observability.Metrics
}

func newTaskHandler(deps Dependencies) *taskHandler {
	return &taskHandler{
		store:   deps.Store,
		queue:   deps.Queue,
		logger:  deps.Logger,
		metrics: deps.Metrics,
	}
}

// createTaskRequest is the POST /v1/tasks payload. TaskID is optional; a
// uuid is generated when absent.
type createTaskRequest struct {
	TaskID string `json:"task_id,omitempty"`
	model.TaskRequest
}

type createTaskResponse struct {
	TaskID string           `json:"task_id"`
	Status model.TaskStatus `json:"status"`
}

func (h *taskHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, model.NewBadRequestError("request body is not valid JSON"))
		return
	}

	if details := validateTaskRequest(req.TaskRequest); len(details) > 0 {
		WriteError(w, model.NewValidationError(details))
		return
	}

	if req.Kind == "" {
		req.Kind = model.TaskKindGeneration
	}
	if req.TaskID == "" {
		req.TaskID = uuid.NewString()
	}

	task := model.Task{
		ID:          req.TaskID,
		Kind:        req.Kind,
		Status:      model.TaskStatusPending,
		CurrentStep: "Queued",
		TotalSteps:  model.TotalSteps,
		UserID:      req.UserID,
		Request:     &req.TaskRequest,
	}

	if err := h.store.Create(r.Context(), task); err != nil {
		var envelope *model.ErrorEnvelope
		if errors.As(err, &envelope) && envelope.Code == model.ErrConflict {
			// A resubmitted id for a finished run gets the more specific
			// terminal code.
			if existing, getErr := h.store.Get(r.Context(), task.ID); getErr == nil && existing.Status.Terminal() {
				WriteError(w, model.NewTaskTerminalError(task.ID))
				return
			}
		}
		h.writeStoreError(w, err, "creating task")
		return
	}

	if err := h.queue.Enqueue(r.Context(), task.ID); err != nil {
		var envelope *model.ErrorEnvelope
		if errors.As(err, &envelope) && envelope.Code == model.ErrConflict {
			if h.metrics != nil {
				h.metrics.TaskDuplicatesTotal.Inc()
			}
			WriteError(w, envelope)
			return
		}
		h.logger.Error("enqueue failed", zap.String("task_id", task.ID), zap.Error(err))
		WriteError(w, model.NewInternalError())
		return
	}

	if h.metrics != nil {
		h.metrics.RecordTaskSubmitted(string(task.Kind))
	}
	h.logger.Info("task submitted",
		zap.String("task_id", task.ID),
		zap.String("kind", string(task.Kind)),
	)

	WriteJSON(w, http.StatusAccepted, createTaskResponse{TaskID: task.ID, Status: task.Status})
}

// taskView is the GET representation of a ledger record, with the derived
// remaining-time estimate in seconds.
type taskView struct {
	model.Task
	EstimatedRemaining float64 `json:"estimated_remaining"`
}

func (h *taskHandler) get(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	task, err := h.store.Get(r.Context(), taskID)
	if err != nil {
		h.writeStoreError(w, err, "fetching task")
		return
	}

	WriteJSON(w, http.StatusOK, taskView{
		Task:               task,
		EstimatedRemaining: task.EstimateRemaining(time.Now()).Seconds(),
	})
}

type taskListResponse struct {
	Tasks []model.Task `json:"tasks"`
	Count int          `json:"count"`
}

func (h *taskHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := ledger.Filters{
		UserID: q.Get("user_id"),
		Status: model.TaskStatus(q.Get("status")),
		Kind:   model.TaskKind(q.Get("kind")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			WriteError(w, model.NewBadRequestError("limit must be a positive integer"))
			return
		}
		filters.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(w, model.NewBadRequestError("offset must be a non-negative integer"))
			return
		}
		filters.Offset = n
	}

	tasks, err := h.store.List(r.Context(), filters)
	if err != nil {
		h.writeStoreError(w, err, "listing tasks")
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}

	WriteJSON(w, http.StatusOK, taskListResponse{Tasks: tasks, Count: len(tasks)})
}

func (h *taskHandler) writeStoreError(w http.ResponseWriter, err error, action string) {
	var envelope *model.ErrorEnvelope
	if errors.As(err, &envelope) {
		WriteError(w, envelope)
		return
	}
	h.logger.Error("ledger error", zap.String("action", action), zap.Error(err))
	WriteError(w, model.NewInternalError())
}

func validateTaskRequest(req model.TaskRequest) []model.FieldError {
	var details []model.FieldError

	if strings.TrimSpace(req.PositionTitle) == "" {
		details = append(details, model.FieldError{
			Field:   "position_title",
			Code:    "required",
			Message: "position_title is required",
		})
	}
	if req.Scenario() == "" {
		details = append(details, model.FieldError{
			Field:   "resume_text",
			Code:    "required",
			Message: "at least one of resume_text or job_description is required",
		})
	}
	if req.Kind != "" && req.Kind != model.TaskKindGeneration && req.Kind != model.TaskKindQuickGeneration {
		details = append(details, model.FieldError{
			Field:   "kind",
			Code:    "invalid",
			Message: "kind must be generation or quick_generation",
		})
	}

	return details
}
