package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/oakhurst/playnest-api/internal/api/shared"
	"github.com/oakhurst/playnest-api/internal/task"
)

// TaskHandler handles task-related HTTP requests.
type TaskHandler struct {
	orch   *task.Orchestrator
	logger *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(orch *task.Orchestrator, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		orch:   orch,
		logger: logger.With("component", "task_handler"),
	}
}

// SubmitTask handles POST /api/tasks requests. The task executes
// asynchronously; the response acknowledges persistence only.
func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	var scheduleAt time.Time
	if req.ScheduleAt != nil {
		scheduleAt = *req.ScheduleAt
	}

	t, err := h.orch.Submit(r.Context(), task.SubmitRequest{
		Type:        req.Type,
		Payload:     req.Payload,
		OwnerID:     req.OwnerID,
		MaxAttempts: req.MaxAttempts,
		ScheduleAt:  scheduleAt,
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	// 202 Accepted since processing happens asynchronously.
	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitTaskResponse{
		ID:     t.ID.String(),
		Status: string(t.Status),
	})
}

// GetTask handles GET /api/tasks/{id} requests, returning the task's full
// current state.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	t, err := h.orch.GetTask(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}

// ListTasks handles GET /api/tasks requests for operational inspection.
// Supported query parameters: status, owner, limit.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	filter := task.ListFilter{Limit: 50}

	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = task.Status(status)
	}
	if owner := r.URL.Query().Get("owner"); owner != "" {
		ownerID, err := strconv.ParseInt(owner, 10, 64)
		if err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid owner parameter")
			return
		}
		filter.OwnerID = &ownerID
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		filter.Limit = n
	}

	tasks, err := h.orch.ListTasks(r.Context(), filter)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			http.StatusInternalServerError, "Failed to list tasks", err)
		return
	}

	responses := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		responses = append(responses, taskToResponse(t))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, responses)
}

// RequeueTask handles POST /api/tasks/{id}/requeue requests, the manual
// intervention path for dead-lettered tasks.
func (h *TaskHandler) RequeueTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	t, err := h.orch.RequeueDeadLetter(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	h.logger.Info("task requeued via API", "task_id", id)
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}
