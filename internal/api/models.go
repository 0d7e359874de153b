package api

import (
	"encoding/json"
	"time"

	"github.com/oakhurst/playnest-api/internal/task"
)

// SubmitTaskRequest represents the request body for submitting a new task.
// MaxAttempts is optional; non-positive values fall back to the server
// default. ScheduleAt delays the first execution when set.
type SubmitTaskRequest struct {
	Type        string          `json:"type" validate:"required,min=1"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	OwnerID     *int64          `json:"ownerId,omitempty"`
	MaxAttempts int             `json:"maxAttempts,omitempty"`
	ScheduleAt  *time.Time      `json:"scheduleAt,omitempty"`
}

// SubmitTaskResponse is the synchronous acknowledgment of a submission.
// The task itself executes asynchronously.
type SubmitTaskResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// TaskResponse represents the full externally-visible state of a task.
type TaskResponse struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	OwnerID     *int64          `json:"ownerId,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	NextRunAt   time.Time       `json:"nextRunAt"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// taskToResponse converts a task.Task to its API representation.
func taskToResponse(t *task.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID.String(),
		Type:        t.Type,
		Status:      string(t.Status),
		OwnerID:     t.OwnerID,
		Payload:     t.Payload,
		Result:      t.Result,
		Error:       t.ErrorMessage,
		Attempts:    t.Attempts,
		MaxAttempts: t.MaxAttempts,
		NextRunAt:   t.NextRunAt,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}
