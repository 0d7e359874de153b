package task

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/oakhurst/playnest-api/internal/events"
)

// Status represents the current lifecycle state of a task.
type Status string

// Possible task status values.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusDeadLetter Status = "dead_letter"
)

// IsTerminal reports whether the status allows no further transitions.
// Completed and dead-lettered tasks are never mutated again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusDeadLetter
}

// DefaultMaxAttempts is the attempt ceiling applied when a submission omits
// one or supplies a non-positive value.
const DefaultMaxAttempts = 3

// Common errors returned by the orchestration core.
var (
	// ErrUnregisteredType rejects a submission whose type has no registered
	// handler. Checked at submission time so obviously-bad requests fail
	// synchronously.
	ErrUnregisteredType = errors.New("no handler registered for task type")

	// ErrTaskFailed wraps the task's failure message when an await settles on
	// a failed or dead-lettered task.
	ErrTaskFailed = errors.New("task failed")

	// ErrAwaitTimeout is returned when an await exhausts its polling budget
	// before the task reaches a terminal state.
	ErrAwaitTimeout = errors.New("timed out waiting for task result")

	// ErrNotDeadLetter rejects a requeue of a task that is not dead-lettered.
	ErrNotDeadLetter = errors.New("task is not dead-lettered")
)

// HandlerFunc is the boundary to business logic: a function from a task's
// payload to a result. Returning an error marks the execution as failed and
// the error message becomes the task's recorded error. Handlers may submit
// follow-up tasks before returning.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Task is the unit of durable asynchronous work.
type Task struct {
	// ID is assigned at submission and immutable.
	ID uuid.UUID

	// Type selects the registered handler at execution time.
	Type string

	// Status is the task's position in the lifecycle state machine.
	Status Status

	// OwnerID optionally scopes notification delivery to one principal.
	// Nil means updates are visible to every observer.
	OwnerID *int64

	// Payload is handed to the handler verbatim.
	Payload json.RawMessage

	// Result is the handler's output, set only on completion.
	Result json.RawMessage

	// ErrorMessage records the most recent failure; cleared on success.
	ErrorMessage string

	// Attempts counts claims so far. Incremented at claim time, not at
	// success/failure time.
	Attempts int

	// MaxAttempts is the ceiling on Attempts before permanent dead-lettering.
	MaxAttempts int

	// NextRunAt is the earliest time the task is claimable. Only consulted
	// while Status is pending.
	NextRunAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Update captures the task's externally-visible state for broadcasting.
func (t *Task) Update() events.TaskUpdate {
	return events.TaskUpdate{
		ID:          t.ID,
		Type:        t.Type,
		Status:      string(t.Status),
		OwnerID:     t.OwnerID,
		Attempts:    t.Attempts,
		MaxAttempts: t.MaxAttempts,
		Result:      t.Result,
		Error:       t.ErrorMessage,
		UpdatedAt:   t.UpdatedAt,
	}
}

// ListFilter narrows a task listing. Zero values mean "no constraint".
type ListFilter struct {
	Status  Status
	OwnerID *int64
	Limit   int
}

// TaskStore defines the interface for persisting tasks. Implementations must
// make ClaimNextReady safe under concurrent claimers: at most one caller may
// observe a given pending task as claimable.
// Version: 1.0
type TaskStore interface {
	// CreateTask persists a new task row.
	CreateTask(ctx context.Context, t *Task) error

	// GetTask retrieves a task by ID, or store.ErrTaskNotFound.
	GetTask(ctx context.Context, id uuid.UUID) (*Task, error)

	// ClaimNextReady atomically transitions the oldest ready pending task to
	// processing, incrementing its attempt count, and returns it. Returns
	// store.ErrNoTaskReady when no eligible task exists.
	ClaimNextReady(ctx context.Context) (*Task, error)

	// MarkCompleted records a successful execution: status completed, result
	// set, error cleared. Returns the updated task.
	MarkCompleted(ctx context.Context, id uuid.UUID, result json.RawMessage) (*Task, error)

	// ScheduleRetry returns a failed task to pending with the failure message
	// recorded and NextRunAt pushed to the given time.
	ScheduleRetry(ctx context.Context, id uuid.UUID, errMsg string, nextRunAt time.Time) (*Task, error)

	// MarkDeadLetter permanently quarantines a task with the failure message.
	MarkDeadLetter(ctx context.Context, id uuid.UUID, errMsg string) (*Task, error)

	// RequeueDeadLetter resets a dead-lettered task to pending with a fresh
	// attempt budget. Returns ErrNotDeadLetter for tasks in any other state.
	RequeueDeadLetter(ctx context.Context, id uuid.UUID) (*Task, error)

	// ResetAbandoned returns tasks stuck in processing longer than olderThan
	// to pending, reporting how many rows were reset. Used by startup
	// recovery after a crash.
	ResetAbandoned(ctx context.Context, olderThan time.Duration) (int, error)

	// ListTasks returns tasks matching the filter, newest first.
	ListTasks(ctx context.Context, filter ListFilter) ([]*Task, error)
}
