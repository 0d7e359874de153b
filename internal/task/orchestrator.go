package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/oakhurst/playnest-api/internal/events"
	"github.com/oakhurst/playnest-api/internal/store"
)

// emptyResult is recorded when a handler completes without returning a value.
var emptyResult = json.RawMessage(`{}`)

// OrchestratorConfig holds the tunables of the claim/execute cycle.
type OrchestratorConfig struct {
	// BaseRetryDelay is the delay before the first retry; each further retry
	// doubles it. There is no upper bound on the resulting delay.
	BaseRetryDelay time.Duration

	// DefaultMaxAttempts applies when a submission omits maxAttempts or
	// supplies a non-positive value.
	DefaultMaxAttempts int
}

// DefaultOrchestratorConfig returns an OrchestratorConfig with the standard
// defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		BaseRetryDelay:     500 * time.Millisecond,
		DefaultMaxAttempts: DefaultMaxAttempts,
	}
}

// Orchestrator owns submission, claiming, execution dispatch, retry policy,
// and state-change broadcasting. One instance exists per process; it is
// constructed at startup and passed by reference to the worker loop and the
// API layer.
type Orchestrator struct {
	store       TaskStore
	registry    *Registry
	work        *events.WorkSignal
	broadcaster *events.Broadcaster
	config      OrchestratorConfig
	logger      *slog.Logger
}

// NewOrchestrator wires an Orchestrator from its collaborators.
func NewOrchestrator(
	taskStore TaskStore,
	registry *Registry,
	work *events.WorkSignal,
	broadcaster *events.Broadcaster,
	config OrchestratorConfig,
	logger *slog.Logger,
) *Orchestrator {
	if config.BaseRetryDelay <= 0 {
		config.BaseRetryDelay = 500 * time.Millisecond
	}
	if config.DefaultMaxAttempts <= 0 {
		config.DefaultMaxAttempts = DefaultMaxAttempts
	}

	return &Orchestrator{
		store:       taskStore,
		registry:    registry,
		work:        work,
		broadcaster: broadcaster,
		config:      config,
		logger:      logger.With("component", "orchestrator"),
	}
}

// SubmitRequest describes a new unit of work.
type SubmitRequest struct {
	// Type selects the handler; must be registered at submission time.
	Type string

	// Payload is handed to the handler verbatim. Nil is stored as JSON null.
	Payload json.RawMessage

	// OwnerID optionally scopes notification delivery.
	OwnerID *int64

	// MaxAttempts overrides the default attempt ceiling when positive.
	MaxAttempts int

	// ScheduleAt delays the first claim when set; zero means claimable now.
	ScheduleAt time.Time
}

// Submit validates and persists a new pending task, signals the worker loop,
// and returns the stored task synchronously. Execution happens later; the
// caller observes the outcome through the notification channel, Await, or
// polling GetTask.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*Task, error) {
	if _, ok := o.registry.Resolve(req.Type); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnregisteredType, req.Type)
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = o.config.DefaultMaxAttempts
	}

	payload := req.Payload
	if payload == nil {
		payload = json.RawMessage(`null`)
	}

	now := time.Now().UTC()
	nextRunAt := req.ScheduleAt
	if nextRunAt.IsZero() {
		nextRunAt = now
	}

	t := &Task{
		ID:          uuid.New(),
		Type:        req.Type,
		Status:      StatusPending,
		OwnerID:     req.OwnerID,
		Payload:     payload,
		Attempts:    0,
		MaxAttempts: maxAttempts,
		NextRunAt:   nextRunAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := o.store.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to persist task: %w", err)
	}

	o.logger.Info("task submitted",
		"task_id", t.ID,
		"task_type", t.Type,
		"max_attempts", t.MaxAttempts)

	// Wake an idle worker loop immediately rather than waiting for its next
	// poll tick.
	o.work.Notify()

	return t, nil
}

// GetTask returns the full current state of a task.
func (o *Orchestrator) GetTask(ctx context.Context, id uuid.UUID) (*Task, error) {
	return o.store.GetTask(ctx, id)
}

// ListTasks returns tasks matching the filter, newest first.
func (o *Orchestrator) ListTasks(ctx context.Context, filter ListFilter) ([]*Task, error) {
	return o.store.ListTasks(ctx, filter)
}

// Broadcaster exposes the notification channel so observers (SSE streams,
// await helpers) can subscribe to task updates.
func (o *Orchestrator) Broadcaster() *events.Broadcaster {
	return o.broadcaster
}

// RunNext claims and executes a single ready task. It reports whether a task
// was claimed so the caller can drain until the queue is empty. Claim-time
// infrastructure errors propagate; handler failures never do, they become
// task state transitions instead.
func (o *Orchestrator) RunNext(ctx context.Context) (bool, error) {
	claimed, err := o.store.ClaimNextReady(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNoTaskReady) {
			return false, nil
		}
		return false, fmt.Errorf("failed to claim task: %w", err)
	}

	o.publish(ctx, claimed)
	o.execute(ctx, claimed)
	return true, nil
}

// execute dispatches a claimed task to its handler and records the outcome.
func (o *Orchestrator) execute(ctx context.Context, t *Task) {
	logger := o.logger.With(
		"task_id", t.ID,
		"task_type", t.Type,
		"attempt", t.Attempts,
	)

	handler, ok := o.registry.Resolve(t.Type)
	if !ok {
		// A missing handler is a deployment error, not a transient condition:
		// dead-letter immediately instead of burning the retry budget.
		logger.Error("no handler registered for claimed task")
		dead, err := o.store.MarkDeadLetter(ctx, t.ID,
			fmt.Sprintf("no handler registered for task type %q", t.Type))
		if err != nil {
			logger.Error("failed to dead-letter task with missing handler", "error", err)
			return
		}
		o.publish(ctx, dead)
		return
	}

	logger.Info("processing task")

	result, execErr := o.invoke(ctx, handler, t.Payload)
	if execErr == nil {
		if result == nil {
			result = emptyResult
		}
		completed, err := o.store.MarkCompleted(ctx, t.ID, result)
		if err != nil {
			logger.Error("failed to record task completion", "error", err)
			return
		}
		logger.Info("task completed successfully")
		o.publish(ctx, completed)
		return
	}

	o.recordFailure(ctx, t.ID, execErr, logger)
}

// invoke runs the handler, converting panics into ordinary errors so a
// misbehaving handler cannot take down the worker loop.
func (o *Orchestrator) invoke(
	ctx context.Context,
	handler HandlerFunc,
	payload json.RawMessage,
) (result json.RawMessage, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panicked: %v", p)
		}
	}()
	return handler(ctx, payload)
}

// recordFailure classifies a handler failure as retryable or terminal by
// comparing attempts to the ceiling, then records the transition. The counts
// are re-fetched because a concurrent requeue may have changed them since the
// claim.
func (o *Orchestrator) recordFailure(
	ctx context.Context,
	id uuid.UUID,
	execErr error,
	logger *slog.Logger,
) {
	logger.Error("task execution failed", "error", execErr)

	current, err := o.store.GetTask(ctx, id)
	if err != nil {
		logger.Error("failed to re-fetch task after failure", "error", err)
		return
	}

	if current.Attempts >= current.MaxAttempts {
		dead, err := o.store.MarkDeadLetter(ctx, id, execErr.Error())
		if err != nil {
			logger.Error("failed to dead-letter exhausted task", "error", err)
			return
		}
		logger.Warn("task dead-lettered after exhausting attempts",
			"attempts", dead.Attempts,
			"max_attempts", dead.MaxAttempts)
		o.publish(ctx, dead)
		return
	}

	delay := o.backoffDelay(current.Attempts)
	nextRunAt := time.Now().UTC().Add(delay)

	retried, err := o.store.ScheduleRetry(ctx, id, execErr.Error(), nextRunAt)
	if err != nil {
		logger.Error("failed to schedule task retry", "error", err)
		return
	}
	logger.Info("task scheduled for retry",
		"attempts", retried.Attempts,
		"max_attempts", retried.MaxAttempts,
		"retry_delay", delay,
		"next_run_at", retried.NextRunAt)
	o.publish(ctx, retried)

	// The task is pending again; depending on the backoff it may already be
	// eligible, so poke the worker loop.
	o.work.Notify()
}

// backoffDelay computes baseDelay * 2^(attempts-1). There is no policy
// ceiling, but the arithmetic saturates at math.MaxInt64 nanoseconds: a
// wrapped multiplication would yield a negative delay, put nextRunAt in the
// past, and turn the backoff into a hot loop.
func (o *Orchestrator) backoffDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	shift := uint(attempts - 1)
	if shift >= 63 {
		return math.MaxInt64
	}
	factor := int64(1) << shift
	if int64(o.config.BaseRetryDelay) > math.MaxInt64/factor {
		return math.MaxInt64
	}
	return o.config.BaseRetryDelay * time.Duration(factor)
}

// RequeueDeadLetter manually returns a dead-lettered task to the queue with a
// fresh attempt budget and broadcasts the transition.
func (o *Orchestrator) RequeueDeadLetter(ctx context.Context, id uuid.UUID) (*Task, error) {
	requeued, err := o.store.RequeueDeadLetter(ctx, id)
	if err != nil {
		return nil, err
	}

	o.logger.Info("dead-lettered task requeued", "task_id", id)
	o.publish(ctx, requeued)
	o.work.Notify()
	return requeued, nil
}

// Recover resets tasks abandoned in processing by a crashed process so the
// worker loop reclaims them. Called once at startup before the loop starts.
func (o *Orchestrator) Recover(ctx context.Context, olderThan time.Duration) error {
	count, err := o.store.ResetAbandoned(ctx, olderThan)
	if err != nil {
		return fmt.Errorf("failed to reset abandoned tasks: %w", err)
	}
	if count > 0 {
		o.logger.Info("recovered abandoned tasks", "count", count)
		o.work.Notify()
	}
	return nil
}

// publish broadcasts the task's full current state to all subscribers.
func (o *Orchestrator) publish(ctx context.Context, t *Task) {
	o.broadcaster.Publish(ctx, t.Update())
}
