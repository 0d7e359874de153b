package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oakhurst/playnest-api/internal/store"
)

// MockTaskStore implements the TaskStore interface in memory for testing.
// It reproduces the persistence layer's semantics (FIFO claiming with
// at-most-one claimer per task, terminal-state immutability) behind a single
// mutex, and exposes override hooks for error injection.
type MockTaskStore struct {
	mutex sync.Mutex
	tasks map[uuid.UUID]*Task

	// CreateFn and ClaimFn, when set, replace the default behavior. Useful
	// for simulating infrastructure failures.
	CreateFn func(ctx context.Context, t *Task) error
	ClaimFn  func(ctx context.Context) (*Task, error)
}

// NewMockTaskStore creates an empty MockTaskStore.
func NewMockTaskStore() *MockTaskStore {
	return &MockTaskStore{
		tasks: make(map[uuid.UUID]*Task),
	}
}

// clone copies a task so callers never share memory with the store.
func clone(t *Task) *Task {
	c := *t
	if t.OwnerID != nil {
		owner := *t.OwnerID
		c.OwnerID = &owner
	}
	c.Payload = append(json.RawMessage(nil), t.Payload...)
	if t.Result != nil {
		c.Result = append(json.RawMessage(nil), t.Result...)
	}
	return &c
}

// CreateTask persists a new task.
func (s *MockTaskStore) CreateTask(ctx context.Context, t *Task) error {
	if s.CreateFn != nil {
		return s.CreateFn(ctx, t)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.tasks[t.ID] = clone(t)
	return nil
}

// GetTask retrieves a task by ID.
func (s *MockTaskStore) GetTask(ctx context.Context, id uuid.UUID) (*Task, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return clone(t), nil
}

// ClaimNextReady atomically claims the oldest ready pending task.
func (s *MockTaskStore) ClaimNextReady(ctx context.Context) (*Task, error) {
	if s.ClaimFn != nil {
		return s.ClaimFn(ctx)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now().UTC()

	var candidate *Task
	for _, t := range s.tasks {
		if t.Status != StatusPending || t.NextRunAt.After(now) {
			continue
		}
		if candidate == nil || t.CreatedAt.Before(candidate.CreatedAt) {
			candidate = t
		}
	}
	if candidate == nil {
		return nil, store.ErrNoTaskReady
	}

	candidate.Status = StatusProcessing
	candidate.Attempts++
	candidate.UpdatedAt = now
	return clone(candidate), nil
}

// mutate applies fn to a live, non-terminal task under the lock.
func (s *MockTaskStore) mutate(id uuid.UUID, fn func(t *Task) error) (*Task, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	if t.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", store.ErrTerminalState, t.Status)
	}
	if err := fn(t); err != nil {
		return nil, err
	}
	t.UpdatedAt = time.Now().UTC()
	return clone(t), nil
}

// MarkCompleted records a successful execution.
func (s *MockTaskStore) MarkCompleted(
	ctx context.Context,
	id uuid.UUID,
	result json.RawMessage,
) (*Task, error) {
	return s.mutate(id, func(t *Task) error {
		t.Status = StatusCompleted
		t.Result = append(json.RawMessage(nil), result...)
		t.ErrorMessage = ""
		return nil
	})
}

// ScheduleRetry returns a failed task to pending with a backoff-delayed
// NextRunAt.
func (s *MockTaskStore) ScheduleRetry(
	ctx context.Context,
	id uuid.UUID,
	errMsg string,
	nextRunAt time.Time,
) (*Task, error) {
	return s.mutate(id, func(t *Task) error {
		t.Status = StatusPending
		t.ErrorMessage = errMsg
		t.NextRunAt = nextRunAt
		return nil
	})
}

// MarkDeadLetter permanently quarantines a task.
func (s *MockTaskStore) MarkDeadLetter(
	ctx context.Context,
	id uuid.UUID,
	errMsg string,
) (*Task, error) {
	return s.mutate(id, func(t *Task) error {
		t.Status = StatusDeadLetter
		t.ErrorMessage = errMsg
		return nil
	})
}

// RequeueDeadLetter resets a dead-lettered task to pending with a fresh
// attempt budget.
func (s *MockTaskStore) RequeueDeadLetter(ctx context.Context, id uuid.UUID) (*Task, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	if t.Status != StatusDeadLetter {
		return nil, ErrNotDeadLetter
	}

	now := time.Now().UTC()
	t.Status = StatusPending
	t.Attempts = 0
	t.ErrorMessage = ""
	t.NextRunAt = now
	t.UpdatedAt = now
	return clone(t), nil
}

// ResetAbandoned returns stale processing tasks to pending.
func (s *MockTaskStore) ResetAbandoned(
	ctx context.Context,
	olderThan time.Duration,
) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now().UTC()
	cutoff := now.Add(-olderThan)

	count := 0
	for _, t := range s.tasks {
		if t.Status != StatusProcessing || t.UpdatedAt.After(cutoff) {
			continue
		}
		t.Status = StatusPending
		t.ErrorMessage = "reset after being abandoned in processing"
		t.NextRunAt = now
		t.UpdatedAt = now
		count++
	}
	return count, nil
}

// ListTasks returns tasks matching the filter, newest first.
func (s *MockTaskStore) ListTasks(ctx context.Context, filter ListFilter) ([]*Task, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var matched []*Task
	for _, t := range s.tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.OwnerID != nil &&
			(t.OwnerID == nil || *t.OwnerID != *filter.OwnerID) {
			continue
		}
		matched = append(matched, clone(t))
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}
