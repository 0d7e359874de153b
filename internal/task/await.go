package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oakhurst/playnest-api/internal/events"
)

// AwaitConfig controls the polling fallback of Await.
type AwaitConfig struct {
	// PollInterval is how often the fallback queries task state directly.
	PollInterval time.Duration

	// MaxPolls bounds the fallback; once exhausted the await rejects with
	// ErrAwaitTimeout.
	MaxPolls int
}

// DefaultAwaitConfig returns the standard await parameters.
func DefaultAwaitConfig() AwaitConfig {
	return AwaitConfig{
		PollInterval: 300 * time.Millisecond,
		MaxPolls:     20,
	}
}

// settlement is the single value an await resolves to.
type settlement struct {
	result json.RawMessage
	err    error
}

// Await blocks until the task reaches a terminal state, returning its result
// on completion or an error wrapping the task's failure message on
// failed/dead_letter. It listens on a per-task subscription and polls the
// store as a fallback in case the push channel is silent; whichever path
// observes a terminal state first settles the await, exactly once. The
// subscription is removed on settlement.
//
// A timed-out await does not affect the task's server-side lifecycle: the
// task may still complete normally later.
func (o *Orchestrator) Await(
	ctx context.Context,
	taskID uuid.UUID,
	cfg AwaitConfig,
) (json.RawMessage, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 300 * time.Millisecond
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 20
	}

	// Buffered so the losing path's send never blocks; once makes settlement
	// idempotent with first-writer-wins semantics.
	settled := make(chan settlement, 1)
	var once sync.Once
	settle := func(s settlement) {
		once.Do(func() { settled <- s })
	}

	sub := o.broadcaster.SubscribeTask(taskID, func(u events.TaskUpdate) {
		switch Status(u.Status) {
		case StatusCompleted:
			result := u.Result
			if result == nil {
				result = emptyResult
			}
			settle(settlement{result: result})
		case StatusFailed, StatusDeadLetter:
			settle(settlement{err: failureError(u.Error)})
		}
	})
	defer sub.Cancel()

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for polls := 0; ; {
		select {
		case s := <-settled:
			return s.result, s.err

		case <-ctx.Done():
			return nil, ctx.Err()

		case <-ticker.C:
			polls++

			t, err := o.store.GetTask(ctx, taskID)
			if err == nil {
				switch t.Status {
				case StatusCompleted:
					result := t.Result
					if result == nil {
						result = emptyResult
					}
					settle(settlement{result: result})
				case StatusFailed, StatusDeadLetter:
					settle(settlement{err: failureError(t.ErrorMessage)})
				}
			}

			// Drain an immediate settlement before checking the budget so a
			// terminal state found on the final poll still wins.
			select {
			case s := <-settled:
				return s.result, s.err
			default:
			}

			if polls >= cfg.MaxPolls {
				return nil, fmt.Errorf("%w: task %s", ErrAwaitTimeout, taskID)
			}
		}
	}
}

// failureError wraps a task's recorded failure message, substituting a
// generic message when none was recorded.
func failureError(msg string) error {
	if msg == "" {
		msg = "task processing failed"
	}
	return fmt.Errorf("%w: %s", ErrTaskFailed, msg)
}
