package task

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakhurst/playnest-api/internal/events"
	"github.com/oakhurst/playnest-api/internal/store"
)

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWorkerLoop(t *testing.T) {
	ctx := context.Background()

	t.Run("processes submitted tasks without waiting for a poll tick", func(t *testing.T) {
		logger := setupTestLogger()
		work := events.NewWorkSignal()
		mockStore := NewMockTaskStore()
		registry := NewRegistry(logger)

		var handled atomic.Int32
		registry.Register("echo", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
			handled.Add(1)
			return nil, nil
		})

		orch := NewOrchestrator(mockStore, registry, work,
			events.NewBroadcaster(logger), fastConfig(), logger)

		// A long poll interval forces the loop to rely on the work signal.
		worker := NewWorkerLoop(orch, work, time.Minute, logger)
		worker.Start()
		defer worker.Stop()

		_, err := orch.Submit(ctx, SubmitRequest{Type: "echo"})
		require.NoError(t, err)

		waitFor(t, 2*time.Second, func() bool { return handled.Load() == 1 })
	})

	t.Run("one wake-up drains the whole queue", func(t *testing.T) {
		logger := setupTestLogger()
		work := events.NewWorkSignal()
		mockStore := NewMockTaskStore()
		registry := NewRegistry(logger)

		var handled atomic.Int32
		registry.Register("echo", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
			handled.Add(1)
			return nil, nil
		})

		orch := NewOrchestrator(mockStore, registry, work,
			events.NewBroadcaster(logger), fastConfig(), logger)

		// Submit before starting so everything rides a single wake-up.
		for i := 0; i < 5; i++ {
			_, err := orch.Submit(ctx, SubmitRequest{Type: "echo"})
			require.NoError(t, err)
		}

		worker := NewWorkerLoop(orch, work, time.Minute, logger)
		worker.Start()
		defer worker.Stop()

		waitFor(t, 2*time.Second, func() bool { return handled.Load() == 5 })
	})

	t.Run("survives claim infrastructure errors", func(t *testing.T) {
		logger := setupTestLogger()
		work := events.NewWorkSignal()
		mockStore := NewMockTaskStore()
		registry := NewRegistry(logger)

		var handled atomic.Int32
		registry.Register("echo", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
			handled.Add(1)
			return nil, nil
		})

		// Fail the first claims, then restore normal behavior.
		var failures atomic.Int32
		mockStore.ClaimFn = func(ctx context.Context) (*Task, error) {
			if failures.Add(1) <= 2 {
				return nil, errors.New("connection reset")
			}
			mockStore.ClaimFn = nil
			return nil, store.ErrNoTaskReady
		}

		orch := NewOrchestrator(mockStore, registry, work,
			events.NewBroadcaster(logger), fastConfig(), logger)
		worker := NewWorkerLoop(orch, work, 10*time.Millisecond, logger)
		worker.Start()
		defer worker.Stop()

		waitFor(t, 2*time.Second, func() bool { return failures.Load() > 2 })

		_, err := orch.Submit(ctx, SubmitRequest{Type: "echo"})
		require.NoError(t, err)

		waitFor(t, 2*time.Second, func() bool { return handled.Load() == 1 })
	})

	t.Run("reentrant drain is a no-op", func(t *testing.T) {
		logger := setupTestLogger()
		work := events.NewWorkSignal()
		mockStore := NewMockTaskStore()
		registry := NewRegistry(logger)

		release := make(chan struct{})
		entered := make(chan struct{})
		registry.Register("slow", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
			close(entered)
			<-release
			return nil, nil
		})

		orch := NewOrchestrator(mockStore, registry, work,
			events.NewBroadcaster(logger), fastConfig(), logger)
		worker := NewWorkerLoop(orch, work, time.Minute, logger)

		_, err := orch.Submit(ctx, SubmitRequest{Type: "slow"})
		require.NoError(t, err)

		go worker.Drain(context.Background())
		<-entered

		// The first drain holds the guard; this call must return immediately.
		done := make(chan struct{})
		go func() {
			worker.Drain(context.Background())
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("reentrant Drain blocked")
		}
		close(release)
	})

	t.Run("stop waits for the loop to exit", func(t *testing.T) {
		logger := setupTestLogger()
		work := events.NewWorkSignal()
		orch := NewOrchestrator(NewMockTaskStore(), NewRegistry(logger), work,
			events.NewBroadcaster(logger), fastConfig(), logger)

		worker := NewWorkerLoop(orch, work, 10*time.Millisecond, logger)
		worker.Start()

		done := make(chan struct{})
		go func() {
			worker.Stop()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Stop did not return")
		}
		assert.False(t, worker.draining.Load())
	})
}
