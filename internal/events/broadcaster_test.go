package events

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// testLogger returns a logger that discards output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBroadcaster(t *testing.T) {
	ctx := context.Background()

	t.Run("publish with no subscribers is a no-op", func(t *testing.T) {
		b := NewBroadcaster(testLogger())

		assert.NotPanics(t, func() {
			b.Publish(ctx, TaskUpdate{ID: uuid.New(), Status: "completed"})
		})
	})

	t.Run("global subscriber receives every update", func(t *testing.T) {
		b := NewBroadcaster(testLogger())

		var received []TaskUpdate
		sub := b.Subscribe(func(u TaskUpdate) {
			received = append(received, u)
		})
		defer sub.Cancel()

		first := TaskUpdate{ID: uuid.New(), Status: "processing"}
		second := TaskUpdate{ID: uuid.New(), Status: "completed"}
		b.Publish(ctx, first)
		b.Publish(ctx, second)

		assert.Len(t, received, 2)
		assert.Equal(t, first.ID, received[0].ID)
		assert.Equal(t, second.ID, received[1].ID)
	})

	t.Run("per-task subscriber only sees its own task", func(t *testing.T) {
		b := NewBroadcaster(testLogger())
		watched := uuid.New()

		var received []TaskUpdate
		sub := b.SubscribeTask(watched, func(u TaskUpdate) {
			received = append(received, u)
		})
		defer sub.Cancel()

		b.Publish(ctx, TaskUpdate{ID: uuid.New(), Status: "completed"})
		b.Publish(ctx, TaskUpdate{ID: watched, Status: "completed"})

		assert.Len(t, received, 1)
		assert.Equal(t, watched, received[0].ID)
	})

	t.Run("per-task and global lists both deliver independently", func(t *testing.T) {
		b := NewBroadcaster(testLogger())
		taskID := uuid.New()

		perTaskCount := 0
		globalCount := 0
		taskSub := b.SubscribeTask(taskID, func(TaskUpdate) { perTaskCount++ })
		defer taskSub.Cancel()
		globalSub := b.Subscribe(func(TaskUpdate) { globalCount++ })
		defer globalSub.Cancel()

		b.Publish(ctx, TaskUpdate{ID: taskID, Status: "processing"})

		assert.Equal(t, 1, perTaskCount)
		assert.Equal(t, 1, globalCount)
	})

	t.Run("cancelled subscription receives nothing further", func(t *testing.T) {
		b := NewBroadcaster(testLogger())

		count := 0
		sub := b.Subscribe(func(TaskUpdate) { count++ })

		b.Publish(ctx, TaskUpdate{ID: uuid.New()})
		sub.Cancel()
		b.Publish(ctx, TaskUpdate{ID: uuid.New()})

		assert.Equal(t, 1, count)
	})

	t.Run("cancel is idempotent", func(t *testing.T) {
		b := NewBroadcaster(testLogger())
		sub := b.Subscribe(func(TaskUpdate) {})

		assert.NotPanics(t, func() {
			sub.Cancel()
			sub.Cancel()
		})
	})

	t.Run("panicking subscriber does not break delivery to others", func(t *testing.T) {
		b := NewBroadcaster(testLogger())
		taskID := uuid.New()

		delivered := false
		panicSub := b.SubscribeTask(taskID, func(TaskUpdate) {
			panic("subscriber exploded")
		})
		defer panicSub.Cancel()
		okSub := b.Subscribe(func(TaskUpdate) { delivered = true })
		defer okSub.Cancel()

		assert.NotPanics(t, func() {
			b.Publish(ctx, TaskUpdate{ID: taskID, Status: "completed"})
		})
		assert.True(t, delivered)
	})

	t.Run("concurrent subscribe and publish are safe", func(t *testing.T) {
		b := NewBroadcaster(testLogger())

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				sub := b.Subscribe(func(TaskUpdate) {})
				sub.Cancel()
			}()
			go func() {
				defer wg.Done()
				b.Publish(ctx, TaskUpdate{ID: uuid.New()})
			}()
		}
		wg.Wait()
	})
}

func TestTaskUpdateVisibleTo(t *testing.T) {
	ownerA := int64(1)
	ownerB := int64(2)

	tests := []struct {
		name     string
		update   TaskUpdate
		observer *int64
		want     bool
	}{
		{"unscoped observer sees unowned task", TaskUpdate{}, nil, true},
		{"unscoped observer sees owned task", TaskUpdate{OwnerID: &ownerA}, nil, true},
		{"scoped observer sees unowned task", TaskUpdate{}, &ownerA, true},
		{"scoped observer sees own task", TaskUpdate{OwnerID: &ownerA}, &ownerA, true},
		{"scoped observer never sees another owner's task", TaskUpdate{OwnerID: &ownerB}, &ownerA, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.update.VisibleTo(tt.observer))
		})
	}
}
