package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// UpdateFunc is a subscriber callback invoked once per delivered TaskUpdate.
// Callbacks run synchronously with the emitting transition; a panicking
// callback is caught and logged, never allowed to break the emitter or block
// other subscribers.
type UpdateFunc func(update TaskUpdate)

// Subscription represents one registered subscriber. The subscriber owns its
// lifetime and must call Cancel when done (e.g. on client disconnect);
// the broadcaster never removes subscribers on its own.
type Subscription struct {
	id     uint64
	taskID uuid.UUID // uuid.Nil for global subscriptions
	fn     UpdateFunc
	b      *Broadcaster
	once   sync.Once
}

// Cancel removes the subscription from the broadcaster. It is safe to call
// more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.b.remove(s)
	})
}

// Broadcaster fans TaskUpdate events out to subscribers. Any component may
// subscribe to a specific task's updates by identifier or to every update
// system-wide; both lists receive each matching event independently.
type Broadcaster struct {
	mu      sync.RWMutex
	nextID  uint64
	global  map[uint64]*Subscription
	perTask map[uuid.UUID]map[uint64]*Subscription
	logger  *slog.Logger
}

// NewBroadcaster creates a Broadcaster that logs subscriber failures to the
// given logger.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		global:  make(map[uint64]*Subscription),
		perTask: make(map[uuid.UUID]map[uint64]*Subscription),
		logger:  logger.With("component", "task_broadcaster"),
	}
}

// Subscribe registers a global subscriber that receives every task update.
func (b *Broadcaster) Subscribe(fn UpdateFunc) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := b.newSubscription(uuid.Nil, fn)
	b.global[sub.id] = sub
	b.logger.Debug("registered global subscriber", "subscriber_count", len(b.global))
	return sub
}

// SubscribeTask registers a subscriber that receives updates for a single
// task identifier only.
func (b *Broadcaster) SubscribeTask(taskID uuid.UUID, fn UpdateFunc) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := b.newSubscription(taskID, fn)
	subs, ok := b.perTask[taskID]
	if !ok {
		subs = make(map[uint64]*Subscription)
		b.perTask[taskID] = subs
	}
	subs[sub.id] = sub
	b.logger.Debug("registered per-task subscriber",
		"task_id", taskID,
		"subscriber_count", len(subs))
	return sub
}

// newSubscription must be called with b.mu held.
func (b *Broadcaster) newSubscription(taskID uuid.UUID, fn UpdateFunc) *Subscription {
	b.nextID++
	return &Subscription{id: b.nextID, taskID: taskID, fn: fn, b: b}
}

// remove deletes a subscription from whichever list holds it.
func (b *Broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.taskID == uuid.Nil {
		delete(b.global, sub.id)
		return
	}
	if subs, ok := b.perTask[sub.taskID]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(b.perTask, sub.taskID)
		}
	}
}

// Publish delivers the update to all per-task subscribers for the update's
// task and to all global subscribers. Delivery is synchronous and
// fire-and-forget: every subscriber is attempted regardless of failures in
// the others.
func (b *Broadcaster) Publish(ctx context.Context, update TaskUpdate) {
	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.global))
	if subs, ok := b.perTask[update.ID]; ok {
		for _, sub := range subs {
			targets = append(targets, sub)
		}
	}
	for _, sub := range b.global {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	b.logger.Debug("broadcasting task update",
		"task_id", update.ID,
		"status", update.Status,
		"subscriber_count", len(targets))

	for _, sub := range targets {
		b.deliver(sub, update)
	}
}

// deliver invokes one subscriber, isolating panics so a misbehaving callback
// cannot break the emitting transition.
func (b *Broadcaster) deliver(sub *Subscription, update TaskUpdate) {
	defer func() {
		if p := recover(); p != nil {
			b.logger.Error("subscriber panicked while handling task update",
				"task_id", update.ID,
				"status", update.Status,
				"panic", p)
		}
	}()
	sub.fn(update)
}
