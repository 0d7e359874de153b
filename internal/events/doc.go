// Package events provides the in-process signalling primitives for the task
// orchestration core.
//
// Two distinct, statically-typed channels exist instead of a generic
// event-name-based emitter:
//   - WorkSignal: a coalescing "queue has new work" notifier that wakes the
//     worker loop without persisting anything.
//   - Broadcaster: synchronous fan-out of TaskUpdate events to per-task and
//     global subscribers (SSE streams, await helpers).
//
// Both signals are transient and safe to miss; a missed work signal only
// delays pickup until the worker loop's next poll tick.
package events
