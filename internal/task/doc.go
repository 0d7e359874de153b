// Package task manages background job queuing, processing, and lifecycle.
// It provides the durable at-least-once task queue behind the product's
// asynchronous operations: submission, atomic claiming, retry with
// exponential backoff, dead-lettering, and state-change broadcasting, so
// long-running work never blocks HTTP request handling and survives
// application restarts.
package task
