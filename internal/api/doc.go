// Package api implements the HTTP handlers, request/response models, and
// error mapping for the task orchestration endpoints: submission, lookup,
// listing, dead-letter requeue, and the server-sent-events stream of task
// state changes.
package api
