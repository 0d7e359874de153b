package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskUpdate carries the full externally-visible state of a task as of one
// state transition. It is the payload delivered to every subscriber and
// serialized verbatim onto the push stream, without direct dependencies on
// the task package.
type TaskUpdate struct {
	// ID is the task's unique identifier.
	ID uuid.UUID `json:"id"`

	// Type is the task type key the handler was registered under.
	Type string `json:"type"`

	// Status is the task's lifecycle state after the transition.
	Status string `json:"status"`

	// OwnerID scopes notification delivery; nil means visible to everyone.
	OwnerID *int64 `json:"ownerId,omitempty"`

	// Attempts is the number of claims made so far.
	Attempts int `json:"attempts"`

	// MaxAttempts is the ceiling before dead-lettering.
	MaxAttempts int `json:"maxAttempts"`

	// Result holds the handler's output, set only on completion.
	Result json.RawMessage `json:"result,omitempty"`

	// Error holds the failure message, set on failed/dead_letter transitions.
	Error string `json:"error,omitempty"`

	// UpdatedAt is the timestamp of the transition.
	UpdatedAt time.Time `json:"updatedAt"`
}

// VisibleTo reports whether the update may be delivered to an observer scoped
// to the given principal. Unscoped observers (nil) see every update; scoped
// observers see updates for unowned tasks and for tasks they own.
func (u TaskUpdate) VisibleTo(ownerID *int64) bool {
	if ownerID == nil {
		return true
	}
	if u.OwnerID == nil {
		return true
	}
	return *u.OwnerID == *ownerID
}
