package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/oakhurst/playnest-api/internal/api/shared"
	"github.com/oakhurst/playnest-api/internal/events"
)

// EventsHandler serves the long-lived server-sent-events stream of task state
// changes. The wire contract uses three named event types: "connected" once
// on attach, "keep-alive" heartbeats to prevent idle-timeout disconnects, and
// "task-update" carrying the JSON task state.
type EventsHandler struct {
	broadcaster *events.Broadcaster
	heartbeat   time.Duration
	logger      *slog.Logger
}

// NewEventsHandler creates an EventsHandler emitting heartbeats at the given
// interval. A non-positive interval falls back to 25s.
func NewEventsHandler(
	broadcaster *events.Broadcaster,
	heartbeat time.Duration,
	logger *slog.Logger,
) *EventsHandler {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &EventsHandler{
		broadcaster: broadcaster,
		heartbeat:   heartbeat,
		logger:      logger.With("component", "events_handler"),
	}
}

// Stream handles GET /api/tasks/events requests. An optional "owner" query
// parameter scopes delivery: events for tasks owned by a different principal
// are suppressed, while unowned tasks reach every observer.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	var ownerID *int64
	if owner := r.URL.Query().Get("owner"); owner != "" {
		id, err := strconv.ParseInt(owner, 10, 64)
		if err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid owner parameter")
			return
		}
		ownerID = &id
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Bridge the broadcaster's synchronous delivery into this connection's
	// write loop. The buffer absorbs bursts; a slow client drops events
	// rather than stalling the emitting transition.
	updates := make(chan events.TaskUpdate, 64)
	sub := h.broadcaster.Subscribe(func(u events.TaskUpdate) {
		if !u.VisibleTo(ownerID) {
			return
		}
		select {
		case updates <- u:
		default:
			h.logger.Warn("dropping task update for slow subscriber",
				"task_id", u.ID,
				"status", u.Status)
		}
	})
	defer sub.Cancel()

	h.logger.Debug("event stream attached", "scoped", ownerID != nil)

	writeEvent(w, "connected", json.RawMessage(`{}`))
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("event stream detached")
			return

		case <-ticker.C:
			writeEvent(w, "keep-alive", json.RawMessage(`{}`))
			flusher.Flush()

		case u := <-updates:
			data, err := json.Marshal(u)
			if err != nil {
				h.logger.Error("failed to marshal task update", "error", err)
				continue
			}
			writeEvent(w, "task-update", data)
			flusher.Flush()
		}
	}
}

// writeEvent emits one SSE frame.
func writeEvent(w http.ResponseWriter, event string, data []byte) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
