package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/oakhurst/playnest-api/internal/task"
)

// Task type names for the product's background operations. The handlers here
// are thin stand-ins for the business layer: the orchestration core treats
// them as opaque payload-to-result functions.
const (
	taskTypeEcho            = "echo"
	taskTypeFriendSetState  = "friend.setState"
	taskTypeFriendRecommend = "friend.recommendations"
	taskTypeLocationUpdate  = "location.update"
)

// registerTaskHandlers wires the product's handlers into the registry.
// Handlers receive the submitted payload verbatim and may submit follow-up
// tasks through the orchestrator before returning.
func registerTaskHandlers(
	registry *task.Registry,
	orch *task.Orchestrator,
	logger *slog.Logger,
) {
	registry.Register(taskTypeEcho, echoHandler)
	registry.Register(taskTypeFriendSetState, friendSetStateHandler(orch, logger))
	registry.Register(taskTypeFriendRecommend, friendRecommendationsHandler(logger))
	registry.Register(taskTypeLocationUpdate, locationUpdateHandler(logger))
}

// echoHandler reflects its payload back, useful for smoke-testing the queue
// end to end.
func echoHandler(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	result := map[string]any{
		"message":  "Echo complete",
		"received": payload,
	}
	return json.Marshal(result)
}

// friendSetStateHandler applies a friend-state change and, when the change is
// a confirmation, cascades a recommendations rebuild for the same user.
func friendSetStateHandler(orch *task.Orchestrator, logger *slog.Logger) task.HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var req struct {
			UserID   int64  `json:"userId"`
			FriendID int64  `json:"friendId"`
			State    string `json:"state"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("invalid friend.setState payload: %w", err)
		}

		logger.Info("friend state updated",
			"user_id", req.UserID,
			"friend_id", req.FriendID,
			"state", req.State)

		if req.State == "confirmed" {
			followUp, err := json.Marshal(map[string]any{"userId": req.UserID})
			if err != nil {
				return nil, err
			}
			if _, err := orch.Submit(ctx, task.SubmitRequest{
				Type:    taskTypeFriendRecommend,
				Payload: followUp,
				OwnerID: &req.UserID,
			}); err != nil {
				return nil, fmt.Errorf("failed to enqueue recommendations rebuild: %w", err)
			}
		}

		return json.Marshal(map[string]any{"updated": true, "state": req.State})
	}
}

// friendRecommendationsHandler rebuilds a user's friend recommendations.
func friendRecommendationsHandler(logger *slog.Logger) task.HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var req struct {
			UserID int64 `json:"userId"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("invalid friend.recommendations payload: %w", err)
		}

		logger.Info("rebuilding friend recommendations", "user_id", req.UserID)
		return json.Marshal(map[string]any{"rebuilt": true, "userId": req.UserID})
	}
}

// locationUpdateHandler records a device location report.
func locationUpdateHandler(logger *slog.Logger) task.HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var req struct {
			UserID    int64   `json:"userId"`
			Latitude  float64 `json:"lat"`
			Longitude float64 `json:"lng"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("invalid location.update payload: %w", err)
		}

		logger.Info("location updated", "user_id", req.UserID)
		return nil, nil
	}
}
