package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oakhurst/playnest-api/internal/api"
	apiMiddleware "github.com/oakhurst/playnest-api/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes
// and middleware. Returns the configured router.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	// Apply standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	taskHandler := api.NewTaskHandler(app.orchestrator, app.logger)
	eventsHandler := api.NewEventsHandler(
		app.broadcaster,
		time.Duration(app.config.Task.SSEHeartbeatSeconds)*time.Second,
		app.logger,
	)

	r.Route("/api", func(r chi.Router) {
		r.Post("/tasks", taskHandler.SubmitTask)
		r.Get("/tasks", taskHandler.ListTasks)
		r.Get("/tasks/events", eventsHandler.Stream)
		r.Get("/tasks/{id}", taskHandler.GetTask)
		r.Post("/tasks/{id}/requeue", taskHandler.RequeueTask)
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}
