package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/docsage-api/internal/api"
	apiMiddleware "github.com/phrazzld/docsage-api/internal/api/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware(app.logger))
	r.Use(apiMiddleware.Metrics)

	authMiddleware := apiMiddleware.NewAuthMiddleware(app.jwtService)
	contentHandler := api.NewContentHandler(app.contents, app.config.Server.MaxUploadBytes)
	taskHandler := api.NewTaskHandler(app.orchestrator)
	wsHandler := api.NewWSHandler(app.hub, api.WSConfig{
		PingInterval: time.Duration(app.config.Hub.PingIntervalSeconds) * time.Second,
		PongWait:     time.Duration(app.config.Hub.PongWaitSeconds) * time.Second,
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		r.Post("/contents", contentHandler.Upload)
		r.Get("/contents", contentHandler.ListContents)
		r.Get("/contents/{id}", contentHandler.GetContent)
		r.Get("/contents/{id}/download", contentHandler.DownloadContent)
		r.Delete("/contents/{id}", contentHandler.DeleteContent)

		r.Post("/tasks", taskHandler.CreateTask)
		r.Get("/tasks", taskHandler.ListTasks)
		r.Get("/tasks/stats", taskHandler.GetStats)
		r.Get("/tasks/{id}", taskHandler.GetTask)
		r.Post("/tasks/{id}/cancel", taskHandler.CancelTask)
	})

	r.With(authMiddleware.AuthenticateQuery).Get("/ws/tasks", wsHandler.Stream)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}
