package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sctennis77/zazzle-agent-sub000/internal/api"
	"github.com/sctennis77/zazzle-agent-sub000/internal/api/middleware"
	"github.com/sctennis77/zazzle-agent-sub000/internal/api/shared"
	"github.com/sctennis77/zazzle-agent-sub000/internal/ws"
)

// setupRouter assembles the HTTP routes. The task and WebSocket routes
// share the same auth middleware when a JWT secret is configured.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Trace)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		shared.RespondWithJSON(w, req, http.StatusOK, map[string]string{"status": "ok"})
	})

	taskHandler := api.NewTaskHandler(app.manager, app.logger)
	wsHandler := ws.NewHandler(app.registry, app.logger)

	r.Route("/api", func(r chi.Router) {
		if app.jwtService != nil {
			authMiddleware := middleware.NewAuthMiddleware(app.jwtService)
			r.Use(authMiddleware.Authenticate)
		}

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", taskHandler.CreateTask)
			r.Get("/", taskHandler.ListTasks)
			r.Get("/{id}", taskHandler.GetTask)
			r.Delete("/{id}", taskHandler.CancelTask)
		})

		r.Get("/ws", wsHandler.ServeHTTP)
	})

	return r
}
