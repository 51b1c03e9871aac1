/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/students/*       Students and their packages
  /api/lessons/*        Lesson calendar
  /api/settings/*       Defaults for new lessons
  /api/state/*          Export, import and revisions
  /api/summary          Dashboard figures
  /api/notifications/*  Toast feed
  /api/login, /api/schedule  Upstream relay (when configured)
  /healthz              Liveness
  /*                    Static files (frontend)

SECURITY NOTE:
  No authentication middleware. The ledger belongs to one tutor and is meant
  to run next to the browser that uses it.

SEE ALSO:
  - handlers.go: Handler implementations
  - proxy.go: Upstream relay
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultOrigins are allowed when no CORS origins are configured.
var DefaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured. proxy may be nil.
func NewRouter(h *Handler, proxy *Proxy, origins []string) *chi.Mux {
	if len(origins) == 0 {
		origins = DefaultOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/students", func(r chi.Router) {
			r.Get("/", h.ListStudents)
			r.Post("/", h.CreateStudent)
			r.Get("/{id}", h.GetStudent)
			r.Put("/{id}", h.UpdateStudent)
			r.Delete("/{id}", h.DeleteStudent)

			r.Post("/{id}/packages", h.CreatePackage)
			r.Put("/{id}/packages/{pid}", h.UpdatePackage)
			r.Delete("/{id}/packages/{pid}", h.DeletePackage)
			r.Post("/{id}/packages/{pid}/consume", h.ConsumeSlot)
			r.Post("/{id}/packages/{pid}/restore", h.RestoreSlot)
		})

		r.Route("/lessons", func(r chi.Router) {
			r.Get("/", h.ListLessons)
			r.Post("/", h.CreateLesson)
			r.Get("/{id}", h.GetLesson)
			r.Put("/{id}", h.UpdateLesson)
			r.Delete("/{id}", h.DeleteLesson)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", h.GetSettings)
			r.Put("/", h.UpdateSettings)
			r.Put("/price", h.UpdateLessonPrice)
		})

		r.Route("/state", func(r chi.Router) {
			r.Get("/", h.ExportState)
			r.Post("/", h.ImportState)
			r.Get("/revisions", h.ListRevisions)
			r.Post("/revisions/{rid}/restore", h.RestoreRevision)
		})

		r.Get("/summary", h.GetSummary)

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", h.ListNotifications)
			r.Delete("/{nid}", h.DismissNotification)
		})

		if proxy != nil {
			r.Post("/login", proxy.Login)
			r.Post("/schedule", proxy.Schedule)
		}
	})

	// Serve the built frontend when present; unknown paths fall back to
	// index.html for client-side routing.
	staticDir := "./web/dist"
	if _, err := os.Stat(staticDir); os.IsNotExist(err) {
		exe, _ := os.Executable()
		staticDir = filepath.Join(filepath.Dir(exe), "web", "dist")
	}

	if _, err := os.Stat(staticDir); err == nil {
		fileServer := http.FileServer(http.Dir(staticDir))
		r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
			if _, err := os.Stat(filepath.Join(staticDir, r.URL.Path)); os.IsNotExist(err) {
				http.ServeFile(w, r, filepath.Join(staticDir, "index.html"))
				return
			}
			fileServer.ServeHTTP(w, r)
		})
	}

	return r
}
