package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Device registry endpoints
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Get("/connected", s.handleListConnected)

			r.Route("/{key}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Post("/connect", s.handleConnectDevice)
				r.Post("/disconnect", s.handleDisconnectDevice)
				r.Post("/forget", s.handleForgetDevice)
				r.Post("/unmount", s.handleUnmountDevice)
				r.Put("/identity", s.handleSetIdentity)
			})
		})

		// In-flight operations
		r.Get("/tasks", s.handleListTasks)

		// WebSocket for registry change notifications
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"devices":   s.manager.Len(),
		"connected": s.manager.ConnectedView().Len(),
	})
}
