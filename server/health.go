package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/webitel/actorbridge/registry"
)

// healthPayload is the health endpoint's response shape.
type healthPayload struct {
	Status        registry.Health `json:"status"`
	InflightCount int64           `json:"inflightCount"`
}

// HealthHandler serves the health and debug endpoints over chi.
func HealthHandler(srv *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		h := srv.life.Health()
		payload := healthPayload{Status: h, InflightCount: srv.life.InFlight()}

		w.Header().Set("Content-Type", "application/json")
		if h != registry.HealthHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(payload)
	})

	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		stats := struct {
			registry.Stats
			Sessions int `json:"sessions"`
			Pending  int `json:"pending"`
		}{
			Stats:    srv.registry.Stats(srv.life),
			Sessions: srv.SessionCount(),
			Pending:  srv.disp.PendingCount(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	})

	return r
}
