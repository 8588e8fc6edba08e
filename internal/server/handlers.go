package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rickgao/msgrouter/internal/version"
)

// healthResponse is the body of the health endpoint.
type healthResponse struct {
	Status      string         `json:"status"`
	Instance    string         `json:"instance,omitempty"`
	Version     string         `json:"version"`
	Connections int            `json:"connections"`
	Components  map[string]any `json:"components"`
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := healthResponse{
		Status:      "healthy",
		Instance:    s.cfg.InstanceID,
		Version:     version.Get().Version,
		Connections: s.ConnectionCount(),
		Components:  make(map[string]any),
	}

	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components[name] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
			continue
		}
		health.Components[name] = "connected"
	}

	s.mu.Lock()
	stopping := s.closed
	s.mu.Unlock()
	if stopping {
		health.Status = "stopping"
	}

	w.Header().Set("Content-Type", "application/json")
	if health.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(health)
}

func (s *Server) serveStats(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"router":      s.router.Stats(),
		"connections": s.Connections(),
	}
	for name, fn := range s.stats {
		body[name] = fn()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}
