package server

import (
	"encoding/json"
	"net/http"

	"github.com/datalupa/perfilador/internal/common"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Pipeline stages
	mux.HandleFunc("/v2/serper", s.app.PipelineHandler.Serper)
	mux.HandleFunc("/v2/encontrar_site", s.app.PipelineHandler.EncontrarSite)
	mux.HandleFunc("/v2/scrape", s.app.PipelineHandler.Scrape)
	mux.HandleFunc("/v2/montagem_perfil", s.app.PipelineHandler.MontagemPerfil)

	// Discovery queue
	mux.HandleFunc("/v2/queue_discovery/enqueue", s.app.DiscoveryQueueHandler.Enqueue)
	mux.HandleFunc("/v2/queue_discovery/enqueue_batch", s.app.DiscoveryQueueHandler.EnqueueBatch)
	mux.HandleFunc("/v2/queue_discovery/metrics", s.app.DiscoveryQueueHandler.Metrics)

	// Profile queue
	mux.HandleFunc("/v2/queue_profile/enqueue", s.app.ProfileQueueHandler.Enqueue)
	mux.HandleFunc("/v2/queue_profile/enqueue_batch", s.app.ProfileQueueHandler.EnqueueBatch)
	mux.HandleFunc("/v2/queue_profile/metrics", s.app.ProfileQueueHandler.Metrics)

	// System
	mux.HandleFunc("/v2/", s.endpointIndexHandler)
	mux.HandleFunc("/health", s.healthHandler)

	return mux
}

// healthHandler reports liveness plus a database ping.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbStatus := "ok"
	code := http.StatusOK

	if err := s.app.DB.PingContext(r.Context()); err != nil {
		status = "degraded"
		dbStatus = err.Error()
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   status,
		"service":  "perfilador",
		"version":  common.GetVersion(),
		"database": dbStatus,
	})
}

// endpointIndexHandler lists the v2 surface for anyone poking the API root.
func (s *Server) endpointIndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v2/" && r.URL.Path != "/v2" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"service": "perfilador",
		"version": common.GetVersion(),
		"endpoints": []string{
			"POST /v2/serper",
			"POST /v2/encontrar_site",
			"POST /v2/scrape",
			"POST /v2/montagem_perfil",
			"POST /v2/queue_discovery/enqueue",
			"POST /v2/queue_discovery/enqueue_batch",
			"GET /v2/queue_discovery/metrics",
			"POST /v2/queue_profile/enqueue",
			"POST /v2/queue_profile/enqueue_batch",
			"GET /v2/queue_profile/metrics",
			"GET /health",
		},
	})
}
