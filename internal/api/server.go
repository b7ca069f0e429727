package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mysqlbouncer/mysqlbouncer/internal/backend"
	"github.com/mysqlbouncer/mysqlbouncer/internal/config"
	"github.com/mysqlbouncer/mysqlbouncer/internal/health"
	"github.com/mysqlbouncer/mysqlbouncer/internal/idlecache"
	"github.com/mysqlbouncer/mysqlbouncer/internal/metrics"
)

// Server is the admin REST API and Prometheus metrics server.
type Server struct {
	registry    *backend.Registry
	cache       *idlecache.Cache
	healthCheck *health.Checker
	metrics     *metrics.Collector
	httpServer  *http.Server
	startTime   time.Time
	listenCfg   config.ListenConfig
	defaults    config.PoolDefaults
}

// NewServer creates a new admin API server.
func NewServer(r *backend.Registry, c *idlecache.Cache, hc *health.Checker, m *metrics.Collector, lc config.ListenConfig, defaults config.PoolDefaults) *Server {
	return &Server{
		registry:    r,
		cache:       c,
		healthCheck: hc,
		metrics:     m,
		startTime:   time.Now(),
		listenCfg:   lc,
		defaults:    defaults,
	}
}

// apiKeyMiddleware rejects requests missing the configured bearer key,
// when one is configured. The dashboard and /metrics stay open since
// they're typically reached only from an already-trusted admin network.
func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.listenCfg.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+s.listenCfg.APIKey {
			writeError(w, http.StatusUnauthorized, "missing or invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start starts the HTTP API server on addr.
func (s *Server) Start(addr string) error {
	r := mux.NewRouter()
	admin := r.PathPrefix("").Subrouter()
	admin.Use(s.apiKeyMiddleware)

	// Backend CRUD
	admin.HandleFunc("/backends", s.listBackends).Methods("GET")
	admin.HandleFunc("/backends", s.createBackend).Methods("POST")
	admin.HandleFunc("/backends/{addr}", s.getBackend).Methods("GET")
	admin.HandleFunc("/backends/{addr}", s.deleteBackend).Methods("DELETE")
	admin.HandleFunc("/backends/{addr}/pause", s.pauseBackend).Methods("POST")
	admin.HandleFunc("/backends/{addr}/resume", s.resumeBackend).Methods("POST")

	// Server status & config
	admin.HandleFunc("/status", s.statusHandler).Methods("GET")
	admin.HandleFunc("/config", s.configHandler).Methods("GET")

	// Health & readiness
	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.HandleFunc("/ready", s.readyHandler).Methods("GET")

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// Admin dashboard, served at exactly "/" and "/dashboard"
	r.HandleFunc("/", s.dashboardHandler).Methods("GET")
	r.HandleFunc("/dashboard", s.dashboardHandler).Methods("GET")

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	slog.Info("api listening", "addr", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("api server error", "err", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// --- Backend handlers ---

type backendRequest struct {
	Addr string `json:"addr"`
	Role string `json:"role"`
}

type backendResponse struct {
	Addr            string `json:"addr"`
	Role            string `json:"role"`
	State           string `json:"state"`
	StateSince      string `json:"state_since"`
	ConnectedClients int64  `json:"connected_clients"`
	IdleCached      int    `json:"idle_cached"`
	Paused          bool   `json:"paused"`
}

func (s *Server) toResponse(b *backend.Backend) backendResponse {
	return backendResponse{
		Addr:             b.Addr,
		Role:             b.Role.String(),
		State:            b.State().String(),
		StateSince:       b.StateSince().Format(time.RFC3339),
		ConnectedClients: b.ConnectedClients(),
		IdleCached:       s.cache.Count(b.Addr),
		Paused:           b.Paused(),
	}
}

func (s *Server) listBackends(w http.ResponseWriter, r *http.Request) {
	backends := s.registry.List()
	result := make([]backendResponse, 0, len(backends))
	for _, b := range backends {
		result = append(result, s.toResponse(b))
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) createBackend(w http.ResponseWriter, r *http.Request) {
	var req backendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Addr == "" {
		writeError(w, http.StatusBadRequest, "addr is required")
		return
	}

	var role backend.Role
	switch req.Role {
	case "rw":
		role = backend.RoleReadWrite
	case "ro":
		role = backend.RoleReadOnly
	default:
		writeError(w, http.StatusBadRequest, "role must be \"rw\" or \"ro\"")
		return
	}

	b, err := s.registry.Add(req.Addr, role)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	slog.Info("backend registered", "addr", req.Addr, "role", req.Role)
	writeJSON(w, http.StatusCreated, s.toResponse(b))
}

func (s *Server) getBackend(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["addr"]
	b, ok := s.registry.Get(addr)
	if !ok {
		writeError(w, http.StatusNotFound, "backend not found")
		return
	}
	writeJSON(w, http.StatusOK, s.toResponse(b))
}

func (s *Server) deleteBackend(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["addr"]
	if err := s.registry.Remove(addr); err != nil {
		writeError(w, http.StatusNotFound, "backend not found")
		return
	}
	if s.metrics != nil {
		s.metrics.RemoveBackend(addr)
	}

	slog.Info("backend removed", "addr", addr)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "backend": addr})
}

func (s *Server) pauseBackend(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["addr"]
	if err := s.registry.Pause(addr); err != nil {
		writeError(w, http.StatusNotFound, "backend not found")
		return
	}
	slog.Info("backend paused", "addr", addr)
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused", "backend": addr})
}

func (s *Server) resumeBackend(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["addr"]
	if err := s.registry.Resume(addr); err != nil {
		writeError(w, http.StatusNotFound, "backend not found")
		return
	}
	slog.Info("backend resumed", "addr", addr)
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed", "backend": addr})
}

// --- Health handlers ---

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	backends := s.registry.List()
	statuses := make(map[string]string, len(backends))
	allHealthy := true
	for _, b := range backends {
		statuses[b.Addr] = b.State().String()
		if b.State() != backend.StateUp {
			allHealthy = false
		}
	}

	status := http.StatusOK
	if !allHealthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"status":   boolToStatus(allHealthy),
		"backends": statuses,
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	backends := s.registry.List()
	if len(backends) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	for _, b := range backends {
		if b.State() == backend.StateUp {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
	}

	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}

// --- Status & config handlers ---

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	uptime := time.Since(s.startTime).Seconds()
	backends := s.registry.List()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(uptime),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
		"num_backends":   len(backends),
		"listen": map[string]string{
			"mysql_addr": s.listenCfg.MySQLAddr,
			"api_addr":   s.listenCfg.APIAddr,
		},
	})
}

func (s *Server) configHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"listen": map[string]string{
			"mysql_addr": s.listenCfg.MySQLAddr,
			"api_addr":   s.listenCfg.APIAddr,
		},
		"defaults": map[string]interface{}{
			"max_idle_connections": s.defaults.MaxIdleConnections,
			"min_idle_connections": s.defaults.MinIdleConnections,
			"connect_timeout":      s.defaults.ConnectTimeout.String(),
			"read_timeout":         s.defaults.ReadTimeout.String(),
			"write_timeout":        s.defaults.WriteTimeout.String(),
			"duplicate_err_fatal":  s.defaults.DuplicateErrFatal,
		},
		"backend_count": len(s.registry.List()),
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func boolToStatus(b bool) string {
	if b {
		return "healthy"
	}
	return "unhealthy"
}
