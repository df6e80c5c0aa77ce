package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nzconn/nzgo/internal/config"
	"github.com/nzconn/nzgo/internal/health"
	"github.com/nzconn/nzgo/internal/metrics"
	"github.com/nzconn/nzgo/internal/pool"
	"github.com/nzconn/nzgo/internal/router"
)

// Server is the read-only status/metrics/dashboard HTTP server for a
// running driver process. Unlike the tenant-CRUD admin API it is grounded
// on, this server never mutates profile configuration — a client driver
// has no proxy frontend to reconfigure, only profiles to report on.
type Server struct {
	router      *router.Router
	poolMgr     *pool.Manager
	healthCheck *health.Checker
	metrics     *metrics.Collector
	httpServer  *http.Server
	startTime   time.Time
	apiCfg      config.APIConfig
}

// NewServer creates a new API server.
func NewServer(r *router.Router, pm *pool.Manager, hc *health.Checker, m *metrics.Collector, apiCfg config.APIConfig) *Server {
	return &Server{
		router:      r,
		poolMgr:     pm,
		healthCheck: hc,
		metrics:     m,
		startTime:   time.Now(),
		apiCfg:      apiCfg,
	}
}

// Start starts the HTTP API server.
func (s *Server) Start(port int) error {
	r := mux.NewRouter()

	r.HandleFunc("/profiles", s.listProfiles).Methods("GET")
	r.HandleFunc("/profiles/{name}", s.getProfile).Methods("GET")
	r.HandleFunc("/profiles/{name}/stats", s.profileStats).Methods("GET")
	r.HandleFunc("/profiles/{name}/drain", s.drainProfile).Methods("POST")
	r.HandleFunc("/profiles/{name}/pause", s.pauseProfile).Methods("POST")
	r.HandleFunc("/profiles/{name}/resume", s.resumeProfile).Methods("POST")

	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/config", s.configHandler).Methods("GET")

	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.HandleFunc("/ready", s.readyHandler).Methods("GET")

	r.Handle("/metrics", promhttp.Handler())

	// Admin dashboard, served at exactly "/" and "/dashboard"
	r.HandleFunc("/", s.dashboardHandler).Methods("GET")
	r.HandleFunc("/dashboard", s.dashboardHandler).Methods("GET")

	bind := s.apiCfg.Bind
	if bind == "" {
		bind = "0.0.0.0"
	}
	addr := fmt.Sprintf("%s:%d", bind, port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Printf("[api] status server listening on %s", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// --- Profile handlers ---

type profileResponse struct {
	Name   string             `json:"name"`
	Host   string             `json:"host"`
	Port   int                `json:"port"`
	Config config.ProfileConfig `json:"config"`
	Stats  *pool.Stats        `json:"stats,omitempty"`
	Health *health.ProfileHealth `json:"health,omitempty"`
	Paused bool               `json:"paused"`
}

func (s *Server) buildProfileResponse(name string, p config.ProfileConfig) profileResponse {
	pr := profileResponse{
		Name:   name,
		Host:   p.Host,
		Port:   p.Port,
		Config: p.Redacted(),
		Paused: s.router.IsPaused(name),
	}
	if s.poolMgr != nil {
		if stats, ok := s.poolMgr.ProfileStats(name); ok {
			pr.Stats = &stats
		}
	}
	if s.healthCheck != nil {
		h := s.healthCheck.GetStatus(name)
		pr.Health = &h
	}
	return pr
}

func (s *Server) listProfiles(w http.ResponseWriter, r *http.Request) {
	profiles := s.router.List()

	result := make([]profileResponse, 0, len(profiles))
	for name, p := range profiles {
		result = append(result, s.buildProfileResponse(name, p))
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	p, err := s.router.Resolve(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}

	writeJSON(w, http.StatusOK, s.buildProfileResponse(name, p))
}

func (s *Server) profileStats(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if _, err := s.router.Resolve(name); err != nil {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}

	if s.poolMgr == nil {
		writeJSON(w, http.StatusOK, pool.Stats{Profile: name})
		return
	}

	stats, ok := s.poolMgr.ProfileStats(name)
	if !ok {
		stats = pool.Stats{Profile: name}
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) drainProfile(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if s.poolMgr == nil || !s.poolMgr.DrainProfile(name) {
		writeError(w, http.StatusNotFound, "profile not found or no active pool")
		return
	}

	log.Printf("[api] profile %s drained", name)
	writeJSON(w, http.StatusOK, map[string]string{"status": "drained", "profile": name})
}

func (s *Server) pauseProfile(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if !s.router.Pause(name) {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}

	log.Printf("[api] profile %s paused", name)
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused", "profile": name})
}

func (s *Server) resumeProfile(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if !s.router.Resume(name) {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}

	log.Printf("[api] profile %s resumed", name)
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed", "profile": name})
}

// --- Health handlers ---

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.healthCheck == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "healthy", "profiles": map[string]any{}})
		return
	}

	statuses := s.healthCheck.GetAllStatuses()
	allHealthy := s.healthCheck.OverallHealthy()

	status := http.StatusOK
	if !allHealthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"status":   boolToStatus(allHealthy),
		"profiles": statuses,
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	profiles := s.router.List()
	if len(profiles) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	if s.healthCheck == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	for name := range profiles {
		if s.healthCheck.IsHealthy(name) {
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
	profiles := s.router.List()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(uptime),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
		"num_profiles":   len(profiles),
		"api_port":       s.apiCfg.Port,
	})
}

func (s *Server) configHandler(w http.ResponseWriter, r *http.Request) {
	defaults := s.router.Defaults()
	profiles := s.router.List()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"api_port": s.apiCfg.Port,
		"defaults": map[string]interface{}{
			"min_connections": defaults.MinConnections,
			"max_connections": defaults.MaxConnections,
			"idle_timeout":    defaults.IdleTimeout.String(),
			"max_lifetime":    defaults.MaxLifetime.String(),
			"acquire_timeout": defaults.AcquireTimeout.String(),
			"health_interval": defaults.HealthInterval.String(),
		},
		"profile_count": len(profiles),
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
