package controlplane

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fentz26/murmur/internal/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Server provides the HTTP API for Murmur.
type Server struct {
	service  *Service
	addr     string
	server   *http.Server
	registry *prometheus.Registry

	// shutdownFn, when set, is invoked after a POST /shutdown response
	// is written.
	shutdownFn func()
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, addr string, registry *prometheus.Registry) *Server {
	return &Server{
		service:  service,
		addr:     addr,
		registry: registry,
	}
}

// SetShutdownFunc wires the daemon's graceful-stop trigger to the
// /shutdown endpoint.
func (s *Server) SetShutdownFunc(fn func()) {
	s.shutdownFn = fn
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/scan", s.handleScan)
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/shutdown", s.handleShutdown)

	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	log.Printf("Starting Murmur control plane on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// HealthResponse is the payload of GET /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	State   string `json:"state"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		OK:      true,
		DB:      "ok",
		State:   string(s.service.State()),
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if err := s.service.Ping(ctx); err != nil {
		resp.OK = false
		resp.DB = err.Error()
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}

// StatusResponse is the payload of GET /status.
type StatusResponse struct {
	State    models.AgentState      `json:"state"`
	Monitors []models.MonitorStatus `json:"monitors"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	monitors := s.service.Status()
	if monitors == nil {
		monitors = []models.MonitorStatus{}
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		State:    s.service.State(),
		Monitors: monitors,
	})
}

// handleHistory handles GET /history?limit=&kinds=&since=
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	var kinds []models.RecordKind
	if raw := r.URL.Query().Get("kinds"); raw != "" {
		for _, k := range strings.Split(raw, ",") {
			kinds = append(kinds, models.RecordKind(strings.TrimSpace(k)))
		}
	}

	var recs []models.HistoryRecord
	var err error
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, parseErr := time.Parse(time.RFC3339, raw)
		if parseErr != nil {
			http.Error(w, "invalid since timestamp", http.StatusBadRequest)
			return
		}
		recs, err = s.service.QueryHistory(since, kinds, limit)
	} else {
		recs, err = s.service.RecentHistory(limit)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if recs == nil {
		recs = []models.HistoryRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.service.ForceScan(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "scanning"})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(s.service.State())})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.shutdownFn == nil {
		http.Error(w, "shutdown not supported", http.StatusNotImplemented)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
	go s.shutdownFn()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
