// Package httpserver exposes the admin API, health and metrics endpoints,
// and the live findings feed.
package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gemscout/gemscout/internal/config"
	"github.com/gemscout/gemscout/internal/domain"
	"github.com/gemscout/gemscout/internal/metrics"
)

// Server is the HTTP server for the admin API.
type Server struct {
	cfg        *config.Config
	store      domain.Store
	scans      *domain.ScanService
	logger     *slog.Logger
	hub        *Hub
	httpServer *http.Server
}

// NewServer creates the HTTP server. The metrics argument may be nil, in
// which case the /metrics endpoint serves an empty registry.
func NewServer(cfg *config.Config, store domain.Store, scans *domain.ScanService, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		store:  store,
		scans:  scans,
		logger: logger,
		hub:    NewHub(logger),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/searches", s.handleListSearches)
	mux.HandleFunc("POST /api/searches", s.handleCreateSearch)
	mux.HandleFunc("PUT /api/searches/{id}", s.handleUpdateSearch)
	mux.HandleFunc("DELETE /api/searches/{id}", s.handleDeleteSearch)
	mux.HandleFunc("POST /api/searches/{id}/trigger", s.handleTriggerSearch)
	mux.HandleFunc("GET /api/findings", s.handleListFindings)
	mux.HandleFunc("DELETE /api/findings/{id}", s.handleDeleteFinding)
	mux.HandleFunc("POST /api/analyze-listing", s.handleAnalyzeListing)
	mux.HandleFunc("GET /api/manual-scans", s.handleListManualScans)
	mux.HandleFunc("DELETE /api/manual-scans/{id}", s.handleDeleteManualScan)
	mux.HandleFunc("GET /ws/findings", s.hub.handleSubscribe)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registryOf(m), promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      withLogging(logger, mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // analyze-listing waits on a slow vision call
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Hub returns the live findings broadcaster so the caller can register it
// with the scan service.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server and disconnects live feed
// subscribers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSearches(w http.ResponseWriter, r *http.Request) {
	defs, err := s.store.ListSearches(r.Context(), false)
	if err != nil {
		s.logger.Error("list searches", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to list searches")
		return
	}
	resp := make([]searchResponse, len(defs))
	for i := range defs {
		resp[i] = toSearchResponse(&defs[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

type searchRequest struct {
	SearchURL           string `json:"search_url"`
	Label               string `json:"label"`
	ScanIntervalHours   int    `json:"scan_interval_hours"`
	ConfidenceThreshold int    `json:"confidence_threshold"`
	Active              *bool  `json:"active"`
}

func (req *searchRequest) validate() error {
	if req.SearchURL == "" {
		return fmt.Errorf("search_url is required")
	}
	if req.Label == "" {
		return fmt.Errorf("label is required")
	}
	if req.ScanIntervalHours < 1 {
		return fmt.Errorf("scan_interval_hours must be at least 1")
	}
	if req.ConfidenceThreshold < 0 || req.ConfidenceThreshold > 100 {
		return fmt.Errorf("confidence_threshold must be between 0 and 100")
	}
	return nil
}

func (s *Server) handleCreateSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "invalid JSON body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}

	def := &domain.SearchDefinition{
		SearchURL:           req.SearchURL,
		Label:               req.Label,
		ScanIntervalHours:   req.ScanIntervalHours,
		ConfidenceThreshold: req.ConfidenceThreshold,
		Active:              true,
	}
	if req.Active != nil {
		def.Active = *req.Active
	}
	if err := s.store.CreateSearch(r.Context(), def); err != nil {
		s.logger.Error("create search", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to create search")
		return
	}

	s.logger.Info("search created", "id", def.ID, "label", def.Label)
	writeJSON(w, http.StatusCreated, toSearchResponse(def))
}

func (s *Server) handleUpdateSearch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	def, err := s.store.GetSearch(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrSearchNotFound) {
			writeError(w, http.StatusNotFound, "NotFound", "search not found")
			return
		}
		s.logger.Error("get search", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to load search")
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "invalid JSON body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}

	def.SearchURL = req.SearchURL
	def.Label = req.Label
	def.ScanIntervalHours = req.ScanIntervalHours
	def.ConfidenceThreshold = req.ConfidenceThreshold
	if req.Active != nil {
		def.Active = *req.Active
	}
	if err := s.store.UpdateSearch(r.Context(), def); err != nil {
		s.logger.Error("update search", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to update search")
		return
	}

	writeJSON(w, http.StatusOK, toSearchResponse(def))
}

func (s *Server) handleDeleteSearch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deleted, err := s.store.DeleteSearch(r.Context(), id)
	if err != nil {
		s.logger.Error("delete search", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to delete search")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "NotFound", "search not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTriggerSearch starts a scan for one definition and returns
// immediately; the scan outcome lands in findings and logs. It does not
// consult the scheduler's cycle flag.
func (s *Server) handleTriggerSearch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetSearch(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrSearchNotFound) {
			writeError(w, http.StatusNotFound, "NotFound", "search not found")
			return
		}
		s.logger.Error("get search", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to load search")
		return
	}

	s.logger.Info("manual scan triggered", "search_id", id)
	go func() {
		if _, err := s.scans.TriggerSearch(context.Background(), id); err != nil {
			s.logger.Error("triggered scan failed", "search_id", id, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scan started"})
}

func (s *Server) handleListFindings(w http.ResponseWriter, r *http.Request) {
	findings, err := s.store.ListFindings(r.Context(), time.Now())
	if err != nil {
		s.logger.Error("list findings", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to list findings")
		return
	}
	resp := make([]findingResponse, len(findings))
	for i := range findings {
		resp[i] = toFindingResponse(&findings[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteFinding(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deleted, err := s.store.DeleteFinding(r.Context(), id)
	if err != nil {
		s.logger.Error("delete finding", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to delete finding")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "NotFound", "finding not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAnalyzeListing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "url is required")
		return
	}

	scan, err := s.scans.ScanListing(r.Context(), req.URL)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidListingURL):
			writeError(w, http.StatusBadRequest, "InvalidRequest", "URL does not contain a listing identifier")
		case errors.Is(err, domain.ErrListingNotFound):
			writeError(w, http.StatusNotFound, "NotFound", "listing could not be fetched")
		case errors.Is(err, domain.ErrClassifierDisabled):
			writeError(w, http.StatusServiceUnavailable, "ClassifierDisabled", "vision classifier is not configured")
		default:
			s.logger.Error("analyze listing", "url", req.URL, "error", err)
			writeError(w, http.StatusInternalServerError, "InternalError", "analysis failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, toManualScanResponse(scan))
}

func (s *Server) handleListManualScans(w http.ResponseWriter, r *http.Request) {
	scans, err := s.store.ListManualScans(r.Context())
	if err != nil {
		s.logger.Error("list manual scans", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to list manual scans")
		return
	}
	resp := make([]manualScanResponse, len(scans))
	for i := range scans {
		resp[i] = toManualScanResponse(&scans[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteManualScan(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deleted, err := s.store.DeleteManualScan(r.Context(), id)
	if err != nil {
		s.logger.Error("delete manual scan", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to delete manual scan")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "NotFound", "manual scan not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{
		"error":   errType,
		"message": message,
	})
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack is required for the websocket upgrade to work through the logging
// wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func registryOf(m *metrics.Metrics) *prometheus.Registry {
	if m != nil {
		return m.Registry
	}
	return prometheus.NewRegistry()
}
