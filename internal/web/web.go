package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"allrisfeed/internal/config"
	"allrisfeed/internal/enhance"
	appLog "allrisfeed/internal/log"
	"allrisfeed/internal/metrics"
)

// Enhancer runs the feed enhancement pipeline.
type Enhancer interface {
	Run(ctx context.Context, feedURL string) (enhance.Result, error)
}

// Server exposes the enhanced feed endpoint plus health and metrics.
type Server struct {
	cfg      *config.Config
	enhancer Enhancer
	policy   ResponsePolicy
	router   *mux.Router
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, enhancer Enhancer) *Server {
	s := &Server{
		cfg:      cfg,
		enhancer: enhancer,
		policy:   NewResponsePolicy(cfg.Cache),
		router:   mux.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HTTPServer wraps the handler with the configured timeouts.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
}

func (s *Server) registerRoutes() {
	s.router.Use(requestLogger, recovery)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/api/ics", s.handleICS).Methods(http.MethodGet)
	s.router.HandleFunc("/api/ics/", s.handleICS).Methods(http.MethodGet)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleICS returns the enhanced calendar for the feed in ?feedurl=.
//
// GET /api/ics?feedurl=<url-encoded feed location>
//   - 200 text/calendar with Cache-Control
//   - 400 text/plain when feedurl is missing or too short
//   - 502 JSON when the upstream feed cannot be fetched or parsed
//   - 504 JSON when the request deadline expires
//   - 500 JSON when the result would not be a valid calendar
func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	feedURL, err := enhance.ValidateFeedURL(r.URL.Query().Get("feedurl"))
	switch {
	case errors.Is(err, enhance.ErrMissingParameter):
		writeText(w, http.StatusBadRequest, enhance.MessageMissingParameter)
		return
	case errors.Is(err, enhance.ErrInvalidParameter):
		writeText(w, http.StatusBadRequest, enhance.MessageInvalidParameter)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Server.RequestTimeout)
	defer cancel()

	res, err := s.enhancer.Run(ctx, feedURL)
	if err != nil {
		status, kind := classify(err)
		appLog.Error("api ics: enhancement failed", err, "status", status, "kind", kind)
		writeError(w, status, kind, err.Error())
		return
	}

	s.policy.Apply(w.Header())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(res.Calendar)); err != nil {
		appLog.Error("api ics: failed to write response", err)
	}
}

// classify maps a pipeline error to a status code and a stable kind string.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, enhance.ErrUpstreamFetch):
		return http.StatusBadGateway, "upstream_fetch"
	case errors.Is(err, enhance.ErrFeedParse):
		return http.StatusBadGateway, "feed_parse"
	case errors.Is(err, enhance.ErrEncoding):
		return http.StatusInternalServerError, "encoding"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	type errResp struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	writeJSON(w, status, errResp{Error: msg, Kind: kind})
}
