// Package server provides the HTTP REST API for a running Muninn engine.
//
// The API is small and local-first: record observations, list due concepts,
// inspect a concept, read engine stats. Optional basic auth compares
// against a bcrypt hash — no plaintext password ever lives in config.
//
// Endpoints:
//
//	POST /observations     record one observation batch
//	GET  /due?limit=N      concepts due for review, most forgotten first
//	GET  /concepts/{label} one concept by label
//	GET  /stats            graph summary plus server counters
//	GET  /health           liveness probe (never authenticated)
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/orneryd/muninn/pkg/ingest"
	"github.com/orneryd/muninn/pkg/muninn"
	"github.com/orneryd/muninn/pkg/store"
)

// ErrServerClosed is returned by Start after Stop.
var ErrServerClosed = fmt.Errorf("server closed")

// Config holds HTTP server configuration.
type Config struct {
	// Address to bind to (default: "127.0.0.1")
	Address string
	// Port to listen on (default: 7600)
	Port int
	// ReadTimeout for requests
	ReadTimeout time.Duration
	// WriteTimeout for responses
	WriteTimeout time.Duration
	// IdleTimeout for keep-alive connections
	IdleTimeout time.Duration
	// AuthUsername and AuthPasswordHash enable basic auth when both set.
	AuthUsername string
	// AuthPasswordHash is a bcrypt hash of the password.
	AuthPasswordHash string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:      "127.0.0.1",
		Port:         7600,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// Server serves the Muninn HTTP API.
type Server struct {
	config  *Config
	tracker *muninn.Tracker

	listener   net.Listener
	httpServer *http.Server
	started    time.Time
	closed     atomic.Bool

	requestCount atomic.Int64
	errorCount   atomic.Int64
}

// New creates a server around a Tracker. A nil config uses DefaultConfig().
func New(tracker *muninn.Tracker, config *Config) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if tracker == nil {
		return nil, fmt.Errorf("tracker required")
	}
	return &Server{config: config, tracker: tracker}, nil
}

// Start begins listening for HTTP connections. Non-blocking.
func (s *Server) Start() error {
	if s.closed.Load() {
		return ErrServerClosed
	}

	addr := fmt.Sprintf("%s:%d", s.config.Address, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.started = time.Now()

	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			fmt.Printf("HTTP server error: %v\n", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/observations", s.withAuth(s.handleObservations))
	mux.HandleFunc("/due", s.withAuth(s.handleDue))
	mux.HandleFunc("/concepts/", s.withAuth(s.handleConcept))
	mux.HandleFunc("/stats", s.withAuth(s.handleStats))
	mux.HandleFunc("/health", s.handleHealth)

	return s.countRequests(mux)
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requestCount.Add(1)
		next.ServeHTTP(w, r)
	})
}

// withAuth enforces basic auth when configured. The password check is a
// bcrypt comparison, so timing does not leak prefix matches.
func (s *Server) withAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.AuthUsername == "" {
			handler(w, r)
			return
		}

		username, password, ok := r.BasicAuth()
		if !ok || username != s.config.AuthUsername {
			s.unauthorized(w)
			return
		}
		if err := bcrypt.CompareHashAndPassword(
			[]byte(s.config.AuthPasswordHash), []byte(password)); err != nil {
			s.unauthorized(w)
			return
		}
		handler(w, r)
	}
}

func (s *Server) unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="muninn"`)
	s.writeError(w, http.StatusUnauthorized, "unauthorized")
}

func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var obs ingest.Observation
	if err := json.NewDecoder(r.Body).Decode(&obs); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid observation: %v", err))
		return
	}

	result := s.tracker.RecordObservation(r.Context(), obs)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"concepts":         conceptResults(result),
		"links_created":    result.LinksCreated,
		"embedding_failed": result.EmbeddingFailed,
	})
}

type conceptResult struct {
	ID          string  `json:"id"`
	Label       string  `json:"label"`
	MemoryScore float64 `json:"memory_score"`
	Quality     float64 `json:"quality"`
	NextReview  string  `json:"next_review"`
	Degraded    bool    `json:"degraded,omitempty"`
}

func conceptResults(result *ingest.Result) []conceptResult {
	out := make([]conceptResult, 0, len(result.Concepts))
	for _, c := range result.Concepts {
		out = append(out, conceptResult{
			ID:          c.ID,
			Label:       c.Label,
			MemoryScore: c.MemoryScore,
			Quality:     c.Quality,
			NextReview:  c.NextReviewAt.Format(time.RFC3339),
			Degraded:    c.Degraded,
		})
	}
	return out
}

func (s *Server) handleDue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	due, err := s.tracker.DueConcepts(limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"due": dueEntries(due)})
}

type dueEntry struct {
	ID          string  `json:"id"`
	Label       string  `json:"label"`
	MemoryScore float64 `json:"memory_score"`
	NextReview  string  `json:"next_review"`
}

func dueEntries(nodes []*store.ConceptNode) []dueEntry {
	out := make([]dueEntry, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, dueEntry{
			ID:          n.ID,
			Label:       n.CanonicalLabel,
			MemoryScore: n.MemoryScore,
			NextReview:  n.NextReviewAt.Format(time.RFC3339),
		})
	}
	return out
}

func (s *Server) handleConcept(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	label := strings.TrimPrefix(r.URL.Path, "/concepts/")
	if label == "" {
		s.writeError(w, http.StatusBadRequest, "concept label required")
		return
	}

	node, err := s.tracker.Get(label)
	if err != nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("concept %q not found", label))
		return
	}

	neighbors, err := s.tracker.Store().Neighbors(label)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	related := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		related = append(related, n.ID)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"concept": node,
		"related": related,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stats, err := s.tracker.Stats()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"graph": stats,
		"server": map[string]any{
			"uptime_seconds": int64(time.Since(s.started).Seconds()),
			"requests":       s.requestCount.Load(),
			"errors":         s.errorCount.Load(),
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.errorCount.Add(1)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.errorCount.Add(1)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
