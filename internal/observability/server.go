package observability

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxReports = 20

// RunReport is what /runs shows for one finished site run.
type RunReport struct {
	RunID      string    `json:"run_id"`
	Site       string    `json:"site"`
	Pages      int       `json:"pages"`
	Items      int       `json:"items"`
	Inserted   int       `json:"inserted"`
	Misses     int       `json:"misses"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}

// Server exposes metrics and run status while a scrape is in progress.
type Server struct {
	server *http.Server
	logger *slog.Logger

	mu      sync.RWMutex
	reports []RunReport
}

func NewServer(port string, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	s := &Server{
		logger: logger.With("component", "observability"),
	}

	s.server = &http.Server{
		Addr:         ":" + port,
		Handler:      s.routes(gatherer),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) routes(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "https://localhost:*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/runs", func(w http.ResponseWriter, r *http.Request) {
		s.respondJSON(w, http.StatusOK, s.Reports())
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves in the background. Listen errors other than a normal close
// are logged.
func (s *Server) Start() {
	go func() {
		s.logger.Info("metrics server starting", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Record keeps the newest reports, dropping the oldest past maxReports.
func (s *Server) Record(report RunReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reports = append(s.reports, report)
	if len(s.reports) > maxReports {
		s.reports = s.reports[len(s.reports)-maxReports:]
	}
}

func (s *Server) Reports() []RunReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RunReport, len(s.reports))
	copy(out, s.reports)
	return out
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}
