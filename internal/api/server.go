// Package api exposes the read-only HTTP interface over the ledger:
//   - GET /healthz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/ledger/stats for partition and state counts.
//   - GET /v1/records/{code} for a single ledger record.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/civicdatalab/gr-archiver/internal/ledger"
	"github.com/civicdatalab/gr-archiver/internal/metrics"
)

// Server wires HTTP handlers to the ledger store.
type Server struct {
	router chi.Router
	store  *ledger.Store
	log    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store *ledger.Store, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{store: store, log: log}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/ledger/stats", s.ledgerStats)
		r.Get("/records/{code}", s.getRecord)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ledgerStats struct {
	Records    int            `json:"records"`
	Partitions []string       `json:"partitions"`
	ByState    map[string]int `json:"by_state"`
}

func (s *Server) ledgerStats(w http.ResponseWriter, _ *http.Request) {
	stats := ledgerStats{
		Records:    s.store.Len(),
		Partitions: s.store.Partitions(),
		ByState:    make(map[string]int),
	}
	for rec := range s.store.All(nil) {
		stats.ByState[string(rec.State)]++
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	rec, err := s.store.Lookup(code)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusNotFound, "record not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
