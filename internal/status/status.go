// Package status is the internal operational surface: a liveness probe, a
// cursor snapshot, and the Prometheus exposition endpoint, kept on a
// separate listener from the read-API per SPEC_FULL.md §10.5 so it can be
// bound to a private address.
//
// Grounded on the teacher's habit of giving each server binary (cmd/explorer,
// cmd/dexserver) its own small handler tree; routed here with
// github.com/go-chi/chi/v5 rather than gorilla/mux, since the read-API
// already exercises mux and the domain stack wiring calls for both routers
// to have a home (SPEC_FULL.md §10.5).
package status

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"lamden-indexer/internal/config"
)

// Server is the internal status/health HTTP handler tree.
type Server struct {
	router  chi.Router
	cursors *config.Cursors
	log     *logrus.Entry
}

func New(cursors *config.Cursors, log *logrus.Entry) *Server {
	s := &Server{cursors: cursors, log: log.WithField("component", "status")}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// cursorSnapshot is the JSON body returned by /status: the four durable
// cursors spec.md §4.2 defines, read straight from the store.
type cursorSnapshot struct {
	BlockLatest      int64  `json:"block_latest"`
	SyncStart        *int64 `json:"sync_start"`
	SyncEnd          int64  `json:"sync_end"`
	GenesisProcessed bool   `json:"genesis_processed"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap, err := s.snapshot(ctx)
	if err != nil {
		s.log.WithError(err).Warn("could not read cursor snapshot")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

func (s *Server) snapshot(ctx context.Context) (cursorSnapshot, error) {
	var snap cursorSnapshot

	latest, err := s.cursors.BlockLatest(ctx)
	if err != nil {
		return snap, err
	}
	snap.BlockLatest = latest

	start, ok, err := s.cursors.SyncStart(ctx)
	if err != nil {
		return snap, err
	}
	if ok {
		snap.SyncStart = &start
	}

	end, err := s.cursors.SyncEnd(ctx)
	if err != nil {
		return snap, err
	}
	snap.SyncEnd = end

	genesisDone, err := s.cursors.GenesisProcessed(ctx)
	if err != nil {
		return snap, err
	}
	snap.GenesisProcessed = genesisDone

	return snap, nil
}
