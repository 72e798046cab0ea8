// Package readapi is the thin, read-only HTTP surface over the store that
// spec.md §1 calls "the HTTP read-API" — explicitly an external collaborator
// of the synchronization engine, kept here as the enrichment
// SPEC_FULL.md §10.6 grounds on original_source/api.py's endpoint shapes
// and the teacher's cmd/explorer/server.go routing idiom (gorilla/mux, a
// shared writeJSON helper, 404 on miss).
package readapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"lamden-indexer/internal/httpmw"
)

// Backend is the subset of the store this API reads from. It never writes.
type Backend interface {
	BlockByNumber(ctx context.Context, number int64) ([]byte, error)
	BlockByHash(ctx context.Context, hash string) ([]byte, error)
	TransactionByHash(ctx context.Context, hash string) ([]byte, error)
	StateByKey(ctx context.Context, key string) ([]byte, error)
	ContractByName(ctx context.Context, name string) ([]byte, error)
}

// Server is the read-API's HTTP handler tree.
type Server struct {
	router *mux.Router
	store  Backend
	log    *logrus.Entry
}

func New(store Backend, log *logrus.Entry) *Server {
	s := &Server{router: mux.NewRouter(), store: store, log: log.WithField("component", "readapi")}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.router.Use(httpmw.Logger(s.log))
	s.router.HandleFunc("/blocks/{number:[0-9]+}", s.handleBlockByNumber).Methods(http.MethodGet)
	s.router.HandleFunc("/blocks/hash/{hash:[0-9a-fA-F]{64}}", s.handleBlockByHash).Methods(http.MethodGet)
	s.router.HandleFunc("/tx/{hash}", s.handleTransaction).Methods(http.MethodGet)
	s.router.HandleFunc("/state/{key}", s.handleState).Methods(http.MethodGet)
	s.router.HandleFunc("/contracts/{name}", s.handleContract).Methods(http.MethodGet)
}

func (s *Server) handleBlockByNumber(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.ParseInt(mux.Vars(r)["number"], 10, 64)
	if err != nil {
		http.Error(w, "bad block number", http.StatusBadRequest)
		return
	}
	raw, storeErr := s.store.BlockByNumber(r.Context(), n)
	s.respond(w, raw, storeErr)
}

func (s *Server) handleBlockByHash(w http.ResponseWriter, r *http.Request) {
	raw, err := s.store.BlockByHash(r.Context(), mux.Vars(r)["hash"])
	s.respond(w, raw, err)
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	raw, err := s.store.TransactionByHash(r.Context(), mux.Vars(r)["hash"])
	s.respond(w, raw, err)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	raw, err := s.store.StateByKey(r.Context(), mux.Vars(r)["key"])
	s.respond(w, raw, err)
}

func (s *Server) handleContract(w http.ResponseWriter, r *http.Request) {
	raw, err := s.store.ContractByName(r.Context(), mux.Vars(r)["name"])
	s.respond(w, raw, err)
}

func (s *Server) respond(w http.ResponseWriter, raw []byte, err error) {
	if err != nil {
		s.log.WithError(err).Warn("read-api store error")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if raw == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(json.RawMessage(raw))
}

