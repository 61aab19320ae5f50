package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/voxelforge/fabric/pkg/metrics"
	"github.com/voxelforge/fabric/pkg/types"
)

// Backend is the controller surface the HTTP API exposes.
type Backend interface {
	Stock() map[string]uint
	Agents() []*types.Agent
	Jobs() []*types.Job
	JobHistory() (completed, failed []*types.Job)

	CreateRequest(item types.ItemKey, qty uint, deliverTo string) (*types.Request, error)
	ListRequests() ([]*types.Request, error)
	GetRequest(id string) (*types.Request, error)
	CancelRequest(id string) error

	Products() ([]*types.Product, error)
}

// ErrNotFound is returned by backends for unknown IDs; the server maps
// it to 404.
var ErrNotFound = errors.New("not found")

// ErrInvalidRequest marks malformed user input at the boundary; the
// server maps it to 400.
var ErrInvalidRequest = errors.New("invalid request")

// Server serves the JSON API, the health probe and the metrics
// endpoint.
type Server struct {
	backend Backend
	log     zerolog.Logger
	srv     *http.Server
}

// New creates a server listening on addr.
func New(addr string, backend Backend, logger zerolog.Logger) *Server {
	s := &Server{
		backend: backend,
		log:     logger.With().Str("component", "api").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/stock", s.handleStock)
		r.Get("/agents", s.handleAgents)
		r.Get("/jobs", s.handleJobs)
		r.Get("/jobs/history", s.handleJobHistory)
		r.Get("/products", s.handleProducts)

		r.Route("/requests", func(r chi.Router) {
			r.Post("/", s.handleCreateRequest)
			r.Get("/", s.handleListRequests)
			r.Get("/{id}", s.handleGetRequest)
			r.Delete("/{id}", s.handleCancelRequest)
		})
	})

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("api listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleStock(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.backend.Stock())
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.backend.Agents())
}

func (s *Server) handleJobs(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.backend.Jobs())
}

func (s *Server) handleJobHistory(w http.ResponseWriter, _ *http.Request) {
	completed, failed := s.backend.JobHistory()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"completed": completed,
		"failed":    failed,
	})
}

func (s *Server) handleProducts(w http.ResponseWriter, _ *http.Request) {
	products, err := s.backend.Products()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, products)
}

type createRequestBody struct {
	Item      string `json:"item"`
	Qty       uint   `json:"qty"`
	DeliverTo string `json:"deliverTo,omitempty"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, ErrInvalidRequest)
		return
	}
	if body.Item == "" || body.Qty == 0 {
		s.writeError(w, ErrInvalidRequest)
		return
	}
	req, err := s.backend.CreateRequest(types.ParseItemKey(body.Item), body.Qty, body.DeliverTo)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleListRequests(w http.ResponseWriter, _ *http.Request) {
	reqs, err := s.backend.ListRequests()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, reqs)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.backend.GetRequest(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.CancelRequest(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrInvalidRequest):
		status = http.StatusBadRequest
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
