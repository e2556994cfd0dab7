package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"go-appraiser/internal/config"
	"go-appraiser/pkg/models"
)

// ResultStore is the slice of the datastore the batch runner needs.
type ResultStore interface {
	SaveResult(ctx context.Context, result models.AppraisalResult) error
}

// Server exposes the processing API and the static front end. One batch runs
// at a time; a second process request is rejected until the first finishes.
type Server struct {
	cfg   *config.Config
	store ResultStore

	processing atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc

	// runBatch is swapped out in tests to avoid launching a browser.
	runBatch func(ctx context.Context, rows []models.RowItem, stream *Stream)

	staticDir string
}

func New(cfg *config.Config, store ResultStore) *Server {
	s := &Server{
		cfg:       cfg,
		store:     store,
		staticDir: "web",
	}
	s.runBatch = s.processBatch
	return s
}

// Router wires the HTTP surface: the JSON API plus the static front end.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Post("/api/process", s.handleProcess)
	r.Post("/api/stop", s.handleStop)
	r.Get("/api/status", s.handleStatus)

	r.Handle("/*", http.FileServer(http.Dir(s.staticDir)))
	return r
}

type processRequest struct {
	ValidRows []models.RowItem `json:"valid_rows"`
}

// handleProcess starts a batch and streams its events back on the same
// response. The connection stays open for the life of the batch.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if !s.processing.CompareAndSwap(false, true) {
		http.Error(w, `{"error":"processing already in progress"}`, http.StatusConflict)
		return
	}
	defer s.processing.Store(false)

	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	// The batch outlives request cancellation only via explicit stop; tie it
	// to the request context so a dropped connection also ends the run.
	ctx, cancel := context.WithCancel(r.Context())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}()

	stream := NewStream(w)

	if len(req.ValidRows) == 0 {
		stream.Error("no valid rows to process")
		return
	}

	zap.L().Info("batch started", zap.Int("rows", len(req.ValidRows)))
	s.runBatch(ctx, req.ValidRows, stream)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		zap.L().Info("stop requested")
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "stopping"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{
		"is_processing": s.processing.Load(),
	})
}
