package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/cxrgraph/cxrgraph-api/internal/database"
	"github.com/cxrgraph/cxrgraph-api/internal/database/models"
	"github.com/cxrgraph/cxrgraph-api/internal/domain/repository"
	"github.com/cxrgraph/cxrgraph-api/internal/logging"
	"github.com/cxrgraph/cxrgraph-api/internal/usecase/query"
)

var logger = logging.Component("Server")

// Answerer answers questions about a query image.
type Answerer interface {
	Stream(ctx context.Context, imagePath, question string, stream chan<- query.Event)
	Retrieve(ctx context.Context, imagePath string, topK int) (*query.Result, error)
}

// ContextEngine retrieves context for an already embedded query.
type ContextEngine interface {
	AnswerContext(ctx context.Context, vec []float32, topK int) (*query.Result, error)
}

// Server holds the dependencies for the HTTP API server
type Server struct {
	answerer Answerer
	engine   ContextEngine
	ledger   database.LedgerRepository
}

// NewServer initializes a new API server. ledger may be nil.
func NewServer(answerer Answerer, engine ContextEngine, ledger database.LedgerRepository) *Server {
	return &Server{
		answerer: answerer,
		engine:   engine,
		ledger:   ledger,
	}
}

// RegisterRoutes registers all API endpoints with a new ServeMux
func (s *Server) RegisterRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/query", s.handleQuery)
	mux.HandleFunc("POST /api/v1/context", s.handleContext)
	mux.HandleFunc("GET /api/v1/ingest/runs/latest", s.handleLatestRun)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return mux
}

type QueryRequest struct {
	ImagePath string `json:"image_path"`
	Question  string `json:"question"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	if req.ImagePath == "" || req.Question == "" {
		http.Error(w, "image_path and question fields are required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Set headers for Server-Sent Events (SSE)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	eventStream := make(chan query.Event)
	go s.answerer.Stream(r.Context(), req.ImagePath, req.Question, eventStream)

	for event := range eventStream {
		data, err := json.Marshal(event)
		if err != nil {
			logger.Error("failed to marshal event", "err", err)
			continue
		}

		_, _ = fmt.Fprintf(w, "data: %s\n\n", string(data))
		flusher.Flush()
	}
}

type ContextRequest struct {
	ImagePath string    `json:"image_path,omitempty"`
	Vector    []float32 `json:"vector,omitempty"`
	TopK      int       `json:"top_k,omitempty"`
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	var req ContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if (req.ImagePath == "") == (len(req.Vector) == 0) {
		http.Error(w, "exactly one of image_path or vector is required", http.StatusBadRequest)
		return
	}
	if req.TopK < 0 {
		http.Error(w, "top_k must not be negative", http.StatusBadRequest)
		return
	}

	var (
		res *query.Result
		err error
	)
	if len(req.Vector) > 0 {
		res, err = s.engine.AnswerContext(r.Context(), req.Vector, req.TopK)
	} else {
		res, err = s.answerer.Retrieve(r.Context(), req.ImagePath, req.TopK)
	}
	if err != nil {
		logger.Error("context retrieval failed", "err", err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, res)
}

type LatestRunResponse struct {
	Run   *models.IngestRun    `json:"run"`
	Items []*models.IngestItem `json:"items"`
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		http.Error(w, "ingest ledger not configured", http.StatusServiceUnavailable)
		return
	}

	run, err := s.ledger.LatestRun(r.Context())
	if errors.Is(err, database.ErrNotFound) {
		http.Error(w, "no ingest runs recorded", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Error("failed to load latest run", "err", err)
		http.Error(w, "failed to load latest run", http.StatusInternalServerError)
		return
	}

	items, err := s.ledger.ListItems(r.Context(), run.ID)
	if err != nil {
		logger.Error("failed to load run items", "run", run.ID, "err", err)
		http.Error(w, "failed to load run items", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, LatestRunResponse{Run: run, Items: items})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrFeatureUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, repository.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "err", err)
	}
}
