// Package api exposes the memory subsystem over REST for the response
// generation layer: STM reads and appends, per-turn retrieval, memory
// ingestion, and a consolidation trigger for external schedulers.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/mnemo/internal/consolidation"
	"github.com/nidhogg/mnemo/internal/ingest"
	"github.com/nidhogg/mnemo/internal/memory"
	"github.com/nidhogg/mnemo/internal/retrieval"
	"github.com/nidhogg/mnemo/internal/stm"
	"go.uber.org/zap"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	stm      *stm.Store
	pipeline *retrieval.Pipeline
	ingestor *ingest.Ingestor
	runner   *consolidation.Runner
	logger   *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(stmStore *stm.Store, pipeline *retrieval.Pipeline, ingestor *ingest.Ingestor, runner *consolidation.Runner, logger *zap.Logger) *Handler {
	return &Handler{
		stm:      stmStore,
		pipeline: pipeline,
		ingestor: ingestor,
		runner:   runner,
		logger:   logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/stm/{key}", h.readSTM)
		r.Post("/stm/{key}", h.appendSTM)
		r.Post("/retrieve", h.retrieve)
		r.Post("/memories", h.ingestMemories)
		r.Post("/consolidation/run", h.runConsolidation)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) readSTM(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	entries, err := h.stm.Read(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) appendSTM(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var entry stm.Entry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	entries, err := h.stm.Append(r.Context(), key, entry)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) retrieve(w http.ResponseWriter, r *http.Request) {
	var q retrieval.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	memories, err := h.pipeline.Retrieve(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if memories == nil {
		memories = []retrieval.RankedMemory{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": memories})
}

type ingestRequest struct {
	Items []*memory.Item `json:"items"`
}

func (h *Handler) ingestMemories(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, errEmptyBatch)
		return
	}
	ids, err := h.ingestor.Ingest(r.Context(), req.Items)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ids": ids})
}

func (h *Handler) runConsolidation(w http.ResponseWriter, r *http.Request) {
	completed, err := h.runner.RunDue(r.Context(), time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"completed": completed})
}

var errEmptyBatch = &apiError{"empty memory batch"}

type apiError struct{ msg string }

func (e *apiError) Error() string { return e.msg }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
