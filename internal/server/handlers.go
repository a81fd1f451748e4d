package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/mneme/internal/memory"
	"github.com/hyperjump/mneme/internal/models"
	"github.com/hyperjump/mneme/internal/storage"
)

const (
	addedMessage = "Text added to memory."
	maxBodyBytes = 4 << 20
)

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req models.AddRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, err := s.engine.Add(r.Context(), req.Text)
	if err != nil {
		s.respondEngineError(w, r, "add", err)
		return
	}
	s.respondJSON(w, http.StatusOK, models.AddResponse{Message: addedMessage, ID: id})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var query models.SearchQuery
	if !s.decode(w, r, &query) {
		return
	}
	if !s.engine.Ready() {
		s.respondEngineError(w, r, "search", memory.ErrNotReady)
		return
	}
	if err := query.Validate(s.config.Search.DefaultTopK, s.config.Search.MaxTopK); err != nil {
		s.respondJSON(w, http.StatusBadRequest, errorBody(err.Error(), memory.KindInvalidInput))
		return
	}
	s.logger.Debug("search request",
		zap.String("request_id", RequestIDFrom(r.Context())),
		zap.Int("top_k", query.TopK))

	hits, err := s.engine.Search(r.Context(), query.Query, query.TopK, query.Threshold)
	if err != nil {
		s.respondEngineError(w, r, "search", err)
		return
	}
	resp := models.SearchResponse{
		Results:   make([]string, len(hits)),
		QueryTime: time.Since(start).Milliseconds(),
	}
	for i, h := range hits {
		resp.Results[i] = h.Text
	}
	if query.IncludeScores {
		resp.Hits = hits
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.engine.Ready() {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	status := "ok"
	if s.engine.Stats().NeedsReplay {
		status = "degraded"
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"engine": s.engine.Stats(),
	}
	if s.records != nil {
		count, err := s.records.Count(r.Context())
		if err != nil {
			s.logger.Error("status: count records failed", zap.Error(err))
			s.respondJSON(w, http.StatusServiceUnavailable, errorBody(err.Error(), memory.KindStorage))
			return
		}
		resp["records"] = count
		resp["database_driver"] = s.records.Driver()
	}

	dbPath := s.config.Storage.DatabasePath
	configInfo := map[string]interface{}{
		"embedding_provider":   s.config.Embedding.Provider,
		"embedding_dimensions": s.config.Embedding.Dimensions,
		"index_type":           s.config.Index.Type,
		"database_path":        dbPath,
		"default_top_k":        s.config.Search.DefaultTopK,
		"max_top_k":            s.config.Search.MaxTopK,
		"ingest_directories":   s.config.Ingest.Directories,
	}
	if dbPath != "" {
		diskBytes, err := storage.DiskUsageBytes(storage.DatabaseFiles(dbPath)...)
		if err == nil {
			resp["disk_usage_bytes"] = diskBytes
		}
	}
	resp["config"] = configInfo
	s.respondJSON(w, http.StatusOK, resp)
}

// decode reads a JSON body into v and writes a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondJSON(w, http.StatusBadRequest, errorBody("invalid request body", memory.KindInvalidInput))
		return false
	}
	return true
}

// statusFor maps an engine error kind to an HTTP status.
func statusFor(kind string) int {
	switch kind {
	case memory.KindInvalidInput:
		return http.StatusBadRequest
	case memory.KindEmbedding:
		return http.StatusBadGateway
	case memory.KindStorage, memory.KindNotReady:
		return http.StatusServiceUnavailable
	case memory.KindDimensionMismatch:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondEngineError(w http.ResponseWriter, r *http.Request, op string, err error) {
	kind := memory.Kind(err)
	status := statusFor(kind)
	fields := []zap.Field{
		zap.String("request_id", RequestIDFrom(r.Context())),
		zap.String("op", op),
		zap.String("kind", kind),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", fields...)
	} else {
		s.logger.Debug(op+" rejected", fields...)
	}
	s.respondJSON(w, status, errorBody(err.Error(), kind))
}

func errorBody(message, kind string) models.ErrorResponse {
	return models.ErrorResponse{Error: message, Kind: kind}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
