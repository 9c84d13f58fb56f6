// Package httpapi is the local management surface of the sync agent:
// enqueue, processing trigger, queue introspection, dead-letter management,
// and the websocket conflict stream consumed by UI collaborators.
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/salesfunnel/syncbox/internal/syncbox"
)

type ServerConfig struct {
	AuthToken    string
	MaxBodyBytes int64
}

type Server struct {
	engine    *syncbox.Engine
	trigger   *syncbox.ConnectivityTrigger
	validator *syncbox.EnvelopeValidator
	cfg       ServerConfig
}

func NewServer(engine *syncbox.Engine) *Server {
	return NewServerWithConfig(engine, nil, nil, ServerConfig{})
}

func NewServerWithConfig(engine *syncbox.Engine, trigger *syncbox.ConnectivityTrigger, validator *syncbox.EnvelopeValidator, cfg ServerConfig) *Server {
	if cfg.AuthToken == "" {
		cfg.AuthToken = "dev-token"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Server{
		engine:    engine,
		trigger:   trigger,
		validator: validator,
		cfg:       cfg,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token", getCorrelationID(r))
		return
	}
	correlationID := getCorrelationID(r)

	switch {
	case r.URL.Path == "/v1/queue" && r.Method == http.MethodPost:
		s.handleEnqueue(w, r, correlationID)
	case r.URL.Path == "/v1/queue" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"items": s.engine.Queue()})
	case r.URL.Path == "/v1/queue/process" && r.Method == http.MethodPost:
		s.handleProcess(w, r)
	case r.URL.Path == "/v1/queue/kick" && r.Method == http.MethodPost:
		s.handleKick(w, correlationID)
	case r.URL.Path == "/v1/queue/stats" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, s.engine.GetQueueStats())
	case r.URL.Path == "/v1/queue/failed" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"items": s.engine.GetFailedQueue()})
	case r.URL.Path == "/v1/queue/failed" && r.Method == http.MethodDelete:
		s.handleClearFailed(w, correlationID)
	case strings.HasPrefix(r.URL.Path, "/v1/queue/failed/") && strings.HasSuffix(r.URL.Path, "/retry") && r.Method == http.MethodPost:
		s.handleRetryFailed(w, r, correlationID)
	case r.URL.Path == "/v1/conflicts/stream" && r.Method == http.MethodGet:
		s.handleConflictStream(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
	}
}

func (s *Server) authorize(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) == 1
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request, correlationID string) {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return
	}
	if s.validator != nil {
		if err := s.validator.Validate(body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_envelope", err.Error(), correlationID)
			return
		}
	}
	var req syncbox.EnqueueRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error(), correlationID)
		return
	}
	item, err := s.engine.AddToQueue(req)
	if err != nil {
		if errors.Is(err, syncbox.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "invalid_envelope", err.Error(), correlationID)
			return
		}
		writeError(w, http.StatusInternalServerError, "enqueue_failed", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	// The pass result reports what was attempted even when the pass was
	// interrupted, so it is returned either way.
	result, _ := s.engine.ProcessQueue(r.Context())
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleKick(w http.ResponseWriter, correlationID string) {
	if s.trigger == nil {
		writeError(w, http.StatusConflict, "no_trigger", "connectivity trigger is not running", correlationID)
		return
	}
	s.trigger.Kick()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleClearFailed(w http.ResponseWriter, correlationID string) {
	cleared, err := s.engine.ClearFailedQueue()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "clear_failed", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

func (s *Server) handleRetryFailed(w http.ResponseWriter, r *http.Request, correlationID string) {
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/queue/failed/"), "/retry")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_id", "item id is required", correlationID)
		return
	}
	item, err := s.engine.RetryFailedItem(id)
	if err != nil {
		if errors.Is(err, syncbox.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("no dead-lettered item %s", id), correlationID)
			return
		}
		writeError(w, http.StatusInternalServerError, "retry_failed", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body exceeds limit", correlationID)
		return nil, false
	}
	return body, true
}

func getCorrelationID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Correlation-Id"))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": correlationID,
	})
}
