package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/quackformers/internal/embeddings"
)

// EmbedRequest carries either one text or a batch.
type EmbedRequest struct {
	Text  *string  `json:"text,omitempty"`
	Texts []string `json:"texts,omitempty"`
}

// EmbedResponse mirrors the request shape.
type EmbedResponse struct {
	EmbeddedText  []float32   `json:"embedded_text,omitempty"`
	EmbeddedTexts [][]float32 `json:"embedded_texts,omitempty"`
}

// InvokeRequest is a text generation prompt. Model defaults to the configured text model.
type InvokeRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

// InvokeResponse is the generated text.
type InvokeResponse struct {
	Text string `json:"text"`
}

type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Code    int    `json:"code,omitempty"`
	} `json:"error"`
}

// handleRoot greets API clients
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to the Quackformers API!"})
}

// handleEmbed serves one vector function
func (s *Server) handleEmbed(function string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := s.logger.WithRequestID(getRequestID(r.Context()))

		svc, ok := s.catalog.Service(function)
		if !ok {
			writeError(w, http.StatusServiceUnavailable, "unavailable", fmt.Sprintf("function %s is not available", function), 0)
			return
		}

		var req EmbedRequest
		if !s.decode(w, r, &req) {
			return
		}
		texts, single, err := s.requestTexts(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, string(embeddings.KindInvalidInput), err.Error(), embeddings.ErrInvalidInput.Code)
			return
		}

		start := time.Now()
		vecs, err := svc.EmbedTexts(r.Context(), texts)
		if err != nil {
			log.Warn("Embedding request failed", zap.String("function", function), zap.Int("texts", len(texts)), zap.Error(err))
			writeEmbeddingError(w, err)
			return
		}
		log.Debug("Embedded texts",
			zap.String("function", function),
			zap.Int("texts", len(texts)),
			zap.Duration("duration", time.Since(start)))

		if single {
			writeJSON(w, http.StatusOK, EmbedResponse{EmbeddedText: vecs[0]})
			return
		}
		writeJSON(w, http.StatusOK, EmbedResponse{EmbeddedTexts: vecs})
	}
}

func (s *Server) requestTexts(req EmbedRequest) ([]string, bool, error) {
	switch {
	case req.Text != nil && req.Texts != nil:
		return nil, false, errors.New("set either text or texts, not both")
	case req.Text != nil:
		return []string{*req.Text}, true, nil
	case len(req.Texts) == 0:
		return nil, false, errors.New("text or texts is required")
	case s.config.MaxBatchTexts > 0 && len(req.Texts) > s.config.MaxBatchTexts:
		return nil, false, fmt.Errorf("at most %d texts per request", s.config.MaxBatchTexts)
	default:
		return req.Texts, false, nil
	}
}

// handleInvoke generates text from a prompt
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	inv, ok := s.catalog.Invoker()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "text generation is not available", 0)
		return
	}

	var req InvokeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, string(embeddings.KindInvalidInput), "prompt is required", embeddings.ErrInvalidInput.Code)
		return
	}

	text, err := inv.Invoke(r.Context(), req.Prompt, req.Model)
	if err != nil {
		s.logger.WithRequestID(getRequestID(r.Context())).Warn("Invoke failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, string(embeddings.KindRemote), err.Error(), embeddings.ErrRemoteFailed.Code)
		return
	}
	writeJSON(w, http.StatusOK, InvokeResponse{Text: text})
}

// handleHealth reports whether any function can serve
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var statuses []embeddings.Status
	if s.status != nil {
		statuses = s.status.Statuses()
	}
	functions := s.catalog.Names()

	status, code := "healthy", http.StatusOK
	if len(functions) == 0 {
		status, code = "unhealthy", http.StatusServiceUnavailable
	} else {
		for _, st := range statuses {
			if !st.Ready {
				status = "degraded"
			}
		}
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"functions": functions,
		"models":    statuses,
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":           "quackformers",
		"version":        Version,
		"functions":      s.catalog.Names(),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"rate_limit":     s.limiter != nil,
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if s.config.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, string(embeddings.KindInvalidInput), "request body too large", embeddings.ErrInvalidInput.Code)
			return false
		}
		writeError(w, http.StatusBadRequest, string(embeddings.KindInvalidInput), "invalid JSON body: "+err.Error(), embeddings.ErrInvalidInput.Code)
		return false
	}
	return true
}

// writeEmbeddingError maps error kinds to status codes.
func writeEmbeddingError(w http.ResponseWriter, err error) {
	var embErr *embeddings.EmbeddingError
	if !errors.As(err, &embErr) {
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), 0)
		return
	}

	status := http.StatusInternalServerError
	switch embErr.Kind {
	case embeddings.KindInvalidInput, embeddings.KindTokenization:
		status = http.StatusBadRequest
	case embeddings.KindModelLoad:
		status = http.StatusServiceUnavailable
	case embeddings.KindTimeout:
		status = http.StatusGatewayTimeout
	case embeddings.KindRemote:
		status = http.StatusBadGateway
	}
	writeError(w, status, string(embErr.Kind), embErr.Error(), embErr.Code)
}

func writeError(w http.ResponseWriter, status int, kind, message string, code int) {
	var body errorBody
	body.Error.Type = kind
	body.Error.Message = message
	body.Error.Code = code
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
