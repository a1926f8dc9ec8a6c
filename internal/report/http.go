package report

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Navigator sends the browser to a new location.
type Navigator interface {
	Navigate(ctx context.Context, location string) error
}

// ServerConfig configures the control API.
type ServerConfig struct {
	// ControlToken, when set, must accompany every mutating request in the
	// x-commentguard-token header.
	ControlToken string
	CORSOrigin   string
	Metrics      http.Handler
}

type HTTPServer struct {
	backend    Backend
	dispatcher *Dispatcher
	navigator  Navigator
	cfg        ServerConfig
	log        *zap.Logger
}

func NewHTTPServer(backend Backend, dispatcher *Dispatcher, navigator Navigator, cfg ServerConfig, log *zap.Logger) *HTTPServer {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}
	return &HTTPServer{
		backend:    backend,
		dispatcher: dispatcher,
		navigator:  navigator,
		cfg:        cfg,
		log:        log,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" && s.cfg.Metrics != nil {
		s.cfg.Metrics.ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/stats" {
		writeJSON(w, http.StatusOK, s.backend.Snapshot())
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	// Everything below mutates state.
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}

	switch r.URL.Path {
	case "/api/rescan":
		s.dispatch(w, r, Message{Action: ActionRescan})
	case "/api/highlights/toggle":
		s.dispatch(w, r, Message{Action: ActionToggleHighlights})
	case "/api/messages":
		var msg Message
		if err := decodeBody(r, &msg); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(string(msg.Action)) == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "action is required", nil)
			return
		}
		s.dispatch(w, r, msg)
	case "/api/navigate":
		s.handleNavigate(w, r)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) dispatch(w http.ResponseWriter, r *http.Request, msg Message) {
	resp, err := s.dispatcher.Dispatch(r.Context(), msg)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleNavigate(w http.ResponseWriter, r *http.Request) {
	if s.navigator == nil {
		writeError(w, http.StatusNotImplemented, "NOT_SUPPORTED", "Navigation is not available", nil)
		return
	}
	var body struct {
		URL string `json:"url"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := validateLocation(body.URL); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	if err := s.navigator.Navigate(r.Context(), body.URL); err != nil {
		s.log.Warn("navigate failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "NAVIGATE_FAILED", "Navigation failed", nil)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func validateLocation(location string) error {
	if strings.TrimSpace(location) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "url is required", nil)
	}
	parsed, err := url.Parse(location)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "url must be an absolute http(s) URL", nil)
	}
	return nil
}

func (s *HTTPServer) authorized(r *http.Request) bool {
	if s.cfg.ControlToken == "" {
		return true
	}
	token := strings.TrimSpace(r.Header.Get("x-commentguard-token"))
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.ControlToken)) == 1
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.cfg.CORSOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.log.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Commentguard-Token, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}
