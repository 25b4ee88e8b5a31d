package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"aprueba/api/internal/auth"
	"aprueba/api/internal/erp"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        zerolog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, log zerolog.Logger) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: log.With().Str("component", "http").Logger()}
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

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		s.service.metrics.Handler().ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		s.handleLogin(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "usuario": nil})
			return
		}
		sess, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "usuario": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"usuario":       sess.Usuario,
			"nombre":        sess.Nombre,
			"expiresAt":     sess.ExpiresAt.UTC().Format(time.RFC3339),
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		sess, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		if err := s.service.Logout(r.Context(), sess); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	// Document lists and indicators, one route pair per document kind.
	if r.Method == http.MethodGet {
		if kind, rest, ok := splitKindPath(r.URL.Path); ok {
			sess, authed := s.requireSession(w, r)
			if !authed {
				return
			}
			switch rest {
			case "":
				s.handleDocuments(w, r, sess, kind)
				return
			case "indicadores":
				s.handleIndicators(w, r, sess, kind)
				return
			}
		}
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/commands" {
		sess, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		s.handleCommandRequest(w, r, sess)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/commands/current" {
		if _, ok := s.requireSession(w, r); !ok {
			return
		}
		writeJSON(w, http.StatusOK, s.service.CurrentCommand())
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/commands/confirm" {
		sess, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		s.handleCommandConfirm(w, r, sess)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/commands/cancel" {
		if _, ok := s.requireSession(w, r); !ok {
			return
		}
		cmd, err := s.service.CancelCommand()
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cmd)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/audit" {
		if _, ok := s.requireSession(w, r); !ok {
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		entries, err := s.service.AuditTrail(r.Context(), limit)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Ready(ctx) {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Usuario  string `json:"usuario"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.Usuario) == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "usuario and password are required", nil)
		return
	}

	sess, err := s.service.Login(r.Context(), strings.TrimSpace(body.Usuario), body.Password)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken": sess.Token,
		"tokenType":   "bearer",
		"usuario":     sess.Usuario,
		"nombre":      sess.Nombre,
		"expiresAt":   sess.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, sess Session, kind erp.Kind) {
	query := r.URL.Query()
	skip, _ := strconv.Atoi(query.Get("skip"))
	limit, _ := strconv.Atoi(query.Get("limit"))

	result, err := s.service.Documents(r.Context(), sess, kind, query.Get("tab"), skip, limit)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleIndicators(w http.ResponseWriter, r *http.Request, sess Session, kind erp.Kind) {
	result, err := s.service.Indicators(r.Context(), sess, kind)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleCommandRequest(w http.ResponseWriter, r *http.Request, sess Session) {
	var body struct {
		Kind   string `json:"kind"`
		LocCod int    `json:"locCod"`
		Nro    int    `json:"nro"`
		Action string `json:"action"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	kind, ok := erp.ParseKind(body.Kind)
	if !ok {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "kind must be presupuestos or ordenes-compra", nil)
		return
	}
	action, ok := ParseAction(body.Action)
	if !ok {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "action must be aprobar or desaprobar", nil)
		return
	}
	if body.Nro <= 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "nro is required", nil)
		return
	}

	cmd, err := s.service.RequestCommand(kind, erp.Key{LocCod: body.LocCod, Nro: body.Nro}, action)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	s.log.Info().Str("usuario", sess.Usuario).Str("kind", string(kind)).Str("key", cmd.Key.String()).Str("action", string(action)).Msg("command requested")
	writeJSON(w, http.StatusCreated, cmd)
}

func (s *HTTPServer) handleCommandConfirm(w http.ResponseWriter, r *http.Request, sess Session) {
	receipt, cmd, err := s.service.ConfirmCommand(r.Context(), sess)
	if err != nil {
		status, code, message, details := mapError(err)
		response := map[string]any{
			"code":    code,
			"error":   message,
			"command": cmd,
		}
		if details != nil {
			response["details"] = details
		}
		writeJSON(w, status, response)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipt": receipt, "command": cmd})
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	sess, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return sess, true
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
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
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		s.service.metrics.HTTPDuration.WithLabelValues(r.Method, strconv.Itoa(writer.status)).Observe(elapsed.Seconds())
		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Dur("duration", elapsed).
			Msg("request")
	})
}

// splitKindPath matches /api/{kind} and /api/{kind}/{rest} for the two
// document kinds.
func splitKindPath(path string) (erp.Kind, string, bool) {
	trimmed := strings.TrimPrefix(path, "/api/")
	if trimmed == path {
		return "", "", false
	}
	segment, rest, _ := strings.Cut(trimmed, "/")
	kind, ok := erp.ParseKind(segment)
	if !ok {
		return "", "", false
	}
	return kind, rest, true
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
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
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

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var authErr *erp.AuthError
	if errors.As(err, &authErr) {
		return http.StatusUnauthorized, "UNAUTHORIZED", authErr.Message, nil
	}
	var conflictErr *erp.ConflictError
	if errors.As(err, &conflictErr) {
		return http.StatusConflict, "CONFLICT", conflictErr.Message, nil
	}
	var transportErr *erp.TransportError
	if errors.As(err, &transportErr) {
		return http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "Backend is unreachable", nil
	}

	switch {
	case errors.Is(err, ErrCommandBusy), errors.Is(err, ErrCommandExecuting):
		return http.StatusConflict, "COMMAND_BUSY", err.Error(), nil
	case errors.Is(err, ErrNoCommand):
		return http.StatusConflict, "NO_COMMAND", err.Error(), nil
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
