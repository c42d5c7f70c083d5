package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"goalsync/api/internal/export"
	"goalsync/api/internal/goals"
	"goalsync/api/internal/search"
	"goalsync/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *slog.Logger
	metrics    *Metrics
	limiter    *RateLimiter
	upgrader   websocket.Upgrader
}

type ServerOption func(*HTTPServer)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *HTTPServer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics counts requests and serves /metrics.
func WithMetrics(m *Metrics) ServerOption {
	return func(s *HTTPServer) { s.metrics = m }
}

func WithRateLimiter(rl *RateLimiter) ServerOption {
	return func(s *HTTPServer) { s.limiter = rl }
}

func NewHTTPServer(service *Service, corsOrigin string, opts ...ServerOption) *HTTPServer {
	s := &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		logger:     slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader.CheckOrigin = s.allowOrigin
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.origins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Content-Disposition"},
	})
	return c.Handler(s.withMiddleware(s.limiter.Limit(http.HandlerFunc(s.handle))))
}

func (s *HTTPServer) origins() []string {
	var out []string
	for _, o := range strings.Split(s.corsOrigin, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

func (s *HTTPServer) allowOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.origins() {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
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

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" && s.metrics != nil {
		s.metrics.Handler().ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/export" {
		s.handleExport(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "goals" {
		s.handleGoals(w, r, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleGoals(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			sel, err := selectorFromQuery(r.URL.Query())
			if err != nil {
				s.fail(w, err)
				return
			}
			found, err := s.service.ResolveGoals(r.Context(), sel)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"goals": found, "count": len(found)})
		case http.MethodPost:
			var goal store.Goal
			if err := decodeBody(r, &goal); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			created, err := s.service.CreateGoal(r.Context(), goal)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, created)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if parts[0] == "stream" && len(parts) == 1 && r.Method == http.MethodGet {
		s.handleStream(w, r)
		return
	}

	goalID := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			goal, err := s.service.GetGoal(r.Context(), goalID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, goal)
		case http.MethodPut:
			var goal store.Goal
			if err := decodeBody(r, &goal); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			saved, err := s.service.UpdateGoal(r.Context(), goalID, goal)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, saved)
		case http.MethodDelete:
			if err := s.service.DeleteGoal(r.Context(), goalID); err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": goalID})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch {
	case r.Method == http.MethodGet && parts[1] == "children":
		children, err := s.service.ListChildren(r.Context(), goalID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"goals": children, "count": len(children)})
	case r.Method == http.MethodGet && parts[1] == "progress":
		progress, err := s.service.GoalProgress(r.Context(), goalID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, progress)
	case r.Method == http.MethodPost && parts[1] == "drop":
		var body struct {
			From store.Status `json:"from"`
			To   store.Status `json:"to"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.DropGoal(r.Context(), goalID, body.From, body.To, nil)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case r.Method == http.MethodPost && parts[1] == "reopen":
		result, err := s.service.ReopenGoal(r.Context(), goalID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := search.Query{
		Text:           strings.TrimSpace(query.Get("q")),
		OrganizationID: strings.TrimSpace(query.Get("organizationId")),
		Timeframe:      store.Timeframe(strings.TrimSpace(query.Get("timeframe"))),
		Status:         store.Status(strings.TrimSpace(query.Get("status"))),
	}
	var err error
	if q.Limit, err = intParam(query, "limit", 20); err != nil {
		s.fail(w, err)
		return
	}
	if q.Offset, err = intParam(query, "offset", 0); err != nil {
		s.fail(w, err)
		return
	}
	resp, err := s.service.SearchGoals(r.Context(), q)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	sel, err := selectorFromQuery(query)
	if err != nil {
		s.fail(w, err)
		return
	}
	upload, _ := strconv.ParseBool(query.Get("upload"))
	result, err := s.service.ExportGoals(r.Context(), export.Request{
		Selector: sel,
		Format:   export.Format(strings.ToLower(strings.TrimSpace(query.Get("format")))),
		Upload:   upload,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	if upload {
		writeJSON(w, http.StatusOK, map[string]any{
			"objectKey": result.ObjectKey,
			"filename":  result.Filename,
			"mimeType":  result.MimeType,
			"bytes":     len(result.Data),
		})
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

// fail writes the error envelope for err and logs server-side failures.
func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "code", code, "error", err)
	}
	writeError(w, status, code, message, details)
}

// selectorFromQuery reads timeframe, organizationId, calendarWeek, year, startDate and
// endDate. Dates are RFC 3339 or YYYY-MM-DD.
func selectorFromQuery(query url.Values) (goals.Selector, error) {
	sel := goals.Selector{
		Timeframe:      store.Timeframe(strings.TrimSpace(query.Get("timeframe"))),
		OrganizationID: strings.TrimSpace(query.Get("organizationId")),
	}
	for _, p := range []struct {
		name string
		dst  **int
	}{{"calendarWeek", &sel.CalendarWeek}, {"year", &sel.Year}} {
		raw := strings.TrimSpace(query.Get(p.name))
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return sel, validationFailure(p.name, "must be an integer")
		}
		*p.dst = &v
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"startDate", &sel.StartDate}, {"endDate", &sel.EndDate}} {
		raw := strings.TrimSpace(query.Get(p.name))
		if raw == "" {
			continue
		}
		t, err := parseDate(raw)
		if err != nil {
			return sel, validationFailure(p.name, "must be a date (YYYY-MM-DD or RFC 3339)")
		}
		*p.dst = &t
	}
	return sel, sel.Validate()
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, raw)
}

func intParam(query url.Values, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(query.Get(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, validationFailure(name, "must be an integer")
	}
	return v, nil
}

func validationFailure(field, reason string) error {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", field+" "+reason, map[string]any{"field": field})
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
		setResponseHeaders(writer.Header())
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		if s.metrics != nil {
			s.metrics.observeRequest(r.Method, writer.status)
		}
		s.logger.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request carrying ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack lets the websocket upgrade take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setResponseHeaders(header http.Header) {
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

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
