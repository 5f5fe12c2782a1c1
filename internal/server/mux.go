// internal/server/mux.go
// Package server implements the HTTP handlers and routing of the Sanctuary API.
// It maps the content, livestream and auth services onto REST endpoints with
// bearer token authentication, request logging and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sanctuary-church/sanctuary-api/internal/auth"
	"github.com/sanctuary-church/sanctuary-api/internal/content"
	errordefs "github.com/sanctuary-church/sanctuary-api/internal/errors"
	"github.com/sanctuary-church/sanctuary-api/internal/event"
	"github.com/sanctuary-church/sanctuary-api/internal/metrics"
	"github.com/sanctuary-church/sanctuary-api/internal/schema"
	"github.com/sanctuary-church/sanctuary-api/internal/storage"
	"github.com/sanctuary-church/sanctuary-api/internal/telemetry"
	"github.com/sanctuary-church/sanctuary-api/internal/validate"
)

// correlationHeader carries the request id in and out. A missing id is
// generated.
const correlationHeader = "X-Correlation-Id"

var tracer = telemetry.Tracer("sanctuary-http")

// Options configures a Mux.
type Options struct {
	// Files serves GET /storage/{key...}. Nil when blobs are not on local disk.
	Files http.Handler

	MaxRequestSize     int64    // body limit in bytes
	CORSAllowedOrigins []string // "*" allows any origin; empty disables CORS headers
	Logger             *slog.Logger
}

// Mux handles HTTP requests for the Sanctuary API.
type Mux struct {
	mux       *http.ServeMux    // method patterns, Go 1.22+
	store     storage.Store     // pinged by /readyz
	content   *content.Service  // content resources and livestream
	auth      *auth.Service     // accounts and bearer tokens
	validator *schema.Validator // JSON body shape checks
	metrics   *metrics.Metrics  // HTTP request metrics
	logger    *slog.Logger      // structured request log

	maxRequestSize     int64
	corsAllowedOrigins []string
}

// NewMux builds the HTTP handler with every route registered.
// Parameters:
//   - store: persistence, used here only for readiness
//   - svc: the content services behind /api/{kind} and /api/livestream
//   - users: the account service behind register, login, logout and user
//   - opts: body limit, CORS origins, logger and the optional file server
//
// Returns:
//   - http.Handler: the mux wrapped in the shared middleware
//   - error: if the JSON schemas fail to compile
func NewMux(store storage.Store, svc *content.Service, users *auth.Service, opts Options) (http.Handler, error) {
	validator, err := schema.NewValidator()
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := opts.MaxRequestSize
	if limit <= 0 {
		limit = 8 << 20
	}

	m := &Mux{
		mux:                http.NewServeMux(),
		store:              store,
		content:            svc,
		auth:               users,
		validator:          validator,
		metrics:            metrics.NewMetrics(),
		logger:             logger,
		maxRequestSize:     limit,
		corsAllowedOrigins: opts.CORSAllowedOrigins,
	}

	m.mux.HandleFunc("GET /{$}", m.handleWelcome)
	m.mux.HandleFunc("GET /healthz", m.handleHealthz)
	m.mux.HandleFunc("GET /readyz", m.handleReadyz)
	m.mux.Handle("GET /metrics", promhttp.Handler())
	if opts.Files != nil {
		m.mux.Handle("GET /storage/{key...}", opts.Files)
	}

	m.mux.HandleFunc("POST /api/register", m.handleRegister)
	m.mux.HandleFunc("POST /api/login", m.handleLogin)
	m.mux.HandleFunc("POST /api/logout", m.authed(m.handleLogout))
	m.mux.HandleFunc("GET /api/user", m.authed(m.handleUser))

	mountContent(m, svc.Events, eventInput)
	mountContent(m, svc.Posts, postInput)
	mountContent(m, svc.News, newsInput)
	mountContent(m, svc.Ministries, ministryInput)

	m.mux.HandleFunc("GET /api/livestream", m.authed(m.handleShowLiveStream))
	m.mux.HandleFunc("PUT /api/livestream", m.admin(m.handleUpdateLiveStream))

	return http.HandlerFunc(m.serve), nil
}

// serve runs the middleware shared by every route, then dispatches to the
// ServeMux. In order: CORS (answering preflights with 204), the correlation
// id, the body limit and the header method override. The request is logged
// and counted afterwards, labelled with the matched pattern.
func (m *Mux) serve(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	m.cors(rec, r)
	if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
		rec.WriteHeader(http.StatusNoContent)
		return
	}

	correlationID := r.Header.Get(correlationHeader)
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	r = r.WithContext(event.WithCorrelationID(r.Context(), correlationID))
	rec.Header().Set(correlationHeader, correlationID)

	r.Body = http.MaxBytesReader(rec, r.Body, m.maxRequestSize)
	m.overrideMethod(r)
	m.mux.ServeHTTP(rec, r)

	pattern := r.Pattern
	if pattern == "" {
		pattern = "unmatched"
	}
	duration := time.Since(start)
	status := strconv.Itoa(rec.status)
	m.metrics.HTTPRequestTotal.WithLabelValues(r.Method, pattern, status).Inc()
	m.metrics.HTTPRequestDuration.WithLabelValues(r.Method, pattern, status).Observe(duration.Seconds())
	m.logRequest(r, rec.status, duration, correlationID, rec.err)
}

// cors sets the CORS response headers for allowed origins.
func (m *Mux) cors(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" || len(m.corsAllowedOrigins) == 0 {
		return
	}
	if !slices.Contains(m.corsAllowedOrigins, "*") && !slices.Contains(m.corsAllowedOrigins, origin) {
		return
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Add("Vary", "Origin")
	if r.Method == http.MethodOptions {
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Correlation-Id")
		h.Set("Access-Control-Max-Age", "86400")
	}
}

// overrideMethod honours X-HTTP-Method-Override on POST. It never reads the
// body; the form field _method is handled by formMethod after auth.
func (m *Mux) overrideMethod(r *http.Request) {
	if r.Method != http.MethodPost {
		return
	}
	switch strings.ToUpper(r.Header.Get("X-HTTP-Method-Override")) {
	case http.MethodPut, http.MethodPatch:
		r.Method = http.MethodPut
	case http.MethodDelete:
		r.Method = http.MethodDelete
	}
}

// authed requires a valid bearer token and attaches the caller's identity
// to the request context.
func (m *Mux) authed(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		id, err := m.auth.Authenticate(r.Context(), strings.TrimSpace(raw))
		if err != nil {
			m.fail(w, r, err)
			return
		}
		h(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	}
}

// admin is authed plus the admin flag.
func (m *Mux) admin(h http.HandlerFunc) http.HandlerFunc {
	return m.authed(func(w http.ResponseWriter, r *http.Request) {
		if id, _ := auth.FromContext(r.Context()); !id.Admin {
			m.fail(w, r, errordefs.New(errordefs.CodeAuthz, "this action requires an administrator", ""))
			return
		}
		h(w, r)
	})
}

// writeJSON writes v as the bare response body.
func (m *Mux) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the API error envelope.
func (m *Mux) writeError(w http.ResponseWriter, statusCode int, code, message, correlationID string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	body := map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	}
	if details != nil {
		body["details"] = details
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"error": body})
}

// writeErrorDef writes err in the error envelope with its HTTP status.
func (m *Mux) writeErrorDef(w http.ResponseWriter, err *errordefs.Error) {
	m.writeError(w, err.HTTPStatus, string(err.Code), err.Message, err.CorrelationID, err.Details)
}

// fail maps err onto the error taxonomy and writes it. Errors that are
// already *errordefs.Error pass through with the request's correlation id.
// Field errors become 422 with per field details, and anything unknown is a
// 500 INTERNAL. err is kept on the recorder for the request log.
func (m *Mux) fail(w http.ResponseWriter, r *http.Request, err error) {
	cid := event.CorrelationID(r.Context())

	var (
		def    *errordefs.Error
		fields validate.FieldErrors
		tooBig *http.MaxBytesError
	)
	switch {
	case errors.As(err, &def):
		def.CorrelationID = cid
	case errors.As(err, &fields):
		def = errordefs.NewWithDetails(errordefs.CodeValidation, "The given data was invalid.", cid, fields)
	case errors.As(err, &tooBig):
		def = errordefs.New(errordefs.CodeBadRequest, "request body too large", cid)
		def.HTTPStatus = http.StatusRequestEntityTooLarge
	case errors.Is(err, storage.ErrNotFound):
		def = errordefs.New(errordefs.CodeNotFound, "resource not found", cid)
	case errors.Is(err, storage.ErrConflict):
		def = errordefs.New(errordefs.CodeConflict, "resource already exists", cid)
	case errors.Is(err, content.ErrStorageWrite):
		def = errordefs.New(errordefs.CodeStorageWrite, "the image could not be stored", cid)
	case errors.Is(err, auth.ErrInvalidCredentials):
		def = errordefs.New(errordefs.CodeAuthn, "invalid credentials", cid)
	case errors.Is(err, auth.ErrUnauthenticated):
		def = errordefs.New(errordefs.CodeAuthn, "unauthenticated", cid)
	default:
		def = errordefs.New(errordefs.CodeInternal, "internal server error", cid)
	}

	if rec, ok := w.(*statusRecorder); ok {
		rec.err = err
	}
	m.writeErrorDef(w, def)
}

// logRequest logs request details. Server errors are logged at error level
// with the cause; rejected requests stay at info.
func (m *Mux) logRequest(r *http.Request, status int, duration time.Duration, correlationID string, err error) {
	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", duration),
		slog.String("user_agent", r.UserAgent()),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("correlation_id", correlationID),
	}

	switch {
	case err != nil && status >= http.StatusInternalServerError:
		attrs = append(attrs, slog.String("error", err.Error()))
		m.logger.LogAttrs(r.Context(), slog.LevelError, "request completed with error", attrs...)
	case err != nil:
		attrs = append(attrs, slog.String("error", err.Error()))
		m.logger.LogAttrs(r.Context(), slog.LevelInfo, "request rejected", attrs...)
	default:
		m.logger.LogAttrs(r.Context(), slog.LevelInfo, "request completed", attrs...)
	}
}

// handleWelcome answers GET / with a greeting.
func (m *Mux) handleWelcome(w http.ResponseWriter, r *http.Request) {
	m.writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to the Sanctuary API"})
}

// handleHealthz handles liveness health check requests
func (m *Mux) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports whether the database answers within 5 seconds. A
// failed ping is a 503 UNAVAILABLE.
func (m *Mux) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := m.store.Ping(ctx); err != nil {
		if rec, ok := w.(*statusRecorder); ok {
			rec.err = err
		}
		m.writeErrorDef(w, errordefs.New(errordefs.CodeUnavailable, "database unavailable", event.CorrelationID(r.Context())))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// statusRecorder captures the response status and handler error for logging.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	err     error
	written bool
}

// WriteHeader records the first status written.
func (s *statusRecorder) WriteHeader(code int) {
	if !s.written {
		s.status = code
		s.written = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.written = true
	return s.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }
