// internal/server/mux.go
// Package server implements the HTTP handlers and routing for the catalog service.
// It provides JSON endpoints for browsing, engagement, profiles and administration
// with bearer-token authentication, schema validation and activity publishing.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/animeverse/catalog-go/internal/account"
	"github.com/animeverse/catalog-go/internal/auth"
	"github.com/animeverse/catalog-go/internal/catalog"
	"github.com/animeverse/catalog-go/internal/engagement"
	errordefs "github.com/animeverse/catalog-go/internal/errors"
	"github.com/animeverse/catalog-go/internal/event"
	"github.com/animeverse/catalog-go/internal/media"
	"github.com/animeverse/catalog-go/internal/metrics"
	"github.com/animeverse/catalog-go/internal/model"
	"github.com/animeverse/catalog-go/internal/requestid"
	"github.com/animeverse/catalog-go/internal/schema"
	"github.com/animeverse/catalog-go/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type contextKey struct{}

// accountKey stores the authenticated account in the request context.
var accountKey contextKey

// AccountFrom returns the account authenticated for the request, if any.
func AccountFrom(ctx context.Context) (model.Account, bool) {
	a, ok := ctx.Value(accountKey).(model.Account)
	return a, ok
}

// Options carries the dependencies of NewMux.
type Options struct {
	Store     storage.Store    // Required
	Tokens    *auth.Tokens     // Required
	Publisher event.Publisher  // Activity stream; nil disables publishing
	Media     media.Store      // Upload destination; nil rejects file uploads
	Uploads   http.Handler     // Serves /uploads/; nil leaves the route unregistered
	Metrics   *metrics.Metrics // nil selects the process-wide collectors

	MaxUploadSize      int64    // Per-file limit; 0 selects media.DefaultMaxSize
	CORSAllowedOrigins []string // Allowed origins for CORS (empty means deny all)

	ReadTimeout   time.Duration // Body read deadline for JSON and form requests; 0 means none
	UploadTimeout time.Duration // Body read deadline for multipart requests; 0 means none

	RateLimit  int           // Requests per client IP on /api/ routes within RateWindow; 0 disables
	RateWindow time.Duration
}

// Mux handles HTTP requests for the catalog service.
type Mux struct {
	mux        *http.ServeMux
	store      storage.Store
	catalog    *catalog.Service
	engagement *engagement.Service
	accounts   *account.Service
	ingestor   *media.Ingestor
	validator  *schema.Validator
	metrics    *metrics.Metrics
	limiter    *clientLimiter

	corsAllowedOrigins []string
	readTimeout        time.Duration
	uploadTimeout      time.Duration
}

// access is the authentication an endpoint requires.
type access int

const (
	public access = iota
	// Any signed-in account
	member
	// Accounts holding the admin role
	adminOnly
)

// endpoint binds one method of a route to its handler.
type endpoint struct {
	method  string
	access  access
	handler http.HandlerFunc
}

// NewMux creates the HTTP mux with all catalog endpoints.
// Parameters:
//   - opts: Storage, token issuer and the optional media, stream and metrics dependencies
//
// Returns:
//   - *http.ServeMux: Router with every route registered
//   - error: Any error that occurred while compiling the payload schemas
func NewMux(opts Options) (*http.ServeMux, error) {
	validator, err := schema.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("initialize schema validator: %w", err)
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewMetrics()
	}
	recorder := event.NewRecorder(opts.Store, opts.Publisher, m)

	mx := &Mux{
		mux:                http.NewServeMux(),
		store:              opts.Store,
		catalog:            catalog.NewService(opts.Store, recorder, m),
		engagement:         engagement.NewService(opts.Store, recorder),
		accounts:           account.NewService(opts.Store, opts.Tokens, recorder),
		validator:          validator,
		metrics:            m,
		corsAllowedOrigins: opts.CORSAllowedOrigins,
		readTimeout:        opts.ReadTimeout,
		uploadTimeout:      opts.UploadTimeout,
	}
	if opts.RateLimit > 0 && opts.RateWindow > 0 {
		mx.limiter = newClientLimiter(opts.RateLimit, opts.RateWindow)
	}
	if opts.Media != nil {
		mx.ingestor = media.NewIngestor(opts.Media, opts.MaxUploadSize, m)
	}

	// Health and metrics
	mx.mux.HandleFunc("/healthz", mx.handleHealthz)
	mx.mux.HandleFunc("/readyz", mx.handleReadyz)
	mx.mux.Handle("/metrics", promhttp.Handler())
	if opts.Uploads != nil {
		mx.mux.Handle(media.URLPrefix, securityHeaders(opts.Uploads))
	}

	// Auth and profile
	mx.route("/api/auth/register", endpoint{http.MethodPost, public, mx.handleRegister})
	mx.route("/api/auth/login", endpoint{http.MethodPost, public, mx.handleLogin})
	mx.route("/api/auth/me", endpoint{http.MethodGet, member, mx.handleProfile})
	mx.route("/api/user/profile",
		endpoint{http.MethodGet, member, mx.handleProfile},
		endpoint{http.MethodPut, member, mx.handleUpdateProfile})
	mx.route("/api/user/uploads", endpoint{http.MethodGet, member, mx.handleUploads})

	// Catalog
	mx.route("/api/works",
		endpoint{http.MethodGet, public, mx.handleListWorks},
		endpoint{http.MethodPost, adminOnly, mx.handleCreateWork})
	mx.route("/api/works/search", endpoint{http.MethodGet, public, mx.handleSearchWorks})
	mx.route("/api/works/{id}",
		endpoint{http.MethodGet, public, mx.handleGetWork},
		endpoint{http.MethodPut, adminOnly, mx.handleUpdateWork},
		endpoint{http.MethodDelete, adminOnly, mx.handleDeleteWork})
	mx.route("/api/works/{id}/episodes",
		endpoint{http.MethodGet, public, mx.handleListEpisodes},
		endpoint{http.MethodPost, adminOnly, mx.handleCreateEpisode})
	mx.route("/api/episodes/{id}",
		endpoint{http.MethodPut, adminOnly, mx.handleUpdateEpisode},
		endpoint{http.MethodDelete, adminOnly, mx.handleDeleteEpisode})

	// Engagement
	mx.route("/api/works/{id}/comments",
		endpoint{http.MethodGet, public, mx.handleListComments},
		endpoint{http.MethodPost, member, mx.handleAddComment})
	mx.route("/api/works/{id}/favorite", endpoint{http.MethodPost, member, mx.handleToggleFavorite})
	mx.route("/api/favorites", endpoint{http.MethodGet, member, mx.handleListFavorites})
	mx.route("/api/favorites/{id}", endpoint{http.MethodPost, member, mx.handleToggleFavorite})
	mx.route("/api/favorites/{id}/status", endpoint{http.MethodGet, member, mx.handleFavoriteStatus})

	// Administration
	mx.route("/api/admin/users", endpoint{http.MethodGet, adminOnly, mx.handleListAccounts})
	mx.route("/api/admin/users/{id}",
		endpoint{http.MethodGet, adminOnly, mx.handleGetAccount},
		endpoint{http.MethodPut, adminOnly, mx.handleUpdateAccount},
		endpoint{http.MethodDelete, adminOnly, mx.handleDeleteAccount})
	mx.route("/api/admin/stats", endpoint{http.MethodGet, adminOnly, mx.handleStats})

	return mx.mux, nil
}

// route registers pattern with the common middleware and per-method dispatch.
func (m *Mux) route(pattern string, eps ...endpoint) {
	m.mux.HandleFunc(pattern, m.withMiddleware(pattern, m.method(eps...)))
}

// method dispatches to the endpoint matching the request method after
// enforcing its access level.
func (m *Mux) method(eps ...endpoint) http.HandlerFunc {
	allowed := make([]string, 0, len(eps))
	for _, ep := range eps {
		allowed = append(allowed, ep.method)
	}
	allow := strings.Join(allowed, ", ")

	return func(w http.ResponseWriter, r *http.Request) {
		for _, ep := range eps {
			if ep.method != r.Method {
				continue
			}
			if ep.access != public {
				var ok bool
				if r, ok = m.authorize(w, r, ep.access); !ok {
					return
				}
			}
			ep.handler(w, r)
			return
		}
		w.Header().Set("Allow", allow)
		err := errordefs.New(errordefs.CAT_BAD_REQUEST, "method not allowed", requestid.From(r.Context()))
		err.HTTPStatus = http.StatusMethodNotAllowed
		m.writeErrorDef(w, err)
	}
}

// withMiddleware applies security headers, CORS, correlation IDs, body read
// deadlines, rate limiting, request metrics and logging.
func (m *Mux) withMiddleware(route string, h http.HandlerFunc) http.HandlerFunc {
	limited := m.limiter != nil && strings.HasPrefix(route, "/api/")

	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		setSecurityHeaders(w.Header())
		allowedOrigin := m.allowedOrigin(r.Header.Get("Origin"))

		// Handle CORS preflight requests
		if r.Method == http.MethodOptions {
			if allowedOrigin != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+requestid.Header)
				w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours
				w.Header().Add("Vary", "Origin")
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Add("Vary", "Origin")
		}

		// Add correlation ID if not present
		correlationID := r.Header.Get(requestid.Header)
		if correlationID == "" {
			correlationID = requestid.New()
		}
		r = r.WithContext(requestid.With(r.Context(), correlationID))
		w.Header().Set(requestid.Header, correlationID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		m.setReadDeadline(rec, r)
		if !limited || m.admit(rec, r) {
			h(rec, r)
		}

		duration := time.Since(start)
		status := strconv.Itoa(rec.status)
		m.metrics.HTTPRequestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.metrics.HTTPRequestDuration.WithLabelValues(r.Method, route, status).Observe(duration.Seconds())
		m.logRequest(r, rec, duration, correlationID)
	}
}

// setReadDeadline bounds how long the request body may take to arrive.
// Multipart bodies carry uploads and get the longer deadline.
func (m *Mux) setReadDeadline(w http.ResponseWriter, r *http.Request) {
	d := m.readTimeout
	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct == "multipart/form-data" {
		d = m.uploadTimeout
	}
	if d <= 0 {
		return
	}
	err := http.NewResponseController(w).SetReadDeadline(time.Now().Add(d))
	if err != nil && !errors.Is(err, http.ErrNotSupported) {
		slog.WarnContext(r.Context(), "failed to set read deadline", "error", err)
	}
}

// admit spends one request from the client's budget, answering 429 when
// none is left.
func (m *Mux) admit(w http.ResponseWriter, r *http.Request) bool {
	wait, ok := m.limiter.allow(clientIP(r), time.Now())
	if ok {
		return true
	}
	m.metrics.RateLimitedTotal.Inc()
	w.Header().Set("Retry-After", retryAfter(wait))
	m.writeErrorDef(w, errordefs.New(errordefs.CAT_RATE_LIMITED,
		"too many requests from this IP, please try again later", requestid.From(r.Context())))
	return false
}

// setSecurityHeaders sets the response headers that keep browsers from
// sniffing, framing or leaking referrers for API responses.
func setSecurityHeaders(h http.Header) {
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "SAMEORIGIN")
	h.Set("Referrer-Policy", "no-referrer")
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w.Header())
		next.ServeHTTP(w, r)
	})
}

func (m *Mux) allowedOrigin(origin string) string {
	if origin == "" {
		return ""
	}
	for _, allowed := range m.corsAllowedOrigins {
		if allowed == "*" || allowed == origin {
			return origin
		}
	}
	return ""
}

// authorize authenticates the bearer token and checks the role. On success
// it returns the request carrying the account in its context.
func (m *Mux) authorize(w http.ResponseWriter, r *http.Request, level access) (*http.Request, bool) {
	correlationID := requestid.From(r.Context())

	header := r.Header.Get("Authorization")
	if header == "" {
		m.writeErrorDef(w, errordefs.New(errordefs.CAT_AUTHN, "missing Authorization header", correlationID))
		return r, false
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		m.writeErrorDef(w, errordefs.New(errordefs.CAT_AUTHN, "invalid Authorization header format", correlationID))
		return r, false
	}

	a, err := m.accounts.Authenticate(r.Context(), strings.TrimSpace(token))
	if err != nil {
		m.fail(w, r, err)
		return r, false
	}
	if rec, ok := w.(*statusRecorder); ok {
		rec.accountID = a.ID
	}
	if level == adminOnly && !a.IsAdmin() {
		m.writeErrorDef(w, errordefs.New(errordefs.CAT_AUTHZ, "admin access required", correlationID))
		return r, false
	}
	return r.WithContext(context.WithValue(r.Context(), accountKey, *a)), true
}

// statusRecorder captures what the handler wrote for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status    int
	accountID int64
	err       error
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// envelope is the body of every JSON response.
type envelope struct {
	Success bool             `json:"success"`
	Data    interface{}      `json:"data,omitempty"`
	Message string           `json:"message,omitempty"`
	Error   *errordefs.Error `json:"error,omitempty"`
}

// writeSuccess writes a successful response
func (m *Mux) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data, Message: message})
}

// writeErrorDef writes an error response using the error definitions package
func (m *Mux) writeErrorDef(w http.ResponseWriter, err *errordefs.Error) {
	if rec, ok := w.(*statusRecorder); ok && rec.err == nil {
		rec.err = err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Message: err.Message, Error: err})
}

// fail answers with err's code when it is a client fault, and with a generic
// CAT_INTERNAL otherwise. Internal detail only reaches the log.
func (m *Mux) fail(w http.ResponseWriter, r *http.Request, err error) {
	correlationID := requestid.From(r.Context())
	if e, ok := errordefs.As(err); ok {
		m.writeErrorDef(w, e.WithCorrelation(correlationID))
		return
	}
	if errors.Is(err, context.Canceled) {
		slog.DebugContext(r.Context(), "request canceled", "path", r.URL.Path, "correlation_id", correlationID)
	}
	if rec, ok := w.(*statusRecorder); ok {
		rec.err = err
	}
	m.writeErrorDef(w, errordefs.New(errordefs.CAT_INTERNAL, "internal server error", correlationID))
}

// logRequest logs request details
func (m *Mux) logRequest(r *http.Request, rec *statusRecorder, duration time.Duration, correlationID string) {
	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", rec.status),
		slog.Duration("duration", duration),
		slog.String("user_agent", r.UserAgent()),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("correlation_id", correlationID),
	}
	if rec.accountID != 0 {
		attrs = append(attrs, slog.Int64("account_id", rec.accountID))
	}

	switch {
	case rec.err != nil && rec.status >= http.StatusInternalServerError:
		attrs = append(attrs, slog.String("error", rec.err.Error()))
		slog.LogAttrs(r.Context(), slog.LevelError, "request completed with error", attrs...)
	case rec.err != nil:
		attrs = append(attrs, slog.String("error", rec.err.Error()))
		slog.LogAttrs(r.Context(), slog.LevelInfo, "request rejected", attrs...)
	default:
		slog.LogAttrs(r.Context(), slog.LevelInfo, "request completed", attrs...)
	}
}

// handleHealthz handles liveness health check requests
func (m *Mux) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports whether the store answers.
func (m *Mux) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := m.store.Ping(ctx); err != nil {
		slog.WarnContext(ctx, "readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
