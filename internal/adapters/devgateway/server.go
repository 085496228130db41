// Package devgateway is a self-contained resource gateway for local
// development and end-to-end testing. It serves the same HTTP/JSON
// contract the portal client speaks, backed by SQLite, with JWT bearer
// sessions and transactional email for verification and password reset.
package devgateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"libres/internal/adapters/email"
)

// Options configures a Server.
type Options struct {
	Store     *Store
	Sender    email.Sender
	JWTSecret string
	BaseURL   string // public base URL used in email links
	EmailFrom string
}

// Server implements the gateway contract over HTTP.
type Server struct {
	store  *Store
	mail   *mailer
	secret []byte

	// injected for tests
	now        func() time.Time
	generateID func() string

	logins  *loginLimiter
	metrics *collector

	router chi.Router
}

// NewServer wires a Server with its routes and metrics registry.
// PRE: opts.Store and opts.Sender are non-nil
func NewServer(opts Options) *Server {
	s := &Server{
		store: opts.Store,
		mail: &mailer{
			sender:  opts.Sender,
			from:    opts.EmailFrom,
			baseURL: opts.BaseURL,
		},
		secret:     []byte(opts.JWTSecret),
		now:        time.Now,
		generateID: func() string { return uuid.New().String() },
		logins:     newLoginLimiter(rate.Every(10*time.Second), 5),
		metrics:    newCollector(prometheus.NewRegistry()),
	}

	r := chi.NewRouter()
	r.Use(s.metrics.middleware)

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/register", s.handleRegister)
		r.Post("/verify-email", s.handleVerifyEmail)
		r.Post("/resend-verification", s.handleResendVerification)
		r.Post("/forgot-password", s.handleForgotPassword)
		r.Post("/reset-password", s.handleResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/me", s.handleMe)
			r.Put("/change-password", s.handleChangePassword)
			r.Put("/profile", s.handleUpdateProfile)
			r.Post("/logout", s.handleLogout)
		})
	})

	r.Route("/api/requests", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/", s.handleListRequests)
		r.Post("/", s.handleCreateRequest)
		r.Get("/stats", s.handleStats)
		r.Patch("/{id}/status", s.handleUpdateStatus)
		r.Delete("/{id}", s.handleDeleteRequest)
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError sends the failure body the portal client decodes.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"message": message, "needsVerification": false})
}

// writeUnverified is the 403 variant that tells the client to route the
// user into the verification flow instead of showing a plain error.
func writeUnverified(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusForbidden, map[string]any{"message": message, "needsVerification": true})
}

// loginLimiter throttles login attempts per email address.
type loginLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newLoginLimiter(r rate.Limit, burst int) *loginLimiter {
	return &loginLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// Allow reports whether another attempt for email may proceed now.
func (l *loginLimiter) Allow(email string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[email]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[email] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// collector holds the gateway's Prometheus metrics.
type collector struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	latency  prometheus.Histogram
}

func newCollector(reg *prometheus.Registry) *collector {
	c := &collector{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "libres_gateway_requests_total",
			Help: "HTTP requests handled, by method and status code.",
		}, []string{"method", "status_code"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "libres_gateway_request_seconds",
			Help:    "HTTP request handling latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(c.requests, c.latency)
	return c
}

// statusRecorder captures the response code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (c *collector) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		c.requests.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		c.latency.Observe(time.Since(start).Seconds())
	})
}
