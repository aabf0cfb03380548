package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"capitalguard/internal/identity"
	"capitalguard/internal/ledger"
	"capitalguard/internal/log"
	"capitalguard/internal/middleware/ratelimit"
	"capitalguard/internal/middleware/security"
	"capitalguard/internal/middleware/trace"
	"capitalguard/internal/viewmodel"
)

// Options tunes the server; zero values select defaults.
type Options struct {
	IdentityHeader     string
	RateLimitPerMinute int
	CORSAllowedOrigins []string
	RequestTimeout     time.Duration
	ReadyTimeout       time.Duration
}

type Server struct {
	http.Server
	store     *ledger.Store
	projector *viewmodel.Projector
	logger    *log.Logger

	limiter      *ratelimit.Limiter
	detector     *security.Detector
	trace        *trace.Middleware
	readyTimeout time.Duration

	shutdownOnce sync.Once
}

// NewServer wires the API routes over store and projector. The projector
// must already be subscribed to store for reads to see new writes.
func NewServer(addr string, store *ledger.Store, projector *viewmodel.Projector, logger *log.Logger, opts Options) *Server {
	if logger == nil {
		logger = log.Default(log.ComponentHTTP)
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 2 * time.Second
	}

	s := &Server{
		store:        store,
		projector:    projector,
		logger:       logger,
		detector:     security.NewDetector(logger.WithComponent(log.ComponentSecurity)),
		limiter:      ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		readyTimeout: opts.ReadyTimeout,
	}
	s.trace = trace.NewMiddleware(logger, s.detector.ExtractClientIP)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(opts),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

func (s *Server) routes(opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(s.trace.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(s.detector.Middleware)
	if len(opts.CORSAllowedOrigins) > 0 {
		header := opts.IdentityHeader
		if header == "" {
			header = identity.DefaultHeader
		}
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", header, trace.HeaderRequestID},
			ExposedHeaders: []string{trace.HeaderRequestID},
			MaxAge:         300,
		}))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = ErrorResponse(http.StatusNotFound, CodeNotFound, "route not found").Write(w)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = ErrorResponse(http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed").Write(w)
	})

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(identity.Middleware(opts.IdentityHeader))
		r.Use(middleware.Timeout(opts.RequestTimeout))

		r.Get("/categories", s.handleCategories)
		r.Get("/account", s.handleGetAccount)
		r.Get("/transactions", s.handleListTransactions)
		r.Get("/dashboard", s.handleDashboard)

		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware(s.detector.ExtractClientIP, s.rateLimited))
			r.Post("/accounts", s.handleRegister)
			r.Post("/transactions", s.handleCreateTransaction)
			r.Post("/transactions/{id}/reversal", s.handleReverse)
		})
	})

	return r
}

func (s *Server) rateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	_ = ErrorResponse(http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded, try again later").Write(w)
}

// Shutdown stops the limiter and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}
