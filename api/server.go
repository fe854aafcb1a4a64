/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in logs
  2. RealIP:     Client address for the rate limiter
  3. AccessLog:  zap request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Staff portal origins
  6. RateLimit:  Per-client token bucket (429 when empty)
  The whole router is wrapped by otelhttp so every request gets a span.

ROUTE GROUPS:
  /api/existing-ranges, /api/schedule, /api/cancel, /api/resolve
  /api/day-status, /api/day-blocks
  /api/inquiries/*      Inquiry submission and lookup
  /api/holidays/*       Office closures
  /api/scenarios/*      Demo scenarios
  /healthz              Dependency probes

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RouterOptions configures the middleware stack.
type RouterOptions struct {
	AllowedOrigins []string
	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit float64
	Burst     int
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if opts.RateLimit > 0 {
		r.Use(rateLimit(h.logger, rate.Limit(opts.RateLimit), opts.Burst))
	}

	r.Get("/healthz", h.Healthz)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Scheduling routes
		r.Get("/existing-ranges", h.ExistingRanges)
		r.Post("/schedule", h.Schedule)
		r.Post("/cancel", h.Cancel)
		r.Post("/resolve", h.Resolve)

		// Calendar routes
		r.Get("/day-status", h.DayStatus)
		r.Get("/day-blocks", h.DayBlocks)

		// Inquiry routes
		r.Route("/inquiries", func(r chi.Router) {
			r.Get("/", h.ListInquiries)
			r.Post("/", h.CreateInquiry)
			r.Get("/{id}", h.GetInquiry)
		})

		// Holiday routes
		r.Route("/holidays", func(r chi.Router) {
			r.Get("/", h.ListHolidays)
			r.Post("/", h.CreateHoliday)
			r.Delete("/{id}", h.DeleteHoliday)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return otelhttp.NewHandler(r, "http.server",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method + " " + req.URL.Path
		}),
	)
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// rateLimit keeps one token bucket per client address.
func rateLimit(logger *zap.Logger, limit rate.Limit, burst int) func(http.Handler) http.Handler {
	if burst <= 0 {
		burst = 1
	}
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)
	get := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[ip]
		if !ok {
			l = rate.NewLimiter(limit, burst)
			limiters[ip] = l
		}
		return l
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			if host, _, err := net.SplitHostPort(ip); err == nil {
				ip = host
			}
			if !get(ip).Allow() {
				logger.Warn("rate limit exceeded", zap.String("ip", ip))
				writeError(w, r, http.StatusTooManyRequests, "Rate limit exceeded. Try again later.", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
