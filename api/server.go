/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack and the route table.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request, logged by RequestLogger
  2. RealIP:        Client IP from X-Forwarded-For / X-Real-IP, stored in logs
  3. RequestLogger: zap request log + HTTP metrics
  4. Recoverer:     Panic recovery (500 instead of crash)
  5. otelhttp:      Server spans (no-op without a tracer provider)
  6. CORS:          Cross-origin requests from the desk UI
  7. RateLimit:     Redis token bucket (optional)

ROUTE GROUPS:
  /healthz                    Store health
  /metrics                    Prometheus (optional)
  /api/events/{eventID}/*     Ledgers, X-Tenant-ID required

SECURITY NOTE:
  Authentication is done upstream. Actor headers are trusted as given.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Tenant and logging middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/warp/tour-ledger/metrics"
)

// RouterOptions carries the optional parts of the stack. The zero value
// gives a working router without metrics or rate limiting.
type RouterOptions struct {
	AllowedOrigins []string
	Logger         *zap.Logger

	// Metrics instruments requests. MetricsHandler is served at /metrics.
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler

	RateLimit func(http.Handler) http.Handler
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger, opts.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(otelhttp.NewMiddleware("tour-ledger",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", HeaderTenantID, HeaderActorID, HeaderActorRole},
		ExposedHeaders: []string{"X-Request-Id", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Healthz)
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}

	r.Route("/api/events/{eventID}", func(r chi.Router) {
		r.Use(RequireTenant)
		if opts.RateLimit != nil {
			r.Use(opts.RateLimit)
		}

		// Event check-in routes
		r.Route("/checkins", func(r chi.Router) {
			r.Get("/", h.ListCheckins)
			r.Post("/", h.PostCheckin)
			r.Post("/undo", h.PostUndo)
			r.Post("/reset-all", h.PostResetAll)
			r.Get("/summary", h.CheckinSummary)
			r.Get("/logs", h.CheckinLogs)
		})
		r.Get("/participants/{participantID}/checkin", h.ParticipantStatus)

		// Activity routes
		r.Route("/activities/{activityID}", func(r chi.Router) {
			r.Get("/checkins", h.ListActivityCheckins)
			r.Post("/checkins", h.PostActivityCheckin)
			r.Post("/reset-all", h.ActivityResetAll)
			r.Get("/summary", h.ActivitySummary)
			r.Get("/logs", h.ActivityLogs)
		})

		// Item routes
		r.Route("/items/{itemID}", func(r chi.Router) {
			r.Post("/actions", h.PostItemAction)
			r.Get("/holders", h.ListHolders)
			r.Get("/summary", h.ItemSummary)
			r.Get("/logs", h.ItemLogs)
		})
	})

	return r
}
