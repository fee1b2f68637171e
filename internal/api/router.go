package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/atmx/ledger-engine/internal/metrics"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	CORSOrigins []string
	// ImportsPerSec limits CSV uploads across all clients. Zero disables
	// the limit.
	ImportsPerSec float64
	Timeout       time.Duration
}

// NewRouter mounts the handlers and the WebSocket hub on a chi router.
func NewRouter(h *Handler, hub *WSHub, opts RouterOptions) http.Handler {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"ledger-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for ledger change notifications. Registered
		// outside the timeout group so connections are not cut.
		if hub != nil {
			r.Get("/ws", hub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(opts.Timeout))

			// Platforms and cash.
			r.Get("/platforms", h.ListPlatforms)
			r.Post("/platforms", h.CreatePlatform)
			r.Get("/platforms/{platformID}/cash", h.GetCash)

			// Ledger writes.
			r.Get("/trades", h.ListTrades)
			r.Post("/trades", h.RecordTrade)
			r.Get("/cash-flows", h.ListCashFlows)
			r.Post("/cash-flows", h.RecordCashFlow)

			// Option lifecycle.
			r.Get("/options", h.ListOptions)
			r.Post("/options", h.OpenOption)
			r.Post("/options/{optionID}/{action}", h.TransitionOption)

			// Reconciliation and derived state.
			r.Post("/reconcile", h.Reconcile)
			r.Get("/positions/open", h.OpenPositions)
			r.Get("/positions/closed", h.ClosedPositions)
			r.Get("/pnl/realized", h.RealizedPnL)
			r.Post("/pnl/unrealized", h.UnrealizedPnL)

			r.Get("/reports/{kind}", h.Report)

			r.Get("/import/last", h.LastImport)
			r.With(rateLimit(opts.ImportsPerSec)).Post("/import/{platform}", h.Import)
		})
	})

	return r
}

// rateLimit rejects requests beyond perSec with 429.
func rateLimit(perSec float64) func(http.Handler) http.Handler {
	if perSec <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiter := rate.NewLimiter(rate.Limit(perSec), 1)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				slog.Warn("rate limit exceeded", "path", r.URL.Path)
				writeError(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
