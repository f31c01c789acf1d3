package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xtrntr/memestream/internal/metrics"
)

// Routes mounts every endpoint on a router. limiter may be nil.
func (h *Handler) Routes(limiter *RateLimiter) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)
	if limiter != nil {
		r.Use(limiter.Middleware)
	}

	r.Post("/auth/connect-wallet", h.ConnectWallet)

	r.Get("/tokens", h.ListNewTokens)
	r.Get("/tokens/filter", h.FilterTokens)
	r.Get("/tokens/{contract}", h.GetToken)
	r.Get("/tokens/{contract}/holders", h.GetHolders)
	r.Get("/tokens/{contract}/chart", h.GetChart)
	r.Get("/trades/recent/{contract}", h.RecentTrades)
	r.Get("/portfolio/{address}", h.GetPortfolio)
	r.Get("/stats", h.GetStats)

	// Protected endpoints (require a session)
	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Put("/auth/user/username", h.UpdateUsername)
		r.Post("/tokens/new", h.CreateToken)
		r.Post("/trades", h.SubmitTrade)
	})

	return r
}

// requestLogger logs each request and counts it by route pattern and status
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordHTTPRequest(route, status)

		h.logger.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("Request served")
	})
}
