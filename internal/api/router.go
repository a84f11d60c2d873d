package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig holds the transport settings of the router
type RouterConfig struct {
	AllowedOrigins []string
	Limiter        *RateLimiter
	// Metrics serves /metrics when set
	Metrics http.Handler
}

// NewRouter mounts every endpoint on a chi router
func NewRouter(h *Handler, hub *Hub, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	if hub != nil {
		r.Get("/ws", hub.ServeWS)
	}

	// Public endpoints
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Get("/orderbook/{zone}", h.GetOrderBook)
	r.Post("/overrides", h.ApplyOverride)

	r.Group(func(r chi.Router) {
		r.Use(h.FeedAuthMiddleware)
		r.Post("/grid/snapshots", h.IngestSnapshot)
	})

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		if cfg.Limiter != nil {
			r.Use(cfg.Limiter.Middleware)
		}
		r.Post("/orders", h.PlaceOrder)
		r.Get("/orders", h.GetParticipantOrders)
		r.Get("/orders/{id}", h.GetOrder)
		r.Delete("/orders/{id}", h.CancelOrder)
		r.Get("/trades", h.GetParticipantTrades)
		r.Get("/balance", h.GetBalance)
	})
	return r
}
