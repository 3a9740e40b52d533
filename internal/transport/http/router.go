package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hotelna-core/internal/application/auth"
	"github.com/hotelna-core/internal/config"
	"github.com/hotelna-core/internal/domain"
	"github.com/hotelna-core/internal/transport/http/handler"
	appmiddleware "github.com/hotelna-core/internal/transport/http/middleware"
	"golang.org/x/time/rate"
)

// Deps holds the application services the router exposes.
type Deps struct {
	Auth       auth.Service
	Onboarding handler.HotelCreator
	PushTokens handler.TokenRegistrar
	Relay      handler.Deliverer
	Hub        handler.Attacher
	Verifier   appmiddleware.Verifier
	// Limiter guards the unauthenticated endpoints that send codes or check credentials.
	Limiter *appmiddleware.RateLimiter
}

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	authMw := appmiddleware.Auth(deps.Verifier)

	sensitiveRL := deps.Limiter
	if sensitiveRL == nil {
		// 5 requests/second, burst of 10.
		sensitiveRL = appmiddleware.NewRateLimiter(rate.Limit(5), 10)
	}

	healthH := handler.NewHealthHandler()
	authH := handler.NewAuthHandler(deps.Auth)
	pwH := handler.NewPasswordHandler(deps.Auth)
	phoneH := handler.NewPhoneHandler(deps.Auth)
	tokenH := handler.NewPushTokenHandler(deps.PushTokens)
	msgH := handler.NewMessageHandler(deps.Relay, deps.Hub)
	hotelH := handler.NewHotelHandler(deps.Onboarding)

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.With(sensitiveRL.Limit).Post("/auth/register", authH.Register)
		r.With(sensitiveRL.Limit).Post("/auth/login", authH.Login)
		r.With(sensitiveRL.Limit).Post("/otp/verify", authH.VerifyAccount)
		r.With(sensitiveRL.Limit).Post("/otp/resend", authH.ResendCode)
		r.With(sensitiveRL.Limit).Post("/password/{action}", pwH.Action)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)

			r.Post("/phone/{action}", phoneH.Action)
			r.Post("/push-tokens", tokenH.Register)
			r.Post("/messages", msgH.Send)
			r.Get("/messages/stream", msgH.Stream)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.RequireRole(domain.RoleAdmin))

				r.Post("/admin/hotels", hotelH.Create)
			})
		})
	})

	return r
}
