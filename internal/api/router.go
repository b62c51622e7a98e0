package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aistylehub/tokenledger/internal/api/handlers"
	"github.com/aistylehub/tokenledger/internal/config"
	"github.com/aistylehub/tokenledger/internal/middleware"
	repo "github.com/aistylehub/tokenledger/internal/repository"
	"github.com/aistylehub/tokenledger/internal/services"
)

type RouterDeps struct {
	Cfg         config.Config
	AccountSvc  *services.AccountService
	PurchaseSvc *services.PurchaseService
	ChargeSvc   *services.ChargeService
	AuditRepo   repo.AuditEvents
	Auth        *middleware.AuthMiddleware
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover, middleware.HTTPMetrics, middleware.RateLimit(d.Cfg.RateRPS))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	authH := handlers.NewAuthHandler(d.AccountSvc)
	tokenH := handlers.NewTokenHandler(d.PurchaseSvc, d.Cfg.BaseURL)
	chargeH := handlers.NewChargeHandler(d.ChargeSvc)
	auditH := handlers.NewAuditHandler(d.AuditRepo)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", authH.Register)
		r.Post("/auth/login", authH.Login)
		r.Post("/auth/refresh", authH.Refresh)

		// Provider-facing ingress. The payload authenticates itself
		// (signature or provider re-query); no session is involved.
		r.Post("/tokens/webhook", tokenH.Webhook)
		r.Get("/tokens/callback", tokenH.Callback)

		r.Get("/tokens/packages", tokenH.Packages)
		r.Get("/tokens/payment-methods", tokenH.PaymentMethods)

		r.Group(func(r chi.Router) {
			r.Use(d.Auth.Auth)

			r.Post("/tokens/purchase", tokenH.Purchase)
			r.Post("/tokens/confirm", tokenH.Confirm)
			r.Get("/tokens/balance", tokenH.Balance)
			r.Get("/tokens/purchases", tokenH.Purchases)

			r.Post("/charges/preflight", chargeH.Preflight)
			r.Post("/charges/commit", chargeH.Commit)
			r.Post("/charges/reserve", chargeH.Reserve)
			r.Post("/charges/reserve/{id}/commit", chargeH.CommitReservation)
			r.Post("/charges/reserve/{id}/release", chargeH.ReleaseReservation)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole("admin"))
				r.Post("/tokens/refund", tokenH.Refund)
				r.Post("/charges/refund-tokens", chargeH.RefundTokens)
				r.Get("/audit/events", auditH.Recent)
				r.Get("/audit/accounts/{id}/events", auditH.ByAccount)
			})
		})
	})

	return r
}
