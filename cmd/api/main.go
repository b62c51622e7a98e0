package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aistylehub/tokenledger/internal/api"
	"github.com/aistylehub/tokenledger/internal/auth"
	"github.com/aistylehub/tokenledger/internal/config"
	"github.com/aistylehub/tokenledger/internal/db"
	"github.com/aistylehub/tokenledger/internal/events"
	"github.com/aistylehub/tokenledger/internal/logger"
	"github.com/aistylehub/tokenledger/internal/metrics"
	"github.com/aistylehub/tokenledger/internal/middleware"
	"github.com/aistylehub/tokenledger/internal/payment"
	"github.com/aistylehub/tokenledger/internal/repository/postgres"
	"github.com/aistylehub/tokenledger/internal/services"
	"github.com/aistylehub/tokenledger/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if os.Getenv("APP_MIGRATE") == "true" {
		if err := db.RunMigrations(ctx, pool); err != nil {
			log.Error("migrations", "err", err)
			os.Exit(1)
		}
	}

	repos := postgres.NewRepositories(pool)
	wp := worker.NewPool(cfg.Workers)
	defer wp.Stop()

	var bus events.Publisher = events.Noop{}
	if cfg.NATSURL != "" {
		nats, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			log.Error("nats connect", "err", err)
			os.Exit(1)
		}
		defer nats.Close()
		bus = nats
	}

	providers := payment.NewRegistry(
		payment.NewStripe(payment.StripeConfig{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
		}),
		payment.NewPayPal(payment.PayPalConfig{
			ClientID:     cfg.PayPal.ClientID,
			ClientSecret: cfg.PayPal.Secret,
			BaseURL:      cfg.PayPal.BaseURL,
		}),
		payment.NewMoMo(payment.MoMoConfig{
			PartnerCode: cfg.MoMo.PartnerCode,
			AccessKey:   cfg.MoMo.AccessKey,
			SecretKey:   cfg.MoMo.SecretKey,
			BaseURL:     cfg.MoMo.BaseURL,
		}),
	)

	tm := auth.NewTokenManager(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.JWTIssuer, cfg.AccessTTL, cfg.RefreshTTL)

	ledgerSvc := services.NewLedgerService(repos.Purchases, repos.Accounts, bus, wp)
	accountSvc := services.NewAccountService(repos.Accounts, repos.Balances, tm)
	purchaseSvc := services.NewPurchaseService(providers, ledgerSvc, repos.Accounts, repos.Purchases, repos.AuditEvents)
	chargeSvc := services.NewChargeService(repos.Accounts, repos.Balances, repos.Reservations, repos.AuditEvents, ledgerSvc)

	metrics.Init()
	r := api.NewRouter(api.RouterDeps{
		Cfg:         cfg,
		AccountSvc:  accountSvc,
		PurchaseSvc: purchaseSvc,
		ChargeSvc:   chargeSvc,
		AuditRepo:   repos.AuditEvents,
		Auth:        middleware.NewAuthMiddleware(tm, cfg.Env),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.HTTPPort, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
