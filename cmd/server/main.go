package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"delika-checkout/internal/checkout"
	"delika-checkout/internal/config"
	"delika-checkout/internal/db"
	"delika-checkout/internal/handler"
	"delika-checkout/internal/logger"
	"delika-checkout/internal/metrics"
	"delika-checkout/internal/middleware"
	"delika-checkout/internal/payment"
	"delika-checkout/internal/scheduler"
	"delika-checkout/internal/store"

	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()
	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, database := newStore(cfg)
	if database != nil {
		defer database.Close()
	}

	gw := payment.NewPaystackGateway(payment.GatewayConfig{
		ChargeURL: cfg.ChargeURL,
		OtpURL:    cfg.OtpURL,
		VerifyURL: cfg.VerifyURL,
		Timeout:   cfg.GatewayTimeout,
	})

	manager := checkout.NewManager(gw, st, scheduler.NewTicker(), checkout.Config{
		Cooldown:          cfg.VerifyCooldown,
		MaxOtpAttempts:    cfg.MaxOtpAttempts,
		MaxVerifyAttempts: cfg.MaxVerifyAttempts,
		DialogTTL:         cfg.DialogTTL,
	})
	go manager.Run(ctx)
	stats := metrics.NewPayments()
	manager.OnComplete(func(s checkout.Session) {
		stats.Settled.Inc()
		logger.L().Info("Payment settled",
			zap.String("order_id", s.OrderID),
			zap.String("customer_id", s.CustomerID),
			zap.String("reference", s.Reference),
			zap.Float64("amount", s.Amount),
		)
	})

	limiter := middleware.NewRateLimiter()
	go limiter.Run(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           setupRouter(cfg, handler.NewPaymentHandler(manager, stats), limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.L().Error("Graceful shutdown failed", zap.Error(err))
		}
	}()

	logger.L().Info("Checkout server running", zap.String("addr", srv.Addr), zap.String("store", cfg.StoreBackend))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.L().Fatal("Server stopped", zap.Error(err))
	}
}

// newStore picks the session store. The returned *sql.DB is nil for the
// in-memory backend.
func newStore(cfg *config.Config) (store.Store, *sql.DB) {
	if cfg.StoreBackend == "postgres" {
		database := db.InitDB(cfg)
		return store.NewPostgres(database), database
	}
	return store.NewMemory(), nil
}

func setupRouter(cfg *config.Config, payments *handler.PaymentHandler, limiter *middleware.RateLimiter) http.Handler {
	api := http.NewServeMux()
	payments.Register(api)
	protected := middleware.Chain(api, middleware.Auth([]byte(cfg.JWTSecret)), limiter.Middleware)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("GET /metrics", payments.Stats)
	mux.Handle("/payments", protected)
	mux.Handle("/payments/", protected)

	return middleware.Chain(mux,
		middleware.CORS(cfg.CORSOrigin),
		middleware.RequestID,
		middleware.Logging,
	)
}
