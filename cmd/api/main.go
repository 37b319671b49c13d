package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/threadline/shopfront-backend/api/routes"
	"github.com/threadline/shopfront-backend/internal/cart"
	"github.com/threadline/shopfront-backend/internal/inventory"
	"github.com/threadline/shopfront-backend/internal/notifications"
	"github.com/threadline/shopfront-backend/internal/orders"
	"github.com/threadline/shopfront-backend/internal/paymentintents"
	"github.com/threadline/shopfront-backend/internal/payments"
	"github.com/threadline/shopfront-backend/internal/vouchers"
	"github.com/threadline/shopfront-backend/pkg/config"
	"github.com/threadline/shopfront-backend/pkg/db"
	"github.com/threadline/shopfront-backend/pkg/instance"
	"github.com/threadline/shopfront-backend/pkg/logger"
	"github.com/threadline/shopfront-backend/pkg/metrics"
	"github.com/threadline/shopfront-backend/pkg/migrate"
	"github.com/threadline/shopfront-backend/pkg/outbox"
	"github.com/threadline/shopfront-backend/pkg/redis"
	"github.com/threadline/shopfront-backend/pkg/vnpay"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	deps, err := buildDependencies(cfg, logg, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}
	deps.DB = dbClient
	deps.Redis = redisClient
	deps.Gatherer = prometheus.DefaultGatherer

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"addr":        addr,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(cfg.Service.Kind),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server shutting down gracefully")
	}
}

func buildDependencies(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (routes.Dependencies, error) {
	conn := dbClient.DB()
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)
	checkoutMetrics := metrics.NewCheckoutMetrics(prometheus.DefaultRegisterer)

	voucherSvc, err := vouchers.NewService(vouchers.NewRepository(conn), dbClient, emitter, logg)
	if err != nil {
		return routes.Dependencies{}, err
	}
	inventorySvc, err := inventory.NewService(inventory.NewRepository(conn), logg)
	if err != nil {
		return routes.Dependencies{}, err
	}
	cartSvc, err := cart.NewService(cart.NewRepository(conn), inventorySvc, logg)
	if err != nil {
		return routes.Dependencies{}, err
	}

	intentRepo := paymentintents.NewRepository(conn)
	intentSvc, err := paymentintents.NewService(paymentintents.ServiceParams{
		Repo:     intentRepo,
		Cart:     cartSvc,
		Vouchers: voucherSvc,
		Tx:       dbClient,
		Emitter:  emitter,
		Logger:   logg,
		Settings: paymentintents.Settings{
			ShippingFee: cfg.Checkout.ShippingFee,
			TTL:         cfg.Checkout.IntentTTL,
		},
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:        orders.NewRepository(conn),
		Intents:     intentRepo,
		Cart:        cartSvc,
		Inventory:   inventorySvc,
		Vouchers:    voucherSvc,
		Tx:          dbClient,
		Emitter:     emitter,
		Logger:      logg,
		Metrics:     checkoutMetrics,
		ShippingFee: cfg.Checkout.ShippingFee,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

	gateway, err := vnpay.NewClient(cfg.VNPay)
	if err != nil {
		return routes.Dependencies{}, err
	}
	paymentSvc, err := payments.NewService(intentRepo, gateway, logg)
	if err != nil {
		return routes.Dependencies{}, err
	}
	reconciler, err := payments.NewReconciler(payments.ReconcilerParams{
		Intents: intentRepo,
		Gateway: gateway,
		Tx:      dbClient,
		Emitter: emitter,
		Logger:  logg,
		Metrics: checkoutMetrics,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

	notificationSvc, err := notifications.NewService(notifications.NewRepository(conn))
	if err != nil {
		return routes.Dependencies{}, err
	}

	return routes.Dependencies{
		Orders:        orderSvc,
		Intents:       intentSvc,
		Payments:      paymentSvc,
		Reconciler:    reconciler,
		Vouchers:      voucherSvc,
		Notifications: notificationSvc,
	}, nil
}
