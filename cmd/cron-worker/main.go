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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/threadline/shopfront-backend/internal/cart"
	"github.com/threadline/shopfront-backend/internal/cron"
	"github.com/threadline/shopfront-backend/internal/inventory"
	"github.com/threadline/shopfront-backend/internal/notifications"
	"github.com/threadline/shopfront-backend/internal/paymentintents"
	"github.com/threadline/shopfront-backend/internal/vouchers"
	"github.com/threadline/shopfront-backend/pkg/config"
	"github.com/threadline/shopfront-backend/pkg/db"
	"github.com/threadline/shopfront-backend/pkg/instance"
	"github.com/threadline/shopfront-backend/pkg/logger"
	"github.com/threadline/shopfront-backend/pkg/metrics"
	"github.com/threadline/shopfront-backend/pkg/migrate"
	"github.com/threadline/shopfront-backend/pkg/outbox"
	"github.com/threadline/shopfront-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	locker, err := cron.NewRedisLocker(redisClient, leaseEnv(cfg.App.Env), cfg.Cron.LeaseTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron locker", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to build cron jobs", err)
		os.Exit(1)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Locker:   locker,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
		Tick:     cfg.Cron.Tick,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(cfg.Service.Kind),
	})
	logg.Info(ctx, "starting cron worker")

	metricsServer := serveMetrics(ctx, logg, cfg.Cron.MetricsAddr)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func leaseEnv(env string) string {
	if env == "" {
		return "local"
	}
	return env
}

func serveMetrics(ctx context.Context, logg *logger.Logger, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "cron metrics server stopped", err)
		}
	}()
	return server
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (*cron.Registry, error) {
	conn := dbClient.DB()
	outboxRepo := outbox.NewRepository(conn)
	emitter := outbox.NewService(outboxRepo, logg)

	voucherSvc, err := vouchers.NewService(vouchers.NewRepository(conn), dbClient, emitter, logg)
	if err != nil {
		return nil, err
	}
	inventorySvc, err := inventory.NewService(inventory.NewRepository(conn), logg)
	if err != nil {
		return nil, err
	}
	cartSvc, err := cart.NewService(cart.NewRepository(conn), inventorySvc, logg)
	if err != nil {
		return nil, err
	}
	intentSvc, err := paymentintents.NewService(paymentintents.ServiceParams{
		Repo:     paymentintents.NewRepository(conn),
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
		return nil, err
	}

	intentJob, err := cron.NewIntentExpiryJob(cron.IntentExpiryJobParams{Logger: logg, Intents: intentSvc})
	if err != nil {
		return nil, err
	}
	voucherJob, err := cron.NewVoucherExpiryJob(cron.VoucherExpiryJobParams{Logger: logg, Vouchers: voucherSvc})
	if err != nil {
		return nil, err
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outboxRepo,
		Retention:  cfg.Outbox.Retention,
	})
	if err != nil {
		return nil, err
	}
	cleanupJob, err := cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
		Logger:     logg,
		Repository: notifications.NewRepository(conn),
	})
	if err != nil {
		return nil, err
	}

	registry := cron.NewRegistry()
	registry.Register(intentJob, cfg.Cron.IntentExpiryEvery)
	registry.Register(voucherJob, cfg.Cron.VoucherExpiryEvery)
	registry.Register(retentionJob, cfg.Cron.OutboxRetentionEvery)
	registry.Register(cleanupJob, cfg.Cron.NotificationCleanupEvery)
	return registry, nil
}
