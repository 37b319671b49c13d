package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"github.com/threadline/shopfront-backend/internal/analytics/router"
	"github.com/threadline/shopfront-backend/internal/analytics/worker"
	"github.com/threadline/shopfront-backend/internal/analytics/writer"
	"github.com/threadline/shopfront-backend/internal/notifications"
	"github.com/threadline/shopfront-backend/pkg/bigquery"
	"github.com/threadline/shopfront-backend/pkg/config"
	"github.com/threadline/shopfront-backend/pkg/db"
	"github.com/threadline/shopfront-backend/pkg/instance"
	"github.com/threadline/shopfront-backend/pkg/logger"
	"github.com/threadline/shopfront-backend/pkg/outbox/idempotency"
	"github.com/threadline/shopfront-backend/pkg/outbox/registry"
	"github.com/threadline/shopfront-backend/pkg/pubsub"
	"github.com/threadline/shopfront-backend/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "failed to close database", err)
		}
	}()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "failed to close pubsub client", err)
		}
	}()

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg, writer.OrderEventsTable(cfg.BigQuery.OrderEventsTable))
	requireResource(ctx, logg, "bigquery client", err)
	defer func() {
		if err := bqClient.Close(); err != nil {
			logg.Error(ctx, "failed to close bigquery client", err)
		}
	}()

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	requireResource(ctx, logg, "idempotency manager", err)

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	requireResource(ctx, logg, "event registry", err)

	notificationConsumer, err := notifications.NewConsumer(
		notifications.NewRepository(dbClient.DB()),
		pubsubClient.NotificationSubscription(),
		manager,
		eventRegistry.Decoders(),
		logg,
	)
	requireResource(ctx, logg, "notification consumer", err)

	analyticsSink, err := writer.New(bqClient, writer.Config{
		OrderEventsTable: cfg.BigQuery.OrderEventsTable,
		BatchSize:        cfg.BigQuery.InsertBatchSize,
	})
	requireResource(ctx, logg, "analytics bigquery sink", err)

	routingHandler, err := router.NewRouter(analyticsSink, logg, nil)
	requireResource(ctx, logg, "analytics router", err)

	analyticsSubscription := pubsubClient.AnalyticsSubscription()
	if analyticsSubscription == nil {
		requireResource(ctx, logg, "analytics subscription", errors.New("subscription not configured"))
	}
	analyticsConsumer, err := worker.NewConsumer(analyticsSubscription, routingHandler, manager, logg)
	requireResource(ctx, logg, "analytics consumer", err)

	service, err := NewService(ServiceParams{
		Logger:               logg,
		DB:                   dbClient,
		Redis:                redisClient,
		PubSub:               pubsubClient,
		BigQuery:             bqClient,
		NotificationConsumer: notificationConsumer,
		AnalyticsConsumer:    analyticsConsumer,
	})
	requireResource(ctx, logg, "worker service", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(cfg.Service.Kind),
	})
	logg.Info(runCtx, "starting worker")

	runErr := service.Run(runCtx)
	if err := analyticsSink.Flush(ctx); err != nil {
		logg.Error(ctx, "failed to flush analytics rows", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logg.Error(runCtx, "worker stopped unexpectedly", runErr)
		os.Exit(1)
	}
	logg.Info(runCtx, "worker shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
