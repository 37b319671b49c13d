package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/threadline/shopfront-backend/pkg/logger"
)

type runner interface {
	Run(ctx context.Context) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

type ServiceParams struct {
	Logger               *logger.Logger
	DB                   pinger
	Redis                pinger
	PubSub               pinger
	BigQuery             pinger
	NotificationConsumer runner
	AnalyticsConsumer    runner
}

// Service runs the notification and analytics consumers side by side.
type Service struct {
	logg      *logger.Logger
	deps      []namedPinger
	consumers map[string]runner
}

type namedPinger struct {
	name string
	ping pinger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub client is required")
	}
	if params.BigQuery == nil {
		return nil, errors.New("bigquery client is required")
	}
	if params.NotificationConsumer == nil {
		return nil, errors.New("notification consumer is required")
	}
	if params.AnalyticsConsumer == nil {
		return nil, errors.New("analytics consumer is required")
	}

	return &Service{
		logg: params.Logger,
		deps: []namedPinger{
			{name: "database", ping: params.DB},
			{name: "redis", ping: params.Redis},
			{name: "pubsub", ping: params.PubSub},
			{name: "bigquery", ping: params.BigQuery},
		},
		consumers: map[string]runner{
			"notifications": params.NotificationConsumer,
			"analytics":     params.AnalyticsConsumer,
		},
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, dep := range s.deps {
		if err := dep.ping.Ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", dep.name), err)
			return fmt.Errorf("%s ping failed: %w", dep.name, err)
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

// Run blocks until the context ends or either consumer stops.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(s.consumers))
	for name, consumer := range s.consumers {
		go func(name string, consumer runner) {
			err := consumer.Run(s.logg.WithField(ctx, "consumer", name))
			if err != nil {
				err = fmt.Errorf("%s consumer: %w", name, err)
			}
			errCh <- err
		}(name, consumer)
	}

	select {
	case <-ctx.Done():
		s.logg.Info(ctx, "worker context canceled")
		return ctx.Err()
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logg.Error(ctx, "consumer stopped unexpectedly", err)
			return err
		}
		return err
	}
}
