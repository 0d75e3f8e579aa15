package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vidflow/vidflow/pkg/bootstrap"
	"github.com/vidflow/vidflow/pkg/config"
	"github.com/vidflow/vidflow/pkg/logging"
	"github.com/vidflow/vidflow/pkg/queue"
	"github.com/vidflow/vidflow/pkg/store/postgres"
	redisclient "github.com/vidflow/vidflow/pkg/store/redis"
	"github.com/vidflow/vidflow/pkg/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.NewStore(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redis, err := redisclient.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redis.Close()

	bus := bootstrap.NewBus(redis, cfg.Events)
	pipeline, err := bootstrap.NewPipeline(ctx, cfg, db, bus, logger)
	if err != nil {
		logger.Fatal("failed to build pipeline", zap.Error(err))
	}

	supervisor := workflow.NewSupervisor(pipeline.Engine, pipeline.Runs, logger, cfg.Workflow.StallTimeout, cfg.Workflow.SweepInterval)
	go supervisor.Run(ctx)

	consumer := queue.NewConsumer(&cfg.Kafka)
	go func() {
		err := consumer.Consume(ctx, func(ctx context.Context, runID uuid.UUID) error {
			return pipeline.Engine.Execute(ctx, runID)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatal("run consumer stopped with error", zap.Error(err))
		}
	}()

	logger.Info("executor initialized",
		zap.String("topic", cfg.Kafka.RunTopic),
		zap.String("group", cfg.Kafka.RunGroup),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("executor shutting down")
	cancel()
	if err := consumer.Close(); err != nil {
		logger.Warn("failed to close run queue", zap.Error(err))
	}
}
