package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vidflow/vidflow/pkg/apiserver"
	"github.com/vidflow/vidflow/pkg/asset"
	"github.com/vidflow/vidflow/pkg/auth"
	"github.com/vidflow/vidflow/pkg/bootstrap"
	"github.com/vidflow/vidflow/pkg/config"
	"github.com/vidflow/vidflow/pkg/livestatus"
	"github.com/vidflow/vidflow/pkg/logging"
	"github.com/vidflow/vidflow/pkg/mux"
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
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
	}

	redis, err := redisclient.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redis.Close()

	bus := bootstrap.NewBus(redis, cfg.Events)
	pipeline, err := bootstrap.NewPipeline(ctx, cfg, db, bus, logger)
	if err != nil {
		logger.Fatal("Failed to build pipeline", zap.Error(err))
	}

	var dispatcher workflow.Dispatcher
	switch cfg.Workflow.Dispatcher {
	case "inline":
		inline := workflow.NewInlineDispatcher(pipeline.Engine, cfg.Workflow.InlineWorkers, logger)
		defer inline.Close()
		dispatcher = inline

		supervisor := workflow.NewSupervisor(pipeline.Engine, pipeline.Runs, logger, cfg.Workflow.StallTimeout, cfg.Workflow.SweepInterval)
		go supervisor.Run(ctx)
	default:
		producer := queue.NewProducer(&cfg.Kafka)
		defer producer.Close()
		dispatcher = producer
	}
	launcher := workflow.NewLauncher(pipeline.Engine, dispatcher)

	assets := asset.NewService(pipeline.Videos, pipeline.Mux, bus, logger,
		asset.WithAutoGenerate(launcher, bootstrap.AutoGenerateKinds(cfg.Workflow.AutoGenerate)),
	)

	server := apiserver.NewServer(apiserver.Dependencies{
		Videos:   pipeline.Videos,
		Runs:     pipeline.Runs,
		Assets:   assets,
		Launcher: launcher,
		Observer: livestatus.NewObserver(bus),
		Verifier: mux.NewVerifier(cfg.Mux.WebhookSecret, cfg.Mux.WebhookTolerance),
		Tokens:   auth.NewTokenManager([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL, cfg.Auth.Issuer),
	}, cfg, logger)

	// Status streams stay open for minutes; only reads are bounded.
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           server.Router(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting API server",
			zap.Int("port", cfg.Server.HTTPPort),
			zap.String("dispatcher", cfg.Workflow.Dispatcher),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	cancel()
}
