// Package bootstrap wires the pipeline shared by the api-server and the executor.
package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vidflow/vidflow/pkg/config"
	"github.com/vidflow/vidflow/pkg/eventbus"
	"github.com/vidflow/vidflow/pkg/genai"
	"github.com/vidflow/vidflow/pkg/generation"
	"github.com/vidflow/vidflow/pkg/model"
	"github.com/vidflow/vidflow/pkg/mux"
	"github.com/vidflow/vidflow/pkg/storage"
	"github.com/vidflow/vidflow/pkg/store/postgres"
	redisclient "github.com/vidflow/vidflow/pkg/store/redis"
	"github.com/vidflow/vidflow/pkg/workflow"
)

func NewBus(client *redisclient.Client, cfg config.EventsConfig) *eventbus.Bus {
	broker := eventbus.NewRedisBroker(client.Client(), cfg.ChannelKeyPrefix, cfg.KeyPrefix)
	return eventbus.NewBus(broker,
		eventbus.WithLastEventTTL(cfg.LastEventTTL),
		eventbus.WithBuffer(cfg.SubscribeBuffer),
	)
}

// Pipeline holds the stores and the engine with every generation workflow registered.
type Pipeline struct {
	Videos *postgres.VideoRepository
	Runs   *postgres.RunRepository
	Mux    *mux.Client
	Engine *workflow.Engine
}

func NewPipeline(ctx context.Context, cfg *config.Config, db *postgres.Store, bus *eventbus.Bus, logger *zap.Logger) (*Pipeline, error) {
	objects, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	p := &Pipeline{
		Videos: postgres.NewVideoRepository(db.DB()),
		Runs:   postgres.NewRunRepository(db.DB()),
		Mux:    mux.NewClient(cfg.Mux),
	}
	p.Engine = workflow.NewEngine(p.Runs, p.Videos, bus, logger, workflow.WithStepTimeout(cfg.Workflow.StepTimeout))

	workflows := generation.New(p.Videos, p.Mux, genai.NewClient(cfg.GenAI), objects, cfg.Workflow.TranscriptSize)
	if err := workflows.Register(p.Engine); err != nil {
		return nil, fmt.Errorf("register workflows: %w", err)
	}
	return p, nil
}

// AutoGenerateKinds converts configured workflow names. Config validation has
// already rejected unknown names.
func AutoGenerateKinds(names []string) []model.WorkflowKind {
	kinds := make([]model.WorkflowKind, 0, len(names))
	for _, name := range names {
		if kind := model.WorkflowKind(name); kind.Valid() {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}
