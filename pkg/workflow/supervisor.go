package workflow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vidflow/vidflow/pkg/metrics"
)

// Supervisor force-fails runs whose heartbeat stopped, so subscribers always see
// a terminal event even when the executing process died mid-step.
type Supervisor struct {
	engine    *Engine
	runs      RunStore
	logger    *zap.Logger
	timeout   time.Duration
	interval  time.Duration
	batchSize int
}

func NewSupervisor(engine *Engine, runs RunStore, logger *zap.Logger, timeout, interval time.Duration) *Supervisor {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Supervisor{
		engine:    engine,
		runs:      runs,
		logger:    logger,
		timeout:   timeout,
		interval:  interval,
		batchSize: 100,
	}
}

func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("stall supervisor starting",
		zap.Duration("stall_timeout", s.timeout),
		zap.Duration("sweep_interval", s.interval),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stall supervisor shutting down")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Warn("stall sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep force-fails every run whose last heartbeat is older than the stall timeout.
func (s *Supervisor) Sweep(ctx context.Context) (int, error) {
	cutoff := s.engine.now().Add(-s.timeout)
	stalled, err := s.runs.ListStalled(ctx, cutoff, s.batchSize)
	if err != nil {
		return 0, err
	}

	failed := 0
	for i := range stalled {
		run := &stalled[i]
		cause := fmt.Errorf("run stalled: no progress since %s", run.UpdatedAt.Format(time.RFC3339))
		if s.engine.ForceFail(ctx, run, cause) {
			metrics.StalledRuns.WithLabelValues(string(run.Kind)).Inc()
			failed++
		}
	}
	return failed, nil
}
