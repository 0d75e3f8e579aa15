// Package livestatus turns channel events into user-facing status updates.
package livestatus

import (
	"context"
	"fmt"

	"github.com/vidflow/vidflow/pkg/eventbus"
	"github.com/vidflow/vidflow/pkg/metrics"
	"github.com/vidflow/vidflow/pkg/stage"
)

type Status struct {
	Stage    stage.Stage `json:"stage"`
	Status   string      `json:"status"`
	Terminal bool        `json:"terminal"`
	Error    string      `json:"error,omitempty"`
	RunID    string      `json:"runId,omitempty"`
}

// Source is the subscription side of the event bus.
type Source interface {
	Subscribe(ctx context.Context, channel string) (<-chan eventbus.Event, error)
	LastEvent(ctx context.Context, channel string) (*eventbus.Event, error)
}

type Observer struct {
	source Source
}

func NewObserver(source Source) *Observer {
	return &Observer{source: source}
}

// Translate maps a raw event to the status shown to clients.
func Translate(event eventbus.Event) Status {
	status := Status{
		Stage:    event.Stage,
		Status:   event.Stage.Display(),
		Terminal: event.Stage.Terminal(),
		RunID:    event.RunID,
	}
	if event.Stage == stage.Error {
		status.Error = event.Message
	}
	return status
}

// Observe streams the statuses of one channel. The returned channel is closed
// after a Finished or Error status, or when ctx is done.
func (o *Observer) Observe(ctx context.Context, entityID string, procedure eventbus.Procedure) (<-chan Status, error) {
	if entityID == "" {
		return nil, fmt.Errorf("entity id is required")
	}
	if !procedure.Valid() {
		return nil, fmt.Errorf("unknown procedure %q", procedure)
	}
	channel := eventbus.ChannelName(entityID, procedure)

	subCtx, cancel := context.WithCancel(ctx)
	events, err := o.source.Subscribe(subCtx, channel)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	// The subscription is live before the cache is read, so an outcome
	// published in between is seen on one path or the other.
	last, err := o.source.LastEvent(subCtx, channel)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("read last event %s: %w", channel, err)
	}

	gauge := metrics.LiveSubscribers.WithLabelValues(string(procedure))
	gauge.Inc()

	out := make(chan Status, 1)
	go func() {
		defer gauge.Dec()
		defer cancel()
		defer close(out)

		if last != nil && last.Stage.Terminal() {
			send(ctx, out, Translate(*last))
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				status := Translate(event)
				if !send(ctx, out, status) || status.Terminal {
					return
				}
			}
		}
	}()
	return out, nil
}

func send(ctx context.Context, out chan<- Status, status Status) bool {
	select {
	case out <- status:
		return true
	case <-ctx.Done():
		return false
	}
}
