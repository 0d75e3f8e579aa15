package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vidflow/vidflow/pkg/stage"
)

// Procedure is the kind of operation a progress channel belongs to.
type Procedure string

const (
	ProcedureAsset       Procedure = "asset"
	ProcedureTitle       Procedure = "gen-t"
	ProcedureDescription Procedure = "gen-d"
	ProcedureThumbnail   Procedure = "gen-th"
)

func (p Procedure) Valid() bool {
	switch p {
	case ProcedureAsset, ProcedureTitle, ProcedureDescription, ProcedureThumbnail:
		return true
	default:
		return false
	}
}

// ChannelName derives the channel both producers and consumers use for an entity and procedure.
func ChannelName(entityID string, procedure Procedure) string {
	return entityID + ":" + string(procedure)
}

type Event struct {
	Stage     stage.Stage `json:"stage"`
	RunID     string      `json:"run_id,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func NewEvent(s stage.Stage, runID string) Event {
	return Event{Stage: s, RunID: runID, Timestamp: time.Now().UnixMilli()}
}

func NewErrorEvent(runID string, cause error) Event {
	event := NewEvent(stage.Error, runID)
	if cause != nil {
		event.Message = cause.Error()
	}
	return event
}

// Subscription is a live server-to-server stream for one channel.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// Broker is the shared pub/sub substrate. Implementations must deliver messages of a
// channel to each subscription in publish order.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns once the subscription is active.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	SetLast(ctx context.Context, channel string, payload []byte, ttl time.Duration) error
	GetLast(ctx context.Context, channel string) ([]byte, bool, error)
	ClearLast(ctx context.Context, channel string) error
}

type Publisher interface {
	Publish(ctx context.Context, channel string, event Event) error
	CacheLastEvent(ctx context.Context, channel string, event Event) error
	ClearLastEvent(ctx context.Context, channel string) error
}

type Bus struct {
	broker       Broker
	lastEventTTL time.Duration
	buffer       int
}

type Option func(*Bus)

func WithLastEventTTL(ttl time.Duration) Option {
	return func(b *Bus) {
		if ttl > 0 {
			b.lastEventTTL = ttl
		}
	}
}

func WithBuffer(size int) Option {
	return func(b *Bus) {
		if size > 0 {
			b.buffer = size
		}
	}
}

func NewBus(broker Broker, opts ...Option) *Bus {
	bus := &Bus{broker: broker, lastEventTTL: time.Hour, buffer: 64}
	for _, opt := range opts {
		opt(bus)
	}
	return bus
}

func (b *Bus) Publish(ctx context.Context, channel string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.broker.Publish(ctx, channel, payload)
}

// CacheLastEvent stores the most recent terminal event so late subscribers can learn the outcome.
func (b *Bus) CacheLastEvent(ctx context.Context, channel string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.broker.SetLast(ctx, channel, payload, b.lastEventTTL)
}

// ClearLastEvent drops a cached outcome so a new run on the channel starts clean.
func (b *Bus) ClearLastEvent(ctx context.Context, channel string) error {
	return b.broker.ClearLast(ctx, channel)
}

func (b *Bus) LastEvent(ctx context.Context, channel string) (*Event, error) {
	payload, ok, err := b.broker.GetLast(ctx, channel)
	if err != nil || !ok {
		return nil, err
	}
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// Subscribe opens a stream on channel. The returned channel is closed when ctx is
// cancelled or the broker connection goes away.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan Event, error) {
	sub, err := b.broker.Subscribe(ctx, channel)
	if err != nil {
		return nil, err
	}

	ch := make(chan Event, b.buffer)
	go func() {
		defer close(ch)
		defer sub.Close()
		messages := sub.Messages()
		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-messages:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal(payload, &event); err != nil {
					continue
				}
				select {
				case ch <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}
