package eventbus

import (
	"context"
	"sync"
	"time"
)

// MemoryBroker is a single-process Broker. Each subscription gets its own copy of
// every message published after it subscribed.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySubscription]struct{}
	last   map[string]lastEntry
	buffer int
	now    func() time.Time
}

type lastEntry struct {
	payload   []byte
	expiresAt time.Time
}

func NewMemoryBroker(buffer int) *MemoryBroker {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryBroker{
		subs:   make(map[string]map[*memorySubscription]struct{}),
		last:   make(map[string]lastEntry),
		buffer: buffer,
		now:    time.Now,
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	subs := make([]*memorySubscription, 0, len(b.subs[channel]))
	for sub := range b.subs[channel] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(ctx, payload)
	}
	return ctx.Err()
}

func (b *MemoryBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &memorySubscription{
		broker:   b,
		channel:  channel,
		messages: make(chan []byte, b.buffer),
		done:     make(chan struct{}),
	}

	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*memorySubscription]struct{})
	}
	b.subs[channel][sub] = struct{}{}
	b.mu.Unlock()

	return sub, nil
}

func (b *MemoryBroker) SetLast(ctx context.Context, channel string, payload []byte, ttl time.Duration) error {
	entry := lastEntry{payload: append([]byte(nil), payload...)}
	if ttl > 0 {
		entry.expiresAt = b.now().Add(ttl)
	}
	b.mu.Lock()
	b.last[channel] = entry
	b.mu.Unlock()
	return nil
}

func (b *MemoryBroker) GetLast(ctx context.Context, channel string) ([]byte, bool, error) {
	b.mu.RLock()
	entry, ok := b.last[channel]
	b.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && b.now().After(entry.expiresAt) {
		b.mu.Lock()
		delete(b.last, channel)
		b.mu.Unlock()
		return nil, false, nil
	}
	return entry.payload, true, nil
}

func (b *MemoryBroker) ClearLast(ctx context.Context, channel string) error {
	b.mu.Lock()
	delete(b.last, channel)
	b.mu.Unlock()
	return nil
}

// Subscribers reports the live subscription count for channel.
func (b *MemoryBroker) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

func (b *MemoryBroker) remove(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subs[sub.channel]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.subs, sub.channel)
		}
	}
}

type memorySubscription struct {
	broker   *MemoryBroker
	channel  string
	messages chan []byte

	// sendMu serializes deliveries against Close so messages is never written after close.
	sendMu    sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func (s *memorySubscription) deliver(ctx context.Context, payload []byte) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.messages <- payload:
	case <-s.done:
	case <-ctx.Done():
	}
}

func (s *memorySubscription) Messages() <-chan []byte {
	return s.messages
}

func (s *memorySubscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.broker.remove(s)
		s.sendMu.Lock()
		close(s.messages)
		s.sendMu.Unlock()
	})
	return nil
}
