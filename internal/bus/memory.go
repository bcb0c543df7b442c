package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryBus implements Bus in-process. Used by tests and single-process
// demo runs; semantics match RedisBus (no replay, fire-and-forget, lossy
// toward slow subscribers).
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Message]struct{} // channel name -> subscriber set
	closed bool
}

// NewMemoryBus creates an in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[string]map[chan Message]struct{}),
	}
}

// Publish fans the payload out to current subscribers of the channel.
// Subscribers with full buffers are skipped rather than blocked on.
func (b *MemoryBus) Publish(ctx context.Context, channel string, payload any) error {
	data, err := marshalPayload(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("bus closed")
	}

	for ch := range b.subs[channel] {
		select {
		case ch <- Message{Channel: channel, Data: data}:
		default:
			// Subscriber not keeping up; drop, matching pub/sub semantics.
		}
	}
	return nil
}

// Subscribe registers a subscriber for the named channels.
func (b *MemoryBus) Subscribe(ctx context.Context, channels ...string) (<-chan Message, func(), error) {
	if len(channels) == 0 {
		return nil, nil, fmt.Errorf("no channels given")
	}

	ch := make(chan Message, 256)

	b.mu.Lock()
	for _, name := range channels {
		if b.subs[name] == nil {
			b.subs[name] = make(map[chan Message]struct{})
		}
		b.subs[name][ch] = struct{}{}
	}
	b.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			b.mu.Lock()
			for _, name := range channels {
				delete(b.subs[name], ch)
				if len(b.subs[name]) == 0 {
					delete(b.subs, name)
				}
			}
			b.mu.Unlock()
			close(ch)
		})
	}

	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			cleanup()
		}()
	}

	return ch, cleanup, nil
}

// Close drops all subscribers.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.subs = make(map[string]map[chan Message]struct{})
	return nil
}

// PublishJSON is a test helper that publishes an already-typed value.
func (b *MemoryBus) PublishJSON(ctx context.Context, channel string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Publish(ctx, channel, data)
}

// Ensure MemoryBus implements Bus
var _ Bus = (*MemoryBus)(nil)
