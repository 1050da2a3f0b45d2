package notify

import (
	"context"
	"sync"
)

// MemoryBus is the in-process Bus: every engine instance in one process
// shares a single hub, and delivery skips the publishing origin. Slow
// subscribers drop events rather than block publishers — the same
// best-effort delivery the native storage notifications gave.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[int]*memorySub
	next int
}

type memorySub struct {
	origin string
	ch     chan Event
}

// subscriber buffer; bursts beyond this are dropped, not queued.
const memoryBusBuffer = 64

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]*memorySub)}
}

func (b *MemoryBus) Publish(_ context.Context, e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.origin == e.Origin {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			// Subscriber is saturated. Dropping matches the substrate being
			// modeled: storage notifications carried no delivery guarantee.
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, origin string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	sub := &memorySub{origin: origin, ch: make(chan Event, memoryBusBuffer)}
	b.subs[id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, cancel
}
