package bus

import (
	"context"
	"sync"
)

// MemoryBus is an in-process MessageBus for testing and single-process
// deployments. Messages are delivered asynchronously to all exact-subject
// subscribers.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[int]*memorySubscription
	nextID int
	closed bool
	wg     sync.WaitGroup
}

// NewMemoryBus creates an in-memory message bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[int]*memorySubscription)}
}

// Publish delivers the message to every subscriber of the subject.
func (b *MemoryBus) Publish(ctx context.Context, subject string, data []byte) error {
	if b == nil {
		return ErrClosed
	}
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	var handlers []MessageHandler
	for _, sub := range b.subs[subject] {
		handlers = append(handlers, sub.handler)
	}
	b.mu.RUnlock()

	msg := &Message{Subject: subject, Data: append([]byte(nil), data...)}
	for _, handler := range handlers {
		handler := handler
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			handler(msg)
		}()
	}
	return nil
}

// Subscribe registers a handler for the exact subject.
func (b *MemoryBus) Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error) {
	if b == nil || handler == nil {
		return nil, ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.nextID++
	sub := &memorySubscription{bus: b, subject: subject, id: b.nextID, handler: handler}
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[int]*memorySubscription)
	}
	b.subs[subject][sub.id] = sub
	return sub, nil
}

// Close shuts down the bus, waits for in-flight deliveries, and removes all
// subscriptions.
func (b *MemoryBus) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subs = make(map[string]map[int]*memorySubscription)
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}

type memorySubscription struct {
	bus     *MemoryBus
	subject string
	id      int
	handler MessageHandler
}

func (s *memorySubscription) Unsubscribe() error {
	if s == nil || s.bus == nil {
		return ErrClosed
	}
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if subs, ok := s.bus.subs[s.subject]; ok {
		delete(subs, s.id)
		if len(subs) == 0 {
			delete(s.bus.subs, s.subject)
		}
	}
	return nil
}

func (s *memorySubscription) Subject() string {
	if s == nil {
		return ""
	}
	return s.subject
}
