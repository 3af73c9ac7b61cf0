package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/leeforge/framework/plugin"
)

var (
	// ErrNoSubscribers is returned when an event has no handler.
	ErrNoSubscribers = errors.New("no subscribers for event")
	// ErrBusClosed is returned by Publish after Close.
	ErrBusClosed = errors.New("event bus closed")
)

// Bus is an in-process plugin.EventBus. Publish runs the handlers of an
// event synchronously, in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]*subscription
	nextID   uint64
	closed   bool
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]*subscription)}
}

type subscription struct {
	bus     *Bus
	name    string
	id      uint64
	handler plugin.EventHandler
}

func (s *subscription) Unsubscribe() {
	s.bus.remove(s.name, s.id)
}

// Publish delivers e to every handler subscribed to e.Name and joins
// their errors.
func (b *Bus) Publish(ctx context.Context, e plugin.Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	subs := append([]*subscription(nil), b.handlers[e.Name]...)
	b.mu.RUnlock()

	if len(subs) == 0 {
		return fmt.Errorf("%w: %s", ErrNoSubscribers, e.Name)
	}

	var errs []error
	for _, sub := range subs {
		if err := sub.handler(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribe registers handler for events named name.
func (b *Bus) Subscribe(name string, handler plugin.EventHandler) plugin.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscription{bus: b, name: name, id: b.nextID, handler: handler}
	b.handlers[name] = append(b.handlers[name], sub)
	return sub
}

// Close drops all subscriptions and rejects further publishing.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.handlers = make(map[string][]*subscription)
	return nil
}

// Topics returns the event names that currently have subscribers.
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.handlers))
	for name, subs := range b.handlers {
		if len(subs) > 0 {
			names = append(names, name)
		}
	}
	return names
}

func (b *Bus) remove(name string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[name]
	for i, sub := range subs {
		if sub.id == id {
			b.handlers[name] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.handlers[name]) == 0 {
		delete(b.handlers, name)
	}
}

var _ plugin.EventBus = (*Bus)(nil)
