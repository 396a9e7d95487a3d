package events

import (
	"context"
	"fmt"
	"sync"

	"expedite-backend/internal/logger"
	"expedite-backend/internal/metrics"
)

// Handler reacts to one event. Errors are logged; they never reach the publisher.
type Handler func(ctx context.Context, e Event) error

// Publisher is what the services depend on.
type Publisher interface {
	Publish(ctx context.Context, events ...Event)
}

// Dispatcher delivers events to handlers in subscription order.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Name][]Handler
	all      []Handler
	metrics  *metrics.Metrics
}

func NewDispatcher(m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{handlers: map[Name][]Handler{}, metrics: m}
}

func (d *Dispatcher) Subscribe(name Name, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = append(d.handlers[name], h)
}

// SubscribeAll registers a handler for every event name.
func (d *Dispatcher) SubscribeAll(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.all = append(d.all, h)
}

func (d *Dispatcher) Publish(ctx context.Context, events ...Event) {
	for _, e := range events {
		d.mu.RLock()
		handlers := append(append([]Handler(nil), d.handlers[e.EventName()]...), d.all...)
		d.mu.RUnlock()

		for _, h := range handlers {
			if err := safeHandle(ctx, h, e); err != nil {
				logger.ErrorContext(ctx, "Event handler failed", "event", e.EventName(), "key", e.Key(), "error", err)
				d.metrics.EventPublishFailed(string(e.EventName()))
			}
		}
	}
}

func safeHandle(ctx context.Context, h Handler, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, e)
}
