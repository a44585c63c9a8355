package event

import (
	"log/slog"
	"sync"

	"github.com/c360/flownet/metric"
)

// Handler receives one event. Handlers run synchronously on the engine's
// owner context: they must return quickly and must not call mutating engine
// operations.
type Handler func(Event)

// Publisher delivers engine events to subscribers in emission order.
type Publisher struct {
	mu      sync.RWMutex
	nextID  int
	byType  map[Type]map[int]Handler
	all     map[int]Handler
	logger  *slog.Logger
	metrics *metric.Metrics
}

// NewPublisher creates a publisher. The metrics argument may be nil.
func NewPublisher(logger *slog.Logger, metrics *metric.Metrics) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		byType:  make(map[Type]map[int]Handler),
		all:     make(map[int]Handler),
		logger:  logger,
		metrics: metrics,
	}
}

// Subscribe registers a handler for the given event types. With no types the
// handler receives every event. The returned function removes the
// subscription.
func (p *Publisher) Subscribe(handler Handler, types ...Type) func() {
	if handler == nil {
		return func() {}
	}

	p.mu.Lock()
	id := p.nextID
	p.nextID++

	if len(types) == 0 {
		p.all[id] = handler
	} else {
		for _, t := range types {
			if p.byType[t] == nil {
				p.byType[t] = make(map[int]Handler)
			}
			p.byType[t][id] = handler
		}
	}
	p.mu.Unlock()

	subscribed := types
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.all, id)
		for _, t := range subscribed {
			delete(p.byType[t], id)
		}
	}
}

// Publish delivers ev synchronously to every matching subscriber. A panic in
// one handler is recovered and logged so it cannot corrupt engine state or
// starve other subscribers.
func (p *Publisher) Publish(ev Event) {
	if ev == nil {
		return
	}

	p.mu.RLock()
	handlers := make([]Handler, 0, len(p.all)+len(p.byType[ev.EventType()]))
	for _, h := range p.all {
		handlers = append(handlers, h)
	}
	for _, h := range p.byType[ev.EventType()] {
		handlers = append(handlers, h)
	}
	p.mu.RUnlock()

	if p.metrics != nil {
		p.metrics.EventsPublished.WithLabelValues(string(ev.EventType())).Inc()
	}

	for _, h := range handlers {
		p.dispatch(h, ev)
	}
}

func (p *Publisher) dispatch(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Event handler panicked",
				"event_type", ev.EventType(),
				"panic", r)
		}
	}()
	h(ev)
}
