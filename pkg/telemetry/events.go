package telemetry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/msrv/pkg/engine"
)

// EventSubscriber handles lifecycle events.
type EventSubscriber func(event engine.LifecycleEvent)

// EventFilter reports whether a subscriber wants an event. A nil filter accepts everything.
type EventFilter func(event engine.LifecycleEvent) bool

type subscription struct {
	handle EventSubscriber
	accept EventFilter
}

func (s subscription) deliver(event engine.LifecycleEvent) {
	if s.accept != nil && !s.accept(event) {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn().
				Str("event", string(event.Type)).
				Interface("panic", r).
				Msg("Event subscriber panicked")
		}
	}()
	s.handle(event)
}

// EventPublisher fans lifecycle events out to subscribers and implements engine.Reporter.
// In async mode a single goroutine delivers events in emission order and OnEvent never
// blocks: events that do not fit in the buffer are counted and dropped.
type EventPublisher struct {
	enabled bool
	queue   chan engine.LifecycleEvent // nil in sync mode

	mu   sync.RWMutex
	subs []subscription

	dropped  atomic.Int64
	stopping chan struct{}
	stopOnce sync.Once
	drained  chan struct{}
}

// NewEventPublisher creates a publisher. A disabled config yields a publisher that
// discards everything.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{
		enabled:  cfg.Enabled,
		stopping: make(chan struct{}),
		drained:  make(chan struct{}),
	}
	if !cfg.Enabled || !cfg.EnableAsync {
		close(ep.drained)
		return ep, nil
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
	}

	ep.queue = make(chan engine.LifecycleEvent, cfg.BufferSize)
	go ep.run()
	return ep, nil
}

// Subscribe registers a subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subs = append(ep.subs, subscription{handle: subscriber, accept: filter})
}

// OnEvent publishes an event.
func (ep *EventPublisher) OnEvent(event engine.LifecycleEvent) {
	if !ep.enabled {
		return
	}
	if ep.queue == nil {
		ep.publish(event)
		return
	}

	select {
	case <-ep.stopping:
		ep.dropped.Add(1)
		return
	default:
	}

	select {
	case ep.queue <- event:
	default:
		ep.dropped.Add(1)
		log.Warn().
			Str("run_id", event.RunID).
			Str("event", string(event.Type)).
			Msg("Event buffer full, event dropped")
	}
}

// Dropped returns the number of events that were not delivered.
func (ep *EventPublisher) Dropped() int64 {
	return ep.dropped.Load()
}

func (ep *EventPublisher) publish(event engine.LifecycleEvent) {
	ep.mu.RLock()
	subs := ep.subs
	ep.mu.RUnlock()

	for _, s := range subs {
		s.deliver(event)
	}
}

func (ep *EventPublisher) run() {
	defer close(ep.drained)

	for {
		select {
		case event := <-ep.queue:
			ep.publish(event)
		case <-ep.stopping:
			for {
				select {
				case event := <-ep.queue:
					ep.publish(event)
				default:
					return
				}
			}
		}
	}
}

// Shutdown stops accepting events and waits for the buffered ones to be delivered.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	ep.stopOnce.Do(func() { close(ep.stopping) })

	select {
	case <-ep.drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

// FilterByType accepts events of the given types.
func FilterByType(types ...engine.EventType) EventFilter {
	set := make(map[engine.EventType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(event engine.LifecycleEvent) bool {
		_, ok := set[event.Type]
		return ok
	}
}

// FilterByRunID accepts events of one run.
func FilterByRunID(runID string) EventFilter {
	return func(event engine.LifecycleEvent) bool {
		return event.RunID == runID
	}
}

// FilterTerminal accepts search boundaries, cache hits and transitions into a terminal
// state.
func FilterTerminal() EventFilter {
	return func(event engine.LifecycleEvent) bool {
		switch event.Type {
		case engine.EventTypeSearchStarted, engine.EventTypeSearchFinished, engine.EventTypeCacheHit:
			return true
		case engine.EventTypeTransition:
			return event.To.IsTerminal()
		}
		return false
	}
}
