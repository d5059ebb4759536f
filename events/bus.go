// Package events implements the typed event bus that replaces the core's
// loosely-typed emitter pattern (spec §9): a closed set of typed events
// delivered by Publish calling each subscribed handler synchronously (no
// channels), with subscriber panics recovered and logged.
package events

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/a-cube-io/ereceipts-sdk-go/logging"
)

// Topic names one of the closed set of event families the core emits.
type Topic string

const (
	TopicAuth    Topic = "auth"
	TopicStorage Topic = "storage"
	TopicQueue   Topic = "queue"
	TopicMetrics Topic = "performance:metrics"
)

// Event is the envelope every subscriber receives: Name is one of the
// closed set of Name constants declared in events.go, and Payload is that
// Name's matching typed struct (e.g. NameLoginSucceeded carries a
// LoginSucceededEvent). Unknown Names are ignored by subscribers that don't
// recognise them.
type Event struct {
	Topic   Topic
	Name    Name
	Payload any
}

// Handler processes one event. Panics inside a Handler are recovered by the
// bus and logged; they never bring down the dispatching goroutine.
type Handler func(Event)

// Bus is a synchronous, hub-and-spoke broadcast of Events to per-topic
// subscribers (spec §9: breaks orchestrator/processor/analytics cycles).
type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic][]Handler
	logger *logging.Logger
}

// New constructs an empty Bus. logger may be nil.
func New(logger *logging.Logger) *Bus {
	return &Bus{subs: make(map[Topic][]Handler), logger: logger}
}

// Subscribe registers h to receive every Event published on topic. Returns
// an unsubscribe function.
func (b *Bus) Subscribe(topic Topic, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], h)
	idx := len(b.subs[topic]) - 1
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		handlers := b.subs[topic]
		if idx < len(handlers) {
			handlers[idx] = nil
		}
	}
}

// Publish delivers ev synchronously to every subscriber of ev.Topic.
// Subscriber exceptions are caught and logged (spec §5 shared-resource policy).
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subs[ev.Topic]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if h == nil {
			continue
		}
		b.dispatch(h, ev)
	}
}

func (b *Bus) dispatch(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.WithFields(logrus.Fields{"topic": ev.Topic, "event": ev.Name, "panic": r}).
				Error("event subscriber panicked")
		}
	}()
	h(ev)
}
