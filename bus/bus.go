// Package bus moves messages between the localization pipelines and the rest of the system.
// Topics are dot separated; subscription patterns may use `*` for exactly one section, e.g.
// "CameraGateway.*.Frame".
package bus

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.opencensus.io/trace"
	"go.opencensus.io/trace/propagation"

	"github.com/labviros/is-aruco-localization/logging"
)

// ErrClosed is returned when publishing to or subscribing on a closed bus.
var ErrClosed = errors.New("bus is closed")

// Message is one unit of communication.
type Message struct {
	Topic         string
	Body          []byte
	CorrelationID uuid.UUID
	// Metadata holds the binary span context of the sender, empty when the sender was not traced.
	Metadata  []byte
	CreatedAt time.Time
}

// NewMessage builds a message carrying the span context found in ctx.
func NewMessage(ctx context.Context, topic string, body []byte) Message {
	msg := Message{
		Topic:         topic,
		Body:          body,
		CorrelationID: uuid.New(),
		CreatedAt:     time.Now(),
	}
	if span := trace.FromContext(ctx); span != nil {
		msg.Metadata = propagation.Binary(span.SpanContext())
	}
	return msg
}

// Reply builds a message answering m: it keeps the correlation id.
func (m Message) Reply(ctx context.Context, topic string, body []byte) Message {
	reply := NewMessage(ctx, topic, body)
	reply.CorrelationID = m.CorrelationID
	return reply
}

// SpanContext returns the span context of the sender.
func (m Message) SpanContext() (trace.SpanContext, bool) {
	if len(m.Metadata) == 0 {
		return trace.SpanContext{}, false
	}
	return propagation.FromBinary(m.Metadata)
}

// Handler receives the messages of a subscription.
type Handler func(ctx context.Context, msg Message)

// Publisher sends messages.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Subscriber delivers messages whose topic matches a pattern. The returned function cancels the
// subscription.
type Subscriber interface {
	Subscribe(pattern string, handler Handler) (func(), error)
}

// PublishSubscriber is both ends of a bus.
type PublishSubscriber interface {
	Publisher
	Subscriber
}

type subscription struct {
	sections []string
	handler  Handler
}

// Local is an in-process bus. Handlers run synchronously on the publishing goroutine, in the
// order they subscribed, so a slow handler slows its publisher down.
type Local struct {
	mu     sync.RWMutex
	subs   map[uint64]subscription
	nextID uint64
	closed bool
	logger logging.Logger
}

// NewLocal returns an empty in-process bus.
func NewLocal(logger logging.Logger) *Local {
	return &Local{subs: map[uint64]subscription{}, logger: logger}
}

// Subscribe registers handler for every topic matching pattern.
func (l *Local) Subscribe(pattern string, handler Handler) (func(), error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errors.New("nil handler")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	id := l.nextID
	l.nextID++
	l.subs[id] = subscription{sections: strings.Split(pattern, "."), handler: handler}
	l.logger.Debugw("subscribed", "pattern", pattern)

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
		})
	}, nil
}

// Publish delivers msg to every matching subscription. Having no subscriber is not an error.
func (l *Local) Publish(ctx context.Context, msg Message) error {
	if err := ValidateTopic(msg.Topic); err != nil {
		return err
	}
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return ErrClosed
	}
	ids := lo.Keys(l.subs)
	slices.Sort(ids)
	handlers := make([]Handler, 0, len(ids))
	topic := strings.Split(msg.Topic, ".")
	for _, id := range ids {
		if sub := l.subs[id]; matches(sub.sections, topic) {
			handlers = append(handlers, sub.handler)
		}
	}
	l.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, msg)
	}
	return nil
}

// Close drops every subscription. Later calls fail with ErrClosed.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.subs = map[uint64]subscription{}
	return nil
}

func matches(pattern, topic []string) bool {
	if len(pattern) != len(topic) {
		return false
	}
	for i, p := range pattern {
		if p != "*" && p != topic[i] {
			return false
		}
	}
	return true
}

// ValidateTopic checks that a topic has no empty or wildcard sections.
func ValidateTopic(topic string) error {
	for _, s := range strings.Split(topic, ".") {
		if s == "" || strings.Contains(s, "*") {
			return errors.Errorf("invalid topic %q", topic)
		}
	}
	return nil
}

// ValidatePattern checks that a pattern has no empty sections and only whole section wildcards.
func ValidatePattern(pattern string) error {
	for _, s := range strings.Split(pattern, ".") {
		if s == "" || (s != "*" && strings.Contains(s, "*")) {
			return errors.Errorf("invalid topic pattern %q", pattern)
		}
	}
	return nil
}
