// Package events fans order state transitions out to in-process
// subscribers. Events are published only after the ledger transaction that
// caused them has committed.
package events

import (
	"fmt"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
)

// Topic names an order transition.
type Topic string

const (
	OrderOpened    Topic = "order.opened"
	OrderFilled    Topic = "order.filled"
	OrderCancelled Topic = "order.cancelled"
	OrderRejected  Topic = "order.rejected"
)

// Topics lists every topic in publication order of an order's life.
var Topics = []Topic{OrderOpened, OrderFilled, OrderCancelled, OrderRejected}

// Event describes one transition. Position is the symbol's position after
// a fill, nil when flat or for non-fill events. Rule is set for rejections.
type Event struct {
	Topic       Topic
	Order       domain.Order
	Position    *domain.Position
	RealizedPnL decimal.Decimal
	Rule        string
	Timestamp   time.Time
}

// Publisher is what the engine depends on.
type Publisher interface {
	Publish(e Event)
}

// Nop discards every event.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(Event) {}

// Compile-time interface checks.
var (
	_ Publisher = (*Bus)(nil)
	_ Publisher = Nop{}
)

// Bus delivers events asynchronously, one goroutine per handler call.
type Bus struct {
	bus EventBus.Bus
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{bus: EventBus.New()}
}

// Publish sends e to the subscribers of e.Topic.
func (b *Bus) Publish(e Event) {
	b.bus.Publish(string(e.Topic), e)
}

// Subscribe registers fn for topic. Calls for one topic are serialised.
func (b *Bus) Subscribe(topic Topic, fn func(Event)) error {
	if err := b.bus.SubscribeAsync(string(topic), fn, true); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	return nil
}

// SubscribeAll registers fn for every topic.
func (b *Bus) SubscribeAll(fn func(Event)) error {
	for _, t := range Topics {
		if err := b.Subscribe(t, fn); err != nil {
			return err
		}
	}
	return nil
}

// Wait blocks until every in-flight handler has returned.
func (b *Bus) Wait() {
	b.bus.WaitAsync()
}
