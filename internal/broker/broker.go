package broker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rzpsarthak13/entity-creator/internal/registry"
)

// ChangeKind says what happened to an entity.
type ChangeKind string

const (
	EntityCreated ChangeKind = "created"
	EntityUpdated ChangeKind = "updated"
	EntityDeleted ChangeKind = "deleted"
)

// Change is published whenever an entity is created, updated or deleted.
type Change struct {
	Kind      ChangeKind       `json:"kind"`
	Entity    *registry.Entity `json:"entity"`
	Timestamp time.Time        `json:"timestamp"`
}

type subscriber struct {
	name string
	ch   chan Change
}

// Broker fans entity changes out to subscribers. A subscriber either
// follows every entity or a single one by name.
//
// Publish never blocks: a subscriber whose buffer is full misses the
// change.
type Broker struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	buffer int
	closed bool
	logger *slog.Logger
}

// New creates a broker. buffer is the channel size of each subscriber.
func New(buffer int, logger *slog.Logger) *Broker {
	if buffer <= 0 {
		buffer = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subs:   make(map[int]*subscriber),
		buffer: buffer,
		logger: logger.With("component", "broker"),
	}
}

// Subscribe returns a channel of changes to the named entity, or to all
// entities if name is empty, and a function that ends the subscription.
// The channel is closed when the subscription ends or the broker closes.
func (b *Broker) Subscribe(name string) (<-chan Change, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Change, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = &subscriber{name: name, ch: ch}

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Broker) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Publish delivers a change of the given kind to every matching subscriber.
func (b *Broker) Publish(kind ChangeKind, entity *registry.Entity) {
	if entity == nil {
		return
	}
	change := Change{Kind: kind, Entity: entity, Timestamp: time.Now()}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, sub := range b.subs {
		if sub.name != "" && sub.name != entity.Name {
			continue
		}
		select {
		case sub.ch <- change:
		default:
			b.logger.Warn("subscriber is full, dropping change", "subscriber", id, "entity", entity.Name, "kind", kind)
		}
	}
}

// Close ends every subscription. Later subscriptions are closed at once.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
