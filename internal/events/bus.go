package events

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps an Event for delivery: stable ID, topic, emission time, and
// the JSON-encoded payload.
type Envelope struct {
	ID      string          `json:"id"`
	Topic   string          `json:"topic"`
	Time    time.Time       `json:"time"`
	Payload json.RawMessage `json:"payload"`
}

// newEnvelope seals an event. Payload marshal errors are impossible for the
// variants in this package (plain structs), but are guarded anyway.
func newEnvelope(ev Event) (*Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:      uuid.NewString(),
		Topic:   ev.Topic(),
		Time:    time.Now().UTC(),
		Payload: payload,
	}, nil
}

// Bus is an in-process pub/sub event bus. Subscribers receive envelopes on
// buffered channels; slow subscribers drop rather than block emitters.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan *Envelope
	allSubs     []chan *Envelope
	logger      *log.Logger
	bufferSize  int
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string][]chan *Envelope),
		logger:      log.New(log.Writer(), "[EVENTS] ", log.LstdFlags),
		bufferSize:  100,
	}
}

// Subscribe returns a channel receiving envelopes for the given topics.
// Pass no topics to receive everything.
func (b *Bus) Subscribe(topics ...string) chan *Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Envelope, b.bufferSize)
	if len(topics) == 0 {
		b.allSubs = append(b.allSubs, ch)
	} else {
		for _, t := range topics {
			b.subscribers[t] = append(b.subscribers[t], ch)
		}
	}
	return ch
}

// Unsubscribe removes a subscription channel and closes it.
func (b *Bus) Unsubscribe(ch chan *Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for t, subs := range b.subscribers {
		b.subscribers[t] = removeChan(subs, ch)
	}
	b.allSubs = removeChan(b.allSubs, ch)
	close(ch)
}

func removeChan(subs []chan *Envelope, ch chan *Envelope) []chan *Envelope {
	out := make([]chan *Envelope, 0, len(subs))
	for _, c := range subs {
		if c != ch {
			out = append(out, c)
		}
	}
	return out
}

// marshal renders the envelope as JSON for durable transports.
func (e *Envelope) marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Emit seals the event and fans it out. Never blocks; full subscriber
// channels are skipped.
func (b *Bus) Emit(_ context.Context, ev Event) {
	env, err := newEnvelope(ev)
	if err != nil {
		b.logger.Printf("drop event %s: %v", ev.Topic(), err)
		return
	}
	b.deliver(env)
}

func (b *Bus) deliver(env *Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	deliver := func(ch chan *Envelope) {
		select {
		case ch <- env:
		default:
			// Subscriber too slow; event dropped for that subscriber only.
		}
	}
	for _, ch := range b.subscribers[env.Topic] {
		deliver(ch)
	}
	for _, ch := range b.allSubs {
		deliver(ch)
	}
}
