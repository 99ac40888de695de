// Package events fans run lifecycle events out to stream subscribers (SSE,
// WebSocket) and to other sinks such as webhooks.
package events

import (
	"context"
	"errors"
	"sync"

	"pmedians/internal/model"
)

// AllRuns is the subscription key that receives the events of every run.
const AllRuns = "*"

// Publisher accepts run events.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

// Bus is a Publisher that stream handlers can subscribe to, per run or for
// AllRuns.
type Bus interface {
	Publisher
	Subscribe(runID string) chan model.Event
	Unsubscribe(runID string, ch chan model.Event)
}

// Broker is the in-process Bus. Slow subscribers drop events rather than
// block publishers.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan model.Event]struct{} // runId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan model.Event]struct{}{}}
}

func (b *Broker) Subscribe(runID string) chan model.Event {
	ch := make(chan model.Event, 8)
	b.mu.Lock()
	if b.subs[runID] == nil {
		b.subs[runID] = map[chan model.Event]struct{}{}
	}
	b.subs[runID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(runID string, ch chan model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[runID]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, runID)
	}
	close(ch)
}

func (b *Broker) Publish(ctx context.Context, ev model.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, key := range []string{ev.RunID, AllRuns} {
		for ch := range b.subs[key] {
			select {
			case ch <- ev:
			default:
			}
		}
	}
	return nil
}

// Multi publishes to every sink and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev model.Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
