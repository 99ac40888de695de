package webhooks

import (
	"context"
	"encoding/json"

	"pmedians/internal/model"
	"pmedians/internal/store"
)

// Target is a webhook endpoint and its signing secret.
type Target struct {
	URL    string
	Secret string
}

// Publisher queues terminal run events for delivery to every target; the
// Worker does the actual sending.
type Publisher struct {
	Store   store.Store
	Targets []Target
}

func NewPublisher(s store.Store, targets ...Target) *Publisher {
	return &Publisher{Store: s, Targets: targets}
}

// Publish enqueues ev when the run has finished; progress events are not
// sent out.
func (p *Publisher) Publish(ctx context.Context, ev model.Event) error {
	if ev.Type != model.EventRunCompleted && ev.Type != model.EventRunFailed {
		return nil
	}
	if len(p.Targets) == 0 {
		return nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	for _, t := range p.Targets {
		if _, err := p.Store.EnqueueWebhook(ctx, ev.Type, t.URL, t.Secret, body); err != nil {
			return err
		}
	}
	return nil
}
