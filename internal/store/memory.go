package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"pmedians/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu         sync.Mutex
	runs       map[string]model.RunRecord // id -> record
	runOrder   []string                   // ids in creation order
	deliveries map[string]*WebhookDelivery
	delivOrder []string
	dlq        []WebhookDelivery // dead-lettered deliveries
}

func NewMemory() *Memory {
	return &Memory{
		runs:       map[string]model.RunRecord{},
		deliveries: map[string]*WebhookDelivery{},
	}
}

func (m *Memory) SaveRun(ctx context.Context, rec model.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[rec.ID]; !ok {
		m.runOrder = append(m.runOrder, rec.ID)
	}
	m.runs[rec.ID] = rec
	return nil
}

func (m *Memory) GetRun(ctx context.Context, id string) (model.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.runs[id]
	if !ok {
		return model.RunRecord{}, ErrNotFound
	}
	return rec, nil
}

// ListRuns pages through runs newest first. The cursor is the id of the last
// run of the previous page.
func (m *Memory) ListRuns(ctx context.Context, status, cursor string, limit int) ([]model.RunRecord, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	out := []model.RunRecord{}
	started := cursor == ""
	for k := len(m.runOrder) - 1; k >= 0; k-- {
		id := m.runOrder[k]
		if !started {
			started = id == cursor
			continue
		}
		rec := m.runs[id]
		if status != "" && rec.Status != status {
			continue
		}
		if len(out) == limit {
			return out, out[len(out)-1].ID, nil
		}
		out = append(out, rec)
	}
	return out, "", nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.deliveries[id] = &WebhookDelivery{
		ID: id, EventType: eventType, URL: url, Secret: secret, Payload: payload,
		Status: DeliveryPending, NextAttemptAt: time.Now(),
	}
	m.delivOrder = append(m.delivOrder, id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.delivOrder {
		d := m.deliveries[id]
		if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttemptAt.After(now) {
			out = append(out, *d)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.ResponseCode = responseCode
	if success {
		d.Status = DeliveryDelivered
		return nil
	}
	d.Status = DeliveryRetry
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = time.Now().Add(time.Minute)
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = DeliveryFailed
	d.LastError = lastError
	d.ResponseCode = responseCode
	m.dlq = append(m.dlq, *d)
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	out := []WebhookDelivery{}
	for _, id := range m.delivOrder {
		d := m.deliveries[id]
		if status == "" || d.Status == status {
			out = append(out, *d)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
