package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"pmedians/internal/model"
	"pmedians/internal/store"
)

type recordStore struct {
	*store.Memory
	mu    sync.Mutex
	marks []MarkRec
	fails []FailRec
}
type MarkRec struct {
	ID            string
	Success       bool
	Code, Latency int
	LastErr       string
}
type FailRec struct {
	ID            string
	Code, Latency int
	LastErr       string
}

func (r *recordStore) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.marks = append(r.marks, MarkRec{ID: id, Success: success, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.MarkWebhookDelivery(ctx, id, success, nextAttemptAt, lastError, responseCode, latencyMs)
}
func (r *recordStore) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.fails = append(r.fails, FailRec{ID: id, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.FailWebhookDelivery(ctx, id, lastError, responseCode, latencyMs)
}

func TestWorkerProcessOnce_SuccessAndSignature(t *testing.T) {
	var gotSig, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotType = r.Header.Get("X-Event-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := &Worker{Store: rs, HTTP: srv.Client(), Stop: make(chan struct{}), MaxAttempts: 3}
	pub := NewPublisher(rs, Target{URL: srv.URL, Secret: "secret"})
	ev := model.Event{ID: "evt1", Type: model.EventRunCompleted, RunID: "r1", TS: time.Now().UTC()}
	if err := pub.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	w.processOnce()

	if gotType != model.EventRunCompleted {
		t.Fatalf("missing event type header: %q", gotType)
	}
	if err := Verify("secret", gotSig, gotBody, time.Now(), time.Minute); err != nil {
		t.Fatalf("signature %q does not verify: %v", gotSig, err)
	}
	var decoded model.Event
	if err := json.Unmarshal(gotBody, &decoded); err != nil || decoded.RunID != "r1" {
		t.Fatalf("unexpected body %s: %v", gotBody, err)
	}
	if len(rs.marks) == 0 || !rs.marks[0].Success {
		t.Fatalf("expected mark success, got: %+v", rs.marks)
	}
}

func TestWorkerProcessOnce_Fail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer srv.Close()
	rs := &recordStore{Memory: store.NewMemory()}
	w := &Worker{Store: rs, HTTP: srv.Client(), Stop: make(chan struct{}), MaxAttempts: 1}
	_, _ = rs.Memory.EnqueueWebhook(context.Background(), model.EventRunFailed, srv.URL, "", []byte(`{}`))
	w.processOnce()
	if len(rs.fails) == 0 {
		t.Fatalf("expected fail recorded")
	}
	if rs.fails[0].Code != 500 {
		t.Fatalf("expected code 500, got %d", rs.fails[0].Code)
	}
}

func TestWorkerProcessOnce_Retry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(503) }))
	defer srv.Close()
	rs := &recordStore{Memory: store.NewMemory()}
	w := &Worker{Store: rs, HTTP: srv.Client(), Stop: make(chan struct{}), MaxAttempts: 3}
	_, _ = rs.Memory.EnqueueWebhook(context.Background(), model.EventRunCompleted, srv.URL, "", []byte(`{}`))
	w.processOnce()
	if len(rs.marks) != 1 || rs.marks[0].Success || len(rs.fails) != 0 {
		t.Fatalf("expected one retry mark, got marks=%+v fails=%+v", rs.marks, rs.fails)
	}
	// rescheduled one backoff step out, so nothing is due now
	w.processOnce()
	if len(rs.marks) != 1 {
		t.Fatalf("retry fired early: %+v", rs.marks)
	}
}

func TestPublisherSkipsProgressEvents(t *testing.T) {
	rs := store.NewMemory()
	pub := NewPublisher(rs, Target{URL: "http://example.invalid"})
	if err := pub.Publish(context.Background(), model.Event{Type: model.EventRunStarted}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	items, _ := rs.ListWebhookDeliveries(context.Background(), "", 0)
	if len(items) != 0 {
		t.Fatalf("progress events must not be queued: %+v", items)
	}
}

func TestNextBackoff(t *testing.T) {
	if nextBackoff(0) != time.Second || nextBackoff(3) != 8*time.Second {
		t.Fatalf("unexpected backoff steps")
	}
	if nextBackoff(50) != 1024*time.Second {
		t.Fatalf("backoff must cap at 2^10 s, got %s", nextBackoff(50))
	}
}
