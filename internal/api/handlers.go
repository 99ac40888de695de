package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"pmedians/internal/instance"
	"pmedians/internal/model"
	"pmedians/internal/runner"
	"pmedians/internal/store"
)

// SolveHandler handles POST /v1/solve. The solve runs in the background and
// the response is 202 with the run id, unless ?wait=true asks for the
// finished run.
func (s *Server) SolveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.Limiter != nil && !s.Limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "solve rate limit exceeded", r.URL.Path)
		return
	}
	var req model.SolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	mode, err := validateSolveRequest(&req, s.MaxVars)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid solve request", err.Error(), r.URL.Path)
		return
	}
	var inst *instance.Instance
	if len(req.Depots) > 0 {
		inst, err = instance.New(*req.Config, req.Depots, req.Customers)
	} else {
		inst, err = instance.Generate(*req.Config)
	}
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid instance", err.Error(), r.URL.Path)
		return
	}

	limit := s.TimeLimit
	if d := time.Duration(req.TimeLimitMs) * time.Millisecond; d > 0 && (limit == 0 || d < limit) {
		limit = d
	}
	rec := model.RunRecord{
		ID:             uuid.NewString(),
		Status:         model.RunQueued,
		Config:         inst.Config(),
		CompletionMode: mode.String(),
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.Store.SaveRun(r.Context(), rec); err != nil {
		writeProblem(w, http.StatusInternalServerError, "Save run failed", err.Error(), r.URL.Path)
		return
	}
	s.publish(r.Context(), model.Event{ID: uuid.NewString(), Type: model.EventRunQueued, RunID: rec.ID, TS: rec.CreatedAt})

	opts := runner.Options{RunID: rec.ID, CreatedAt: rec.CreatedAt, TimeLimit: limit, CompletionMode: mode}
	if r.URL.Query().Get("wait") == "true" {
		rep, err := s.Runner.Run(r.Context(), inst, opts)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Solve failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, rep.Record)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), limit+time.Minute)
		defer cancel()
		if _, err := s.Runner.Run(ctx, inst, opts); err != nil {
			s.Logger.Printf("run %s: %v", rec.ID, err)
		}
	}()
	w.Header().Set("Location", "/v1/runs/"+rec.ID)
	writeJSON(w, http.StatusAccepted, model.SolveResponse{RunID: rec.ID, Status: rec.Status})
}

func (s *Server) publish(ctx context.Context, ev model.Event) {
	if s.Bus == nil {
		return
	}
	if err := s.Bus.Publish(ctx, ev); err != nil {
		s.Logger.Printf("run %s: publish %s: %v", ev.RunID, ev.Type, err)
	}
}

// RunsHandler handles GET /v1/runs
func (s *Server) RunsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/runs" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	limit := 100
	if v := q.Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	items, next, err := s.Store.ListRuns(r.Context(), q.Get("status"), q.Get("cursor"), limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List runs failed", err.Error(), r.URL.Path)
		return
	}
	if items == nil {
		items = []model.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// RunByIDHandler handles GET /v1/runs/{id} and GET /v1/runs/{id}/events/stream
func (s *Server) RunByIDHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	rest := strings.TrimPrefix(path, "/v1/runs/")
	if rest == path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	rec, err := s.Store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Run not found", id, path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Get run failed", err.Error(), path)
		return
	}
	switch {
	case len(parts) == 1:
		writeJSON(w, http.StatusOK, rec)
	case len(parts) == 3 && parts[1] == "events" && parts[2] == "stream":
		s.streamRun(w, r, rec)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", path)
	}
}

// streamRun sends the run's events as server-sent events until the run ends
// or the client goes away. A run that is already over gets one final event.
func (s *Server) streamRun(w http.ResponseWriter, r *http.Request, rec model.RunRecord) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	send := func(typ string, data any) {
		b, _ := json.Marshal(data)
		fmt.Fprintf(w, "event: %s\n", typ)
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
	}
	heartbeat := func() {
		send("heartbeat", map[string]string{"runId": rec.ID, "ts": time.Now().UTC().Format(time.RFC3339)})
	}

	ch := s.Bus.Subscribe(rec.ID)
	defer s.Bus.Unsubscribe(rec.ID, ch)
	// the run may have finished between GetRun and Subscribe
	if latest, err := s.Store.GetRun(r.Context(), rec.ID); err == nil {
		rec = latest
	}
	if rec.Done() {
		send(terminalEvent(rec), rec)
		return
	}
	heartbeat()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			send(ev.Type, ev)
			if ev.Type == model.EventRunCompleted || ev.Type == model.EventRunFailed {
				return
			}
		case <-ticker.C:
			heartbeat()
		}
	}
}

func terminalEvent(rec model.RunRecord) string {
	if rec.Status == model.RunFailed {
		return model.EventRunFailed
	}
	return model.EventRunCompleted
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	// Check DB and Redis connectivity when they are used
	type pinger interface{ Ping(ctx context.Context) error }
	for _, dep := range []any{s.Store, s.Bus} {
		p, ok := dep.(pinger)
		if !ok {
			continue
		}
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		err := p.Ping(ctx)
		cancel()
		if err != nil {
			writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, 200, map[string]string{"status": "ready"})
}

// Admin: webhook deliveries list
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/webhook-deliveries" {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(405)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	items, err := s.Store.ListWebhookDeliveries(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		writeProblem(w, 500, "List deliveries failed", err.Error(), r.URL.Path)
		return
	}
	if items == nil {
		items = []store.WebhookDelivery{}
	}
	writeJSON(w, 200, map[string]any{"items": items})
}

