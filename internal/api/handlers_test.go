package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"pmedians/internal/events"
	"pmedians/internal/mip"
	"pmedians/internal/model"
	"pmedians/internal/store"
	"pmedians/internal/webhooks"
)

const scenarioA = `{
	"config": {"timePeriods": 1, "maxActiveDepotsPerPeriod": 1, "maxCustomersPerDepot": 1, "depotUsageCost": 10},
	"depots": [{"location": {"x": 0, "y": 0}}],
	"customers": [{"location": {"x": 3, "y": 4}}]
}`

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st := store.NewMemory()
	s := New(st, events.NewBroker(), webhooks.NewPublisher(st, webhooks.Target{URL: "http://hooks.invalid/run", Secret: "s3"}))
	s.Logger = log.New(io.Discard, "", 0)
	return s
}

func mux(s *Server) *http.ServeMux {
	m := http.NewServeMux()
	m.HandleFunc("/v1/solve", s.SolveHandler)
	m.HandleFunc("/v1/runs", s.RunsHandler)
	m.HandleFunc("/v1/runs/ws", s.RunsWSHandler)
	m.HandleFunc("/v1/runs/", s.RunByIDHandler)
	return m
}

func post(s *Server, target, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.SolveHandler(rr, req)
	return rr
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, 200, rr.Code)
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, 200, rr.Code)
}

func TestSolveWait(t *testing.T) {
	s := newTestServer(t)
	rr := post(s, "/v1/solve?wait=true", scenarioA)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var rec model.RunRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, "optimal", rec.Status)
	require.NotNil(t, rec.Result)
	assert.InDelta(t, 15, rec.Result.ObjVal, 1e-6)
	require.NotNil(t, rec.Solution)
	require.Len(t, rec.Solution.Periods, 1)
	assert.Equal(t, []int{0}, rec.Solution.Periods[0].ActiveDepots)

	// the finished run is listed and fetchable
	rr = httptest.NewRecorder()
	s.RunsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/runs?limit=5", nil))
	require.Equal(t, 200, rr.Code)
	var page struct {
		Items []model.RunRecord `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, rec.ID, page.Items[0].ID)

	rr = httptest.NewRecorder()
	s.RunByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/runs/"+rec.ID, nil))
	assert.Equal(t, 200, rr.Code)

	// the completion was queued for the webhook target
	items, err := s.Store.ListWebhookDeliveries(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.EventRunCompleted, items[0].EventType)
}

func TestSolveInfeasibleWaitReportsIIS(t *testing.T) {
	s := newTestServer(t)
	body := strings.Replace(scenarioA, `"maxActiveDepotsPerPeriod": 1`, `"maxActiveDepotsPerPeriod": 0`, 1)
	rr := post(s, "/v1/solve?wait=true", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &raw))
	assert.Equal(t, "infeasible", raw["status"])
	result := raw["result"].(map[string]any)
	assert.Nil(t, result["objVal"], "no solution encodes as null")
	assert.ElementsMatch(t, []any{"max_active_depots_t0", "single_assignment_i0", "service_requires_active_j0_t0"}, raw["iis"])
}

func TestSolveAsyncAndStream(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(mux(s))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/solve", "application/json", strings.NewReader(scenarioA))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var sr model.SolveResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sr))
	assert.Equal(t, model.RunQueued, sr.Status)
	assert.Equal(t, "/v1/runs/"+sr.RunID, resp.Header.Get("Location"))

	// the stream ends with the terminal event whether the run finished
	// before or after the subscription
	stream, err := http.Get(ts.URL + "/v1/runs/" + sr.RunID + "/events/stream")
	require.NoError(t, err)
	defer stream.Body.Close()
	assert.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))
	var last string
	sc := bufio.NewScanner(stream.Body)
	for sc.Scan() {
		if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
			last = name
		}
	}
	assert.Equal(t, model.EventRunCompleted, last)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	rec, err := s.Store.GetRun(ctx, sr.RunID)
	require.NoError(t, err)
	assert.Equal(t, "optimal", rec.Status)
}

func TestRunsWebSocket(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(mux(s))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/runs/ws"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer c.Close()
	_ = c.SetReadDeadline(time.Now().Add(10 * time.Second))

	var msg wsMessage
	require.NoError(t, c.ReadJSON(&msg))
	assert.Equal(t, "connection_ack", msg.Type)

	// round-trip a ping so the subscription is known to be in place
	require.NoError(t, c.WriteJSON(wsMessage{Type: "ping"}))
	require.NoError(t, c.ReadJSON(&msg))
	assert.Equal(t, "pong", msg.Type)

	rr := post(s, "/v1/solve?wait=true", scenarioA)
	require.Equal(t, http.StatusOK, rr.Code)

	var types []string
	for len(types) == 0 || types[len(types)-1] != model.EventRunCompleted {
		require.NoError(t, c.ReadJSON(&msg))
		require.Equal(t, "next", msg.Type)
		var ev model.Event
		require.NoError(t, json.Unmarshal(msg.Payload, &ev))
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{model.EventRunQueued, model.EventRunStarted, model.EventRunCompleted}, types)
}

func TestSolveValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"unknown field", `{"config": {"timePeriods": 1}, "nope": 1}`},
		{"missing config", `{}`},
		{"invalid config", `{"config": {"timePeriods": 0, "maxCustomersPerDepot": 1, "depots": 1, "customers": 1}}`},
		{"depots without customers", `{"config": {"timePeriods": 1, "maxCustomersPerDepot": 1}, "depots": [{"location": {"x": 0, "y": 0}}]}`},
		{"negative time limit", strings.Replace(scenarioA, `"depots"`, `"timeLimitMs": -1, "depots"`, 1)},
		{"bad completion mode", strings.Replace(scenarioA, `"depots"`, `"completionMode": "maybe", "depots"`, 1)},
		{"group out of range", strings.Replace(scenarioA, `"y": 4}}`, `"y": 4}, "group": 2}`, 1)},
		{"too large", `{"config": {"timePeriods": 5, "maxActiveDepotsPerPeriod": 5, "maxCustomersPerDepot": 50, "depots": 50, "customers": 500, "boardX": 100, "boardY": 100}}`},
	}
	s := newTestServer(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := post(s, "/v1/solve", tc.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			var p Problem
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
			assert.Equal(t, http.StatusBadRequest, p.Status)
		})
	}
}

func TestSolveRejectsModelsAboveDefaultCap(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, mip.MaxDenseVars, s.MaxVars)

	cases := map[string]string{
		// the built-in default instance: 12540 variables
		"default instance": `{"config": {"timePeriods": 5, "maxActiveDepotsPerPeriod": 10, "maxCustomersPerDepot": 50,
			"depotUsageCost": 1000, "depots": 5, "customers": 500, "depotExclusionRadius": 100, "priorityGroups": 3,
			"boardX": 1000, "boardY": 1000, "seed": 1000}}`,
		// 2*3 + 50*2*3 = 306
		"just above": `{"config": {"timePeriods": 3, "maxActiveDepotsPerPeriod": 2, "maxCustomersPerDepot": 50,
			"depots": 2, "customers": 50, "boardX": 100, "boardY": 100}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rr := post(s, "/v1/solve", body)
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			var p Problem
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
			assert.Contains(t, p.Detail, "variables")
		})
	}

	runs, _, err := s.Store.ListRuns(context.Background(), "", "", 10)
	require.NoError(t, err)
	assert.Empty(t, runs, "rejected requests create no run")
}

func TestSolveRateLimited(t *testing.T) {
	s := newTestServer(t)
	s.Limiter = rate.NewLimiter(rate.Every(time.Hour), 1)
	assert.Equal(t, http.StatusOK, post(s, "/v1/solve?wait=true", scenarioA).Code)
	rr := post(s, "/v1/solve?wait=true", scenarioA)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
}

func TestRunNotFound(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/v1/runs/missing", "/v1/runs/"} {
		rr := httptest.NewRecorder()
		s.RunByIDHandler(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rr.Code, path)
	}
}

func TestWebhookDeliveriesEmpty(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.WebhookDeliveriesHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/admin/webhook-deliveries", nil))
	require.Equal(t, 200, rr.Code)
	assert.JSONEq(t, `{"items":[]}`, rr.Body.String())
}

func TestDebugAndDocs(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.DebugHandler(rr, httptest.NewRequest(http.MethodGet, "/debug/info", nil))
	require.Equal(t, 200, rr.Code)
	var info map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	assert.Contains(t, info, "build")
	assert.Equal(t, "1m0s", info["solve"].(map[string]any)["timeLimit"])

	rr = httptest.NewRecorder()
	s.OpenAPIHandler(rr, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
	require.Equal(t, 200, rr.Code)
	assert.True(t, bytes.HasPrefix(rr.Body.Bytes(), []byte("openapi: 3.0.3")))

	rr = httptest.NewRecorder()
	s.OpenAPIHandler(rr, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
	require.Equal(t, 200, rr.Code)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))
	assert.Contains(t, doc["paths"], "/v1/solve")
}
