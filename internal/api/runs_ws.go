package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pmedians/internal/events"
	"pmedians/internal/model"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsSubscribe struct {
	RunID string `json:"runId"`
}

// RunsWSHandler handles /v1/runs/ws. ?runId= subscribes to one run at
// connect; without it (or with "*") the socket follows every run. Clients
// may add subscriptions with {"type":"subscribe","id":..,"payload":{"runId":..}}
// and drop them with {"type":"complete","id":..}.
func (s *Server) RunsWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	var wmu sync.Mutex
	write := func(v any) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}

	type sub struct {
		runID string
		ch    chan model.Event
	}
	var smu sync.Mutex
	subs := map[string]sub{}
	subscribe := func(id, runID string) {
		smu.Lock()
		if _, ok := subs[id]; ok {
			smu.Unlock()
			_ = write(wsMessage{Type: "error", ID: id, Payload: json.RawMessage(`{"message":"subscription id in use"}`)})
			return
		}
		ch := s.Bus.Subscribe(runID)
		subs[id] = sub{runID: runID, ch: ch}
		smu.Unlock()
		go func() {
			for ev := range ch {
				payload, _ := json.Marshal(ev)
				if err := write(wsMessage{Type: "next", ID: id, Payload: payload}); err != nil {
					return
				}
			}
			_ = write(wsMessage{Type: "complete", ID: id})
		}()
	}
	unsubscribe := func(id string) {
		smu.Lock()
		s0, ok := subs[id]
		delete(subs, id)
		smu.Unlock()
		if ok {
			s.Bus.Unsubscribe(s0.runID, s0.ch)
		}
	}
	defer func() {
		smu.Lock()
		ids := make([]string, 0, len(subs))
		for id := range subs {
			ids = append(ids, id)
		}
		smu.Unlock()
		for _, id := range ids {
			unsubscribe(id)
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	if err := write(wsMessage{Type: "connection_ack"}); err != nil {
		return
	}
	subscribe("0", runKey(r.URL.Query().Get("runId")))

	// keepalive
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				wmu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				wmu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		switch msg.Type {
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "subscribe":
			var pl wsSubscribe
			if err := json.Unmarshal(msg.Payload, &pl); err != nil || msg.ID == "" {
				_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: json.RawMessage(`{"message":"id and payload.runId required"}`)})
				continue
			}
			subscribe(msg.ID, runKey(pl.RunID))
		case "complete":
			unsubscribe(msg.ID)
		default:
			// ignore
		}
	}
}

func runKey(id string) string {
	if id == "" {
		return events.AllRuns
	}
	return id
}
