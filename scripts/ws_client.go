//go:build ignore

// Command ws_client submits a small instance and prints its run events as
// they arrive over the WebSocket stream. Run with: go run scripts/ws_client.go
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type event struct {
	Type  string          `json:"type"`
	RunID string          `json:"runId"`
	Data  json.RawMessage `json:"data"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Follow every run first so no event of ours is missed
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/runs/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()
	var ack wsMessage
	if err := c.ReadJSON(&ack); err != nil || ack.Type != "connection_ack" {
		log.Fatalf("no connection_ack: %v %+v", err, ack)
	}

	// Submit a generated instance
	body := []byte(`{"config":{"timePeriods":2,"maxActiveDepotsPerPeriod":2,"maxCustomersPerDepot":4,` +
		`"depotUsageCost":100,"depots":3,"customers":6,"depotExclusionRadius":10,"priorityGroups":2,` +
		`"boardX":100,"boardY":100,"seed":1000},"timeLimitMs":10000}`)
	resp, err := http.Post(base+"/v1/solve", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var solveResp struct {
		RunID string `json:"runId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&solveResp); err != nil {
		log.Fatal(err)
	}
	log.Printf("Run ID: %s", solveResp.RunID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			var ev event
			if err := json.Unmarshal(m.Payload, &ev); err != nil || ev.RunID != solveResp.RunID {
				continue
			}
			log.Printf("WS <- %s: %s", ev.Type, string(ev.Data))
			if ev.Type == "run.completed" || ev.Type == "run.failed" {
				return
			}
		}
	}()

	select {
	case <-time.After(30 * time.Second):
		log.Print("timed out waiting for the run")
	case <-done:
	}
}
