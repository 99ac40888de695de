package model

import (
	"encoding/json"
	"math"
	"time"

	"pmedians/internal/instance"
	"pmedians/internal/solution"
)

// Run statuses beyond the solver's own (optimal, infeasible, time_limit, ...).
const (
	RunQueued  = "queued"
	RunRunning = "running"
	RunFailed  = "failed"
)

// SolveRequest is the body of POST /v1/solve. Without depots and customers
// the instance is generated from Config; with them Config supplies only the
// scalars.
type SolveRequest struct {
	Config         *instance.Config    `json:"config,omitempty"`
	Depots         []instance.Depot    `json:"depots,omitempty"`
	Customers      []instance.Customer `json:"customers,omitempty"`
	TimeLimitMs    int                 `json:"timeLimitMs,omitempty"`
	CompletionMode string              `json:"completionMode,omitempty"`
}

// SolveResponse is returned for asynchronous solves.
type SolveResponse struct {
	RunID  string `json:"runId"`
	Status string `json:"status"`
}

// ResultLine is the per-run results record, in results-log column order.
type ResultLine struct {
	ObjVal     float64 `json:"objVal"`
	ObjBound   float64 `json:"objBound"`
	MIPGap     float64 `json:"mipGap"`
	Runtime    float64 `json:"runtimeSec"`
	NodeCount  int     `json:"nodeCount"`
	NumVars    int     `json:"numVars"`
	NumConstrs int     `json:"numConstrs"`
}

// MarshalJSON encodes infinite or NaN values (no solution, unknown gap) as
// null; encoding/json rejects them otherwise.
func (r ResultLine) MarshalJSON() ([]byte, error) {
	type wire struct {
		ObjVal     *float64 `json:"objVal"`
		ObjBound   *float64 `json:"objBound"`
		MIPGap     *float64 `json:"mipGap"`
		Runtime    float64  `json:"runtimeSec"`
		NodeCount  int      `json:"nodeCount"`
		NumVars    int      `json:"numVars"`
		NumConstrs int      `json:"numConstrs"`
	}
	return json.Marshal(wire{
		ObjVal:     finite(r.ObjVal),
		ObjBound:   finite(r.ObjBound),
		MIPGap:     finite(r.MIPGap),
		Runtime:    r.Runtime,
		NodeCount:  r.NodeCount,
		NumVars:    r.NumVars,
		NumConstrs: r.NumConstrs,
	})
}

func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

// RunRecord is everything kept about one solve.
type RunRecord struct {
	ID             string               `json:"id"`
	Status         string               `json:"status"`
	Config         instance.Config      `json:"config"`
	CompletionMode string               `json:"completionMode"`
	CreatedAt      time.Time            `json:"createdAt"`
	FinishedAt     *time.Time           `json:"finishedAt,omitempty"`
	Result         *ResultLine          `json:"result,omitempty"`
	Solution       *solution.Solution   `json:"solution,omitempty"`
	Violations     []solution.Violation `json:"violations,omitempty"`
	IIS            []string             `json:"iis,omitempty"`
	IISPartial     bool                 `json:"iisPartial,omitempty"`
	CapacityIssue  string               `json:"capacityIssue,omitempty"`
	Error          string               `json:"error,omitempty"`
}

// Done reports whether the run reached a terminal state.
func (r RunRecord) Done() bool {
	return r.Status != RunQueued && r.Status != RunRunning
}

// Event is a run lifecycle notification published to stream subscribers.
type Event struct {
	ID    string    `json:"id"`
	Type  string    `json:"type"`
	RunID string    `json:"runId"`
	TS    time.Time `json:"ts"`
	Data  any       `json:"data,omitempty"`
}

// Event types.
const (
	EventRunQueued    = "run.queued"
	EventRunStarted   = "run.started"
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"
)
