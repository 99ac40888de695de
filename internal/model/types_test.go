package model

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultLineNonFiniteIsNull(t *testing.T) {
	b, err := json.Marshal(ResultLine{
		ObjVal:     math.Inf(1),
		ObjBound:   12.5,
		MIPGap:     math.NaN(),
		Runtime:    0.25,
		NodeCount:  3,
		NumVars:    2,
		NumConstrs: 4,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"objVal":null,"objBound":12.5,"mipGap":null,"runtimeSec":0.25,"nodeCount":3,"numVars":2,"numConstrs":4}`, string(b))

	// a record embedding a pointer still goes through MarshalJSON
	b, err = json.Marshal(RunRecord{ID: "r", Status: "infeasible", Result: &ResultLine{ObjVal: math.Inf(1), MIPGap: math.Inf(1)}})
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Nil(t, raw["result"].(map[string]any)["objVal"])
}

func TestRunRecordDone(t *testing.T) {
	cases := map[string]bool{
		RunQueued:    false,
		RunRunning:   false,
		RunFailed:    true,
		"optimal":    true,
		"infeasible": true,
		"time_limit": true,
	}
	for status, want := range cases {
		assert.Equal(t, want, RunRecord{Status: status}.Done(), status)
	}
}
