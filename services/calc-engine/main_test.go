package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"capital_waterfall/pkg/core/cascade"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const request = `{
	"event_id": "evt-1",
	"total_amount": 1000000,
	"distribution_date": "2024-01-01",
	"hierarchy": [
		{"level": 1, "investors": [{"investor_id": "M1", "ownership_percent": 100}]},
		{"level": 2, "investors": [{"investor_id": "C1", "ownership_percent": 100, "ownership_of_parent": 30}]}
	]
}`

func TestRun_Calculate(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"--data", request}, &out))

	var res cascade.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, "evt-1", res.EventID)
	require.Len(t, res.Allocations, 2)
	assert.InDelta(t, 300_000, res.Allocations[0].BaseAllocation, 1e-6)
	assert.InDelta(t, 700_000, res.Allocations[1].BaseAllocation, 1e-6)
}

func TestRun_CalculateSeveralFilesAsMarkdown(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.hjson")
	require.NoError(t, os.WriteFile(a, []byte(request), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("{\n# second event\nevent_id: evt-2\ntotal_amount: 10\ninvestors: [{investor_id: \"X\", ownership_percent: 1}]\n}\n"), 0o644))

	var out bytes.Buffer
	require.NoError(t, run([]string{"-f", a, "-f", b, "--format", "markdown"}, &out))
	assert.Contains(t, out.String(), "# Distribution evt-1")
	assert.Contains(t, out.String(), "# Distribution evt-2")
}

func TestRun_Check(t *testing.T) {
	var computed bytes.Buffer
	require.NoError(t, run([]string{"--data", request}, &computed))

	var out bytes.Buffer
	require.NoError(t, run([]string{"--mode", "check", "--data", computed.String()}, &out))
	assert.Contains(t, out.String(), "Success: event evt-1 reconciles")

	var res cascade.Result
	require.NoError(t, json.Unmarshal(computed.Bytes(), &res))
	res.Allocations[0].BaseAllocation = 1
	tampered, err := json.Marshal(res)
	require.NoError(t, err)

	out.Reset()
	err = run([]string{"--mode", "check", "--data", string(tampered)}, &out)
	assert.Error(t, err)
	assert.Contains(t, out.String(), "does not reconcile")
}

func TestRun_Errors(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, run(nil, &out))
	assert.Error(t, run([]string{"--data", request, "--format", "pdf"}, &out))
	assert.Error(t, run([]string{"--data", request, "--mode", "explode"}, &out))

	err := run([]string{"--data", `{"total_amount": 0, "investors": [{"investor_id": "A", "ownership_percent": 1}]}`}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_request")
}

func TestRun_TruncatedPayloadNeedsRepairFlag(t *testing.T) {
	truncated := `{"event_id": "evt-3", "total_amount": 10, "investors": [{"investor_id": "X", "ownership_percent": 1}`

	var out bytes.Buffer
	assert.Error(t, run([]string{"--data", truncated}, &out))

	out.Reset()
	require.NoError(t, run([]string{"--data", truncated, "--repair"}, &out))
	var res cascade.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, "evt-3", res.EventID)
}
