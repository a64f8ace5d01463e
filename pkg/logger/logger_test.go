package logger

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewWithWriter_Levels(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, false)
	log.Debug("hidden")
	log.Info("distribution computed", "event_id", "evt-1", "empty", "")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "distribution computed")
	assert.Contains(t, out, "event_id=evt-1")
	assert.NotContains(t, out, "empty=")

	buf.Reset()
	NewWithWriter(&buf, true).Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestFormatMillis(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 678_900_000, time.FixedZone("X", 3600))
	assert.Equal(t, "2024-01-02T02:04:05.678Z", formatMillis(ts))
}
