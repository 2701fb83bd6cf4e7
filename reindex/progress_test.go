package reindex

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressTracker_Basic(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 100, 10)
	tracker.Start()

	tracker.Increment(5)
	assert.Empty(t, buf.String(), "below the report interval")

	tracker.Increment(5)
	assert.Contains(t, buf.String(), "10/100")
	assert.Contains(t, buf.String(), "(10.0%)")
}

func TestProgressTracker_Finish(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 4, 100)
	tracker.Start()
	tracker.Increment(4)
	tracker.Finish()

	output := buf.String()
	assert.Contains(t, output, "4/4 (100.0%)")
	assert.Contains(t, output, "entities/s")
	assert.True(t, strings.HasSuffix(output, "\n"))
}

func TestProgressTracker_IncrementBeyondTotal(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 3, 1)
	tracker.Start()
	tracker.Increment(10)
	assert.Contains(t, buf.String(), "3/3")
}

func TestProgressTracker_ZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 0, 1)
	tracker.Start()
	tracker.Finish()
	assert.Contains(t, buf.String(), "0/0 (0.0%)")
}

func TestProgressTracker_NotStarted(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 10, 1)
	tracker.Increment(5)
	tracker.Finish()
	assert.Empty(t, buf.String())
	assert.Zero(t, tracker.Elapsed())
}
