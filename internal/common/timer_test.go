package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimer(t *testing.T) {
	timer := NewNamedTimer("sample")
	assert.Equal(t, "sample", timer.Name())

	time.Sleep(10 * time.Millisecond)

	duration := timer.Stop()
	assert.GreaterOrEqual(t, duration, 10*time.Millisecond)
	assert.Equal(t, duration, timer.Duration())

	str := timer.String()
	assert.Contains(t, str, "sample")
	assert.Contains(t, str, "ms")
}

func TestStageTimings(t *testing.T) {
	var s StageTimings
	s.Add("finder", 2*time.Millisecond)
	s.Add("sample", time.Millisecond)
	s.Add("finder", 3*time.Millisecond)

	stop := s.Start("rs")
	stop()

	stages := s.Stages()
	require.Len(t, stages, 3)
	assert.Equal(t, "finder", stages[0].Name)
	assert.Equal(t, 5*time.Millisecond, stages[0].Duration)
	assert.Equal(t, "rs", stages[2].Name)

	d, ok := s.Get("sample")
	assert.True(t, ok)
	assert.Equal(t, time.Millisecond, d)
	_, ok = s.Get("bitstream")
	assert.False(t, ok)

	assert.GreaterOrEqual(t, s.Total(), 6*time.Millisecond)

	attrs := s.LogAttrs()
	require.Len(t, attrs, 6)
	assert.Equal(t, "finder_ms", attrs[0])
	assert.InDelta(t, 5.0, attrs[1], 1e-9)

	assert.Contains(t, s.String(), "finder=5ms")
}
