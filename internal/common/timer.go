// Package common provides shared utilities including stage timing.
package common

import (
	"fmt"
	"strings"
	"time"
)

// Timer measures one named span.
type Timer struct {
	start    time.Time
	name     string
	duration time.Duration
}

// NewNamedTimer starts a timer with the given name.
func NewNamedTimer(name string) *Timer {
	return &Timer{
		name:  name,
		start: time.Now(),
	}
}

// Stop stops the timer and returns the elapsed duration.
func (t *Timer) Stop() time.Duration {
	t.duration = time.Since(t.start)
	return t.duration
}

// Duration returns the recorded duration (only valid after Stop()).
func (t *Timer) Duration() time.Duration {
	return t.duration
}

// Name returns the timer name.
func (t *Timer) Name() string {
	return t.name
}

// String returns a formatted string representation of the timer.
func (t *Timer) String() string {
	return fmt.Sprintf("%s: %v", t.name, t.duration)
}

// StageTiming is the accumulated time of one pipeline stage.
type StageTiming struct {
	Name     string
	Duration time.Duration
}

// StageTimings accumulates per-stage durations in first-seen order. A stage
// timed more than once (one per decode attempt) is summed.
type StageTimings struct {
	stages []StageTiming
}

// Start begins timing stage name; call the returned func to stop it.
func (s *StageTimings) Start(name string) func() {
	t := NewNamedTimer(name)
	return func() { s.Add(name, t.Stop()) }
}

// Add records d against stage name.
func (s *StageTimings) Add(name string, d time.Duration) {
	for i := range s.stages {
		if s.stages[i].Name == name {
			s.stages[i].Duration += d
			return
		}
	}
	s.stages = append(s.stages, StageTiming{Name: name, Duration: d})
}

// Stages returns a copy of the recorded stages.
func (s *StageTimings) Stages() []StageTiming {
	return append([]StageTiming(nil), s.stages...)
}

// Get returns the duration recorded for name.
func (s *StageTimings) Get(name string) (time.Duration, bool) {
	for _, st := range s.stages {
		if st.Name == name {
			return st.Duration, true
		}
	}
	return 0, false
}

// Total is the sum of all stages.
func (s *StageTimings) Total() time.Duration {
	var total time.Duration
	for _, st := range s.stages {
		total += st.Duration
	}
	return total
}

// LogAttrs flattens the stages into slog key/value pairs in milliseconds.
func (s *StageTimings) LogAttrs() []any {
	attrs := make([]any, 0, 2*len(s.stages))
	for _, st := range s.stages {
		attrs = append(attrs, st.Name+"_ms", float64(st.Duration.Microseconds())/1000)
	}
	return attrs
}

// String renders "stage=duration" pairs.
func (s *StageTimings) String() string {
	parts := make([]string, 0, len(s.stages))
	for _, st := range s.stages {
		parts = append(parts, fmt.Sprintf("%s=%v", st.Name, st.Duration))
	}
	return strings.Join(parts, " ")
}
