package controller

import (
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-edge/internal/sensor"
)

// State is the two-valued actuator state.
type State bool

// Actuator states.
const (
	Off State = false
	On  State = true
)

func (s State) String() string {
	if s {
		return "On"
	}
	return "Off"
}

// ParseState accepts "On" and "Off" in any case.
func ParseState(v string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on":
		return On, nil
	case "off":
		return Off, nil
	}
	return Off, fmt.Errorf("invalid state %q", v)
}

// Transition sources.
const (
	SourceThreshold = "threshold"
	SourceDwell     = "dwell"
	SourceRemote    = "remote"
)

// Transition is an announced actuator state change.
type Transition struct {
	Loop   string
	State  State
	Source string

	// Value is the derived reading that caused a threshold transition.
	// Zero for dwell and remote transitions.
	Value float64
	At    time.Time
}

// Status is a point-in-time view of a controller.
type Status struct {
	Loop        string         `json:"loop"`
	State       string         `json:"state"`
	Threshold   float64        `json:"threshold"`
	PulseActive bool           `json:"pulse_active"`
	LastReading map[string]any `json:"last_reading,omitempty"`
	LastValue   *float64       `json:"last_value,omitempty"`
	LastSample  *time.Time     `json:"last_sample,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
	Cycles      uint64         `json:"cycles"`
	Skipped     uint64         `json:"skipped"`
}

func newStatus(loop string, threshold float64) Status {
	return Status{Loop: loop, State: Off.String(), Threshold: threshold}
}

func (s *Status) record(r sensor.Reading, fields map[string]any) {
	value, at := r.Value, r.At
	s.LastValue = &value
	s.LastSample = &at
	s.LastReading = fields
	s.LastError = ""
}
