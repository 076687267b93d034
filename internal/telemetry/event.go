package telemetry

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/gray-logic-edge/internal/controller"
)

// Kind distinguishes the two event types.
type Kind int

const (
	KindReading Kind = iota
	KindTransition
)

func (k Kind) String() string {
	if k == KindTransition {
		return "transition"
	}
	return "reading"
}

// Event is one thing to deliver.
type Event struct {
	Kind Kind
	Loop string

	// Fields is the flat payload, e.g. {"moisture": 120} or {"power": "On"}.
	Fields map[string]any

	// Value is the derived reading, when there is one.
	Value  *float64
	Raw    int
	State  controller.State
	Source string
	At     time.Time
}

// Payload encodes the event's fields as a JSON object.
func (e Event) Payload() ([]byte, error) {
	return json.Marshal(e.Fields)
}

// PowerFields is the payload announcing an actuator state.
func PowerFields(state controller.State) map[string]any {
	return map[string]any{"power": state.String()}
}
