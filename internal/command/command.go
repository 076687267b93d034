package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-edge/internal/controller"
)

// Methods.
const (
	MethodSetColor = "setColor"
	MethodSetState = "setState"
)

// Indicator colours accepted by setColor.
const (
	ColorBlue  = "blue"
	ColorGreen = "green"
)

var (
	// ErrMalformedCommand is returned for a payload that is not a JSON
	// object with a method.
	ErrMalformedCommand = errors.New("command: malformed request")

	// ErrUnknownMethod is returned for a method outside the supported set.
	ErrUnknownMethod = errors.New("command: unknown method")

	// ErrInvalidParams is returned when a known method carries params it
	// cannot act on, such as an unsupported colour.
	ErrInvalidParams = errors.New("command: invalid params")
)

// Command is a decoded RPC request.
type Command struct {
	Method string
	Params json.RawMessage

	// State is the actuator state the command asks for.
	State controller.State
}

type request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Decode parses an RPC request payload.
func Decode(payload []byte) (Command, error) {
	var req request
	if err := json.Unmarshal(payload, &req); err != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrMalformedCommand, err)
	}
	if req.Method == "" {
		return Command{}, fmt.Errorf("%w: missing method", ErrMalformedCommand)
	}

	cmd := Command{Method: req.Method, Params: req.Params}

	var err error
	switch req.Method {
	case MethodSetColor:
		cmd.State, err = colorState(req.Params)
	case MethodSetState:
		cmd.State, err = requestedState(req.Params)
	default:
		return cmd, fmt.Errorf("%w: %q", ErrUnknownMethod, req.Method)
	}
	return cmd, err
}

// colorState maps {"color": ...} to a state. A missing colour means green.
func colorState(params json.RawMessage) (controller.State, error) {
	var p struct {
		Color string `json:"color"`
	}
	if !isNull(params) {
		if err := json.Unmarshal(params, &p); err != nil {
			return controller.Off, fmt.Errorf("%w: %w", ErrInvalidParams, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(p.Color)) {
	case "", ColorGreen:
		return controller.Off, nil
	case ColorBlue:
		return controller.On, nil
	default:
		return controller.Off, fmt.Errorf("%w: unsupported color %q", ErrInvalidParams, p.Color)
	}
}

// requestedState accepts "On"/"Off", a bare boolean, {"state": "On"|true}
// or {"enabled": bool}.
func requestedState(params json.RawMessage) (controller.State, error) {
	if isNull(params) {
		return controller.Off, fmt.Errorf("%w: missing state", ErrInvalidParams)
	}

	if state, ok := scalarState(params); ok {
		return state, nil
	}

	var p struct {
		State   json.RawMessage `json:"state"`
		Enabled *bool           `json:"enabled"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return controller.Off, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	if len(p.State) > 0 {
		if state, ok := scalarState(p.State); ok {
			return state, nil
		}
		return controller.Off, fmt.Errorf("%w: state %s", ErrInvalidParams, p.State)
	}
	if p.Enabled != nil {
		return controller.State(*p.Enabled), nil
	}
	return controller.Off, fmt.Errorf("%w: missing state", ErrInvalidParams)
}

func scalarState(raw json.RawMessage) (controller.State, bool) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return controller.State(b), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if state, err := controller.ParseState(s); err == nil {
			return state, true
		}
	}
	return controller.Off, false
}

func isNull(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}
