package actuator

// Actuator is an output with two states.
type Actuator interface {
	// Apply drives the output to the on or off state.
	Apply(on bool) error

	// Release leaves the output in its safe idle state.
	Release() error
}
