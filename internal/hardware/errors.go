package hardware

import (
	"errors"
	"fmt"
)

// ErrHardwareUnavailable is returned when a GPIO line, PWM channel or sensor
// file cannot be used. A control loop that sees it skips the cycle.
var ErrHardwareUnavailable = errors.New("hardware: unavailable")

// Unavailable wraps err with ErrHardwareUnavailable and the pin or path it
// concerns.
func Unavailable(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrHardwareUnavailable, what, err)
}
