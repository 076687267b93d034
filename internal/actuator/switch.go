package actuator

import (
	"sync"

	"gobot.io/x/gobot/v2/drivers/gpio"

	"github.com/nerrad567/gray-logic-edge/internal/hardware"
)

// Switch is a single digital output such as a fan relay or a lamp.
type Switch struct {
	w         gpio.DigitalWriter
	pin       string
	activeLow bool

	mu sync.Mutex
	on bool
}

// NewSwitch creates a switch on pin. With activeLow the output is driven low
// to switch on.
func NewSwitch(w gpio.DigitalWriter, pin string, activeLow bool) *Switch {
	return &Switch{w: w, pin: pin, activeLow: activeLow}
}

// Apply switches the output.
func (s *Switch) Apply(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.w.DigitalWrite(s.pin, s.level(on)); err != nil {
		return hardware.Unavailable("pin "+s.pin, err)
	}
	s.on = on
	return nil
}

// IsOn reports the last applied state.
func (s *Switch) IsOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on
}

// Release switches the output off.
func (s *Switch) Release() error {
	return s.Apply(false)
}

func (s *Switch) level(on bool) byte {
	if on != s.activeLow {
		return 1
	}
	return 0
}
