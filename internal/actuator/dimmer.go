package actuator

import (
	"sync"

	"gobot.io/x/gobot/v2/drivers/gpio"

	"github.com/nerrad567/gray-logic-edge/internal/hardware"
)

// Dimmer is a single PWM output with a brightness in percent.
type Dimmer struct {
	w   gpio.PwmWriter
	pin string

	mu   sync.Mutex
	duty float64
}

// NewDimmer creates a dimmer on pin.
func NewDimmer(w gpio.PwmWriter, pin string) *Dimmer {
	return &Dimmer{w: w, pin: pin}
}

// SetDuty sets the brightness, clamped to 0-100.
func (d *Dimmer) SetDuty(percent float64) error {
	percent = min(max(percent, 0), 100)

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.w.PwmWrite(d.pin, hardware.DutyByte(percent)); err != nil {
		return hardware.Unavailable("pwm pin "+d.pin, err)
	}
	d.duty = percent
	return nil
}

// Duty returns the last applied brightness.
func (d *Dimmer) Duty() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.duty
}

// Release switches the output fully off.
func (d *Dimmer) Release() error {
	return d.SetDuty(0)
}
