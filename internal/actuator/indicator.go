package actuator

import (
	"errors"
	"sync"

	"gobot.io/x/gobot/v2/drivers/gpio"

	"github.com/nerrad567/gray-logic-edge/internal/hardware"
)

// Common indicator colours.
const (
	ColorBlue  uint32 = 0x0000FF
	ColorGreen uint32 = 0x00FF00
)

const colorMask = 0xFFFFFF

// Indicator is a tri-colour LED whose channels are active-low PWM outputs.
type Indicator struct {
	w                gpio.PwmWriter
	red, green, blue string

	mu    sync.Mutex
	color uint32
	set   bool
}

// NewIndicator creates an indicator on three PWM pins.
func NewIndicator(w gpio.PwmWriter, red, green, blue string) *Indicator {
	return &Indicator{w: w, red: red, green: green, blue: blue}
}

// SetColor applies a packed 0xRRGGBB colour. Bits above 24 are masked off.
// The three channel writes happen under one lock, so concurrent callers
// never interleave a partial update. Writing stops at the first failed
// channel and the previous colour is rewritten (dark when there was none),
// so the LED never shows a mix of old and new channels.
func (i *Indicator) SetColor(color uint32) error {
	color &= colorMask

	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.writeColor(color); err != nil {
		if restoreErr := i.restore(); restoreErr != nil {
			return errors.Join(err, restoreErr)
		}
		return err
	}

	i.color = color
	i.set = true
	return nil
}

func (i *Indicator) writeColor(color uint32) error {
	r, g, b := Channels(color)
	if err := i.writeDuty(i.red, Duty(r)); err != nil {
		return err
	}
	if err := i.writeDuty(i.green, Duty(g)); err != nil {
		return err
	}
	return i.writeDuty(i.blue, Duty(b))
}

// restore rewrites the last applied colour. It must be called with mu held.
func (i *Indicator) restore() error {
	if i.set {
		return i.writeColor(i.color)
	}
	return i.dark()
}

func (i *Indicator) dark() error {
	return errors.Join(
		i.writeDuty(i.red, 100),
		i.writeDuty(i.green, 100),
		i.writeDuty(i.blue, 100),
	)
}

// Color returns the last fully applied colour and whether one was applied.
func (i *Indicator) Color() (uint32, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.color, i.set
}

// Release turns every channel off (output high).
func (i *Indicator) Release() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.set = false
	return i.dark()
}

// WithColors binds the indicator to an on and an off colour.
func (i *Indicator) WithColors(on, off uint32) *StatusLight {
	return &StatusLight{indicator: i, on: on, off: off}
}

func (i *Indicator) writeDuty(pin string, percent float64) error {
	if err := i.w.PwmWrite(pin, hardware.DutyByte(percent)); err != nil {
		return hardware.Unavailable("pwm pin "+pin, err)
	}
	return nil
}

// Channels splits a packed colour into its 8-bit components.
func Channels(color uint32) (r, g, b uint8) {
	return uint8(color >> 16), uint8(color >> 8), uint8(color) // #nosec G115 -- truncation intended
}

// Duty maps a channel value onto the inverted duty cycle of an active-low
// output: 0 -> 100%, 255 -> 0%.
func Duty(v uint8) float64 {
	return 100 - float64(v)*100/255
}

// StatusLight shows an actuator state as a colour.
type StatusLight struct {
	indicator *Indicator
	on, off   uint32
}

// Apply shows the on or off colour.
func (s *StatusLight) Apply(on bool) error {
	if on {
		return s.indicator.SetColor(s.on)
	}
	return s.indicator.SetColor(s.off)
}

// Release turns the indicator dark.
func (s *StatusLight) Release() error {
	return s.indicator.Release()
}
