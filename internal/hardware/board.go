package hardware

import (
	"fmt"
	"math"
	"sync"
	"time"

	"gobot.io/x/gobot/v2"
	"gobot.io/x/gobot/v2/drivers/gpio"
	"gobot.io/x/gobot/v2/platforms/raspi"
)

// Adaptor is the part of a gobot platform adaptor the board drives.
type Adaptor interface {
	gobot.Adaptor
	gpio.DigitalWriter
	gpio.DigitalReader
	gpio.PwmWriter
}

// pwmPinProvider is implemented by adaptors that expose PWM period control.
type pwmPinProvider interface {
	PWMPin(id string) (gobot.PWMPinner, error)
}

// Logger is the logging surface the board needs.
type Logger interface {
	Warn(msg string, args ...any)
}

// Board owns the GPIO adaptor for the lifetime of the process.
type Board struct {
	adaptor Adaptor
	logger  Logger

	mu     sync.Mutex
	closed bool
}

// OpenRaspi connects gobot's Raspberry Pi adaptor.
func OpenRaspi(logger Logger) (*Board, error) {
	return Open(raspi.NewAdaptor(), logger)
}

// Open connects adaptor and wraps it in a Board.
func Open(adaptor Adaptor, logger Logger) (*Board, error) {
	if err := adaptor.Connect(); err != nil {
		return nil, Unavailable(adaptor.Name(), err)
	}
	return &Board{adaptor: adaptor, logger: logger}, nil
}

// Adaptor returns the connected adaptor. It satisfies gpio.DigitalWriter,
// gpio.DigitalReader and gpio.PwmWriter.
func (b *Board) Adaptor() Adaptor {
	return b.adaptor
}

// SetFrequency sets the carrier frequency of a PWM pin when the adaptor
// supports period control. Adaptors that don't keep their fixed carrier.
func (b *Board) SetFrequency(pin string, hz int) {
	if hz <= 0 {
		return
	}
	provider, ok := b.adaptor.(pwmPinProvider)
	if !ok {
		return
	}

	pwmPin, err := provider.PWMPin(pin)
	if err == nil {
		err = pwmPin.SetPeriod(PeriodNanos(hz))
	}
	if err != nil && b.logger != nil {
		b.logger.Warn("pwm frequency not applied", "pin", pin, "hz", hz, "error", err)
	}
}

// Close finalizes the adaptor, releasing every exported pin. Safe to call
// more than once.
func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	if err := b.adaptor.Finalize(); err != nil {
		return fmt.Errorf("finalizing %s: %w", b.adaptor.Name(), err)
	}
	return nil
}

// DutyByte converts a duty cycle percentage to the 0-255 scale of
// gpio.PwmWriter. Values outside 0-100 are clamped.
func DutyByte(percent float64) byte {
	switch {
	case math.IsNaN(percent) || percent <= 0:
		return 0
	case percent >= 100:
		return 255
	}
	return byte(math.Round(percent * 255 / 100))
}

// PeriodNanos returns the period of hz in nanoseconds.
func PeriodNanos(hz int) uint32 {
	return uint32(time.Second / time.Duration(hz)) // #nosec G115 -- hz > 0
}
