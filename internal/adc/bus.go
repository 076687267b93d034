package adc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gobot.io/x/gobot/v2/drivers/gpio"

	"github.com/nerrad567/gray-logic-edge/internal/hardware"
	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/config"
)

// ErrInvalidChannel is returned for a channel other than 0 or 1. Config
// validation rejects such channels, so seeing it at runtime is a bug.
var ErrInvalidChannel = errors.New("adc: invalid channel")

const (
	resultBits = 8

	low  byte = 0
	high byte = 1
)

// Bus is one serial ADC wired to four GPIO lines.
type Bus struct {
	w    gpio.DigitalWriter
	r    gpio.DigitalReader
	pins config.ADCPinsConfig

	mu sync.Mutex
}

// New creates a Bus on the given lines. w drives CS, CLK and DI; r samples DO.
func New(w gpio.DigitalWriter, r gpio.DigitalReader, pins config.ADCPinsConfig) *Bus {
	return &Bus{w: w, r: r, pins: pins}
}

// Idle parks the bus: chip-select deasserted, clock low.
func (b *Bus) Idle() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.write(b.pins.ChipSelect, high); err != nil {
		return err
	}
	return b.write(b.pins.Clock, low)
}

// Read performs one single-ended conversion on channel and returns the raw
// value. Line failures are wrapped in hardware.ErrHardwareUnavailable.
func (b *Bus) Read(ctx context.Context, channel int) (value uint8, err error) {
	if channel != 0 && channel != 1 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidChannel, channel)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.write(b.pins.ChipSelect, high); err != nil {
		return 0, err
	}
	defer func() {
		if releaseErr := b.write(b.pins.ChipSelect, high); releaseErr != nil && err == nil {
			value, err = 0, releaseErr
		}
	}()

	if err := b.write(b.pins.ChipSelect, low); err != nil {
		return 0, err
	}
	if err := b.write(b.pins.Clock, low); err != nil {
		return 0, err
	}

	for _, bit := range [3]byte{1, 1, byte(channel)} { // #nosec G115 -- channel is 0 or 1
		if err := b.write(b.pins.DataIn, bit); err != nil {
			return 0, err
		}
		if err := b.pulseClock(); err != nil {
			return 0, err
		}
	}

	for range resultBits {
		if err := b.pulseClock(); err != nil {
			return 0, err
		}
		bit, err := b.r.DigitalRead(b.pins.DataOut)
		if err != nil {
			return 0, hardware.Unavailable("adc pin "+b.pins.DataOut, err)
		}
		value <<= 1
		if bit != 0 {
			value |= 1
		}
	}

	return value, nil
}

func (b *Bus) pulseClock() error {
	if err := b.write(b.pins.Clock, high); err != nil {
		return err
	}
	return b.write(b.pins.Clock, low)
}

func (b *Bus) write(pin string, level byte) error {
	if err := b.w.DigitalWrite(pin, level); err != nil {
		return hardware.Unavailable("adc pin "+pin, err)
	}
	return nil
}
