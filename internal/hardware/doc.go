// Package hardware opens the Raspberry Pi GPIO header through gobot's raspi
// adaptor and exposes it as the small gpio.DigitalWriter, gpio.DigitalReader
// and gpio.PwmWriter interfaces the drivers in this module accept.
//
// Pins are physical header numbers ("11", "36"). PWM duty is expressed as a
// percentage and converted to the adaptor's 0-255 scale by DutyByte.
package hardware
