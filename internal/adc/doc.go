// Package adc reads the two-channel 8-bit serial ADC by bit-banging four
// GPIO lines.
//
// A conversion is a fixed edge sequence:
//
//	CS high, CS low          begin transaction
//	CLK low                  clock idle
//	3 x (DI=bit, CLK high, CLK low) for bits [1, 1, channel]
//	8 x (CLK high, CLK low, sample DO), value = value<<1 | bit
//	CS high                  end transaction, on every exit path
//
// No delay is inserted between edges; the converter is level-triggered, so
// only the order of the edges matters. One conversion is in flight at a
// time.
package adc
