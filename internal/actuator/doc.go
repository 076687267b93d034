// Package actuator drives the outputs of the control loops: the active-low
// tri-colour indicator, plain on/off switches (fan, lamp) and a dimmable
// LED.
//
// Every actuator implements Actuator, so a controller can switch it without
// knowing what is wired to the pins, and Release, which the shutdown
// sequence calls unconditionally.
package actuator
