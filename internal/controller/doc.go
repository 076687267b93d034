// Package controller runs the threshold control loops.
//
// A Controller owns one actuator state cell. Two paths write it: the poll
// cycle (Step, driven by Run on a ticker) and remote commands (Override).
// Both take the same state lock, so the actuator is never driven by two
// writers at once and a snapshot never sees a half-applied transition.
//
// The rule is derived > threshold -> On, otherwise Off. A reading equal to
// the threshold is Off. The initial state is Off and is not announced.
//
// Notifications are edge-triggered: the controller remembers the last
// announced state and publishes a transition exactly once. Transitions are
// published in the order they happen: the notify lock is taken before the
// state lock is released.
//
// # Dwell pulse
//
// With a non-zero dwell (the fan loop) a threshold transition to On is an
// open-loop pulse: the actuator stays On for the dwell regardless of later
// readings, then is forced Off by a timer. The next reading above the
// threshold starts a new pulse. A remote command cancels a running pulse.
// The pulse is timer-driven so command handling never waits on it.
package controller
