package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-edge/internal/actuator"
	"github.com/nerrad567/gray-logic-edge/internal/metrics"
	"github.com/nerrad567/gray-logic-edge/internal/sensor"
)

// notifyTimeout bounds notifications published from the dwell timer, which
// has no caller context.
const notifyTimeout = 10 * time.Second

// ErrStopped is returned by Override once Run has returned or the caller's
// context is done. The outputs may already be released at that point.
var ErrStopped = errors.New("controller stopped")

// Publisher receives what a controller observes.
type Publisher interface {
	// PublishReading is called once per successful cycle.
	PublishReading(ctx context.Context, loop string, r sensor.Reading, fields map[string]any)

	// PublishTransition is called once per announced state change, in
	// transition order.
	PublishTransition(ctx context.Context, t Transition)
}

// Logger is the logging surface a controller needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config is the per-loop tuning.
type Config struct {
	Threshold float64
	Interval  time.Duration

	// Dwell turns a threshold transition to On into a pulse of this length.
	// Zero means the actuator follows the threshold.
	Dwell time.Duration
}

// Options are the optional collaborators of a controller.
type Options struct {
	Logger  Logger
	Metrics *metrics.Metrics

	// Follow is called with every successful reading, outside the state
	// lock. The light loop uses it to track brightness on the LED.
	Follow func(sensor.Reading)
}

// Controller is one threshold control loop.
type Controller struct {
	source    sensor.Source
	actuator  actuator.Actuator
	publisher Publisher
	cfg       Config
	logger    Logger
	metrics   *metrics.Metrics
	follow    func(sensor.Reading)

	// mu guards the state cell and everything below it.
	mu        sync.Mutex
	decision  State // last threshold decision
	state     State // what the actuator was last driven to
	announced State // last published state
	pulse     *time.Timer
	pulseGen  uint64
	status    Status
	stopped   bool

	// notifyMu orders transition notifications.
	notifyMu sync.Mutex
}

// New creates a controller. The actuator is not touched until Prime or Run.
func New(source sensor.Source, act actuator.Actuator, pub Publisher, cfg Config, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &Controller{
		source:    source,
		actuator:  act,
		publisher: pub,
		cfg:       cfg,
		logger:    logger,
		metrics:   opts.Metrics,
		follow:    opts.Follow,
		status:    newStatus(source.Name(), cfg.Threshold),
	}
}

// Name returns the loop name.
func (c *Controller) Name() string {
	return c.source.Name()
}

// Prime drives the actuator to the initial Off state without announcing it.
func (c *Controller) Prime() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.actuator.Apply(bool(Off)); err != nil {
		return fmt.Errorf("priming %s: %w", c.Name(), err)
	}
	c.state = Off
	return nil
}

// Run runs a cycle immediately and every Interval until ctx is cancelled.
// Failed cycles are logged and skipped. Call Prime first. Once Run returns
// the controller refuses overrides.
func (c *Controller) Run(ctx context.Context) error {
	defer c.stop()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		_ = c.Step(ctx) //nolint:errcheck // logged inside Step
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Step runs one cycle: sample, publish the reading, apply the threshold
// rule. A failed sample skips the cycle and keeps the current state.
func (c *Controller) Step(ctx context.Context) error {
	reading, err := c.source.Sample(ctx)
	if err != nil {
		c.mu.Lock()
		c.status.Skipped++
		c.status.LastError = err.Error()
		c.mu.Unlock()

		c.metrics.Cycle(c.Name(), false)
		if ctx.Err() == nil {
			c.logger.Warn("cycle skipped", "loop", c.Name(), "error", err)
		}
		return err
	}

	fields := c.source.Fields(reading)
	c.metrics.Cycle(c.Name(), true)
	c.metrics.Reading(c.Name(), reading.Value)
	c.publisher.PublishReading(ctx, c.Name(), reading, fields)
	if c.follow != nil {
		c.follow(reading)
	}

	target := State(reading.Value > c.cfg.Threshold)

	c.mu.Lock()
	c.status.Cycles++
	c.status.record(reading, fields)

	if target == c.decision {
		c.mu.Unlock()
		return nil
	}
	c.decision = target

	if c.pulse != nil || target == c.state {
		c.mu.Unlock()
		return nil
	}

	if err := c.actuator.Apply(bool(target)); err != nil {
		// Retry on the next cycle.
		c.decision = c.state
		c.status.LastError = err.Error()
		c.mu.Unlock()
		c.logger.Error("actuator transition failed", "loop", c.Name(), "state", target.String(), "error", err)
		return err
	}
	c.state = target

	if target == On && c.cfg.Dwell > 0 {
		c.startPulseLocked()
	}

	c.announceAndUnlock(ctx, Transition{
		Loop:   c.Name(),
		State:  target,
		Source: SourceThreshold,
		Value:  reading.Value,
		At:     reading.At,
	})
	return nil
}

// Override sets the actuator state from a remote command and cancels any
// running pulse. The threshold rule takes over again on the next crossing.
// It returns the resulting state. A failed apply leaves the pulse running.
func (c *Controller) Override(ctx context.Context, state State) (State, error) {
	c.mu.Lock()
	if c.stopped || ctx.Err() != nil {
		current := c.state
		c.mu.Unlock()
		return current, fmt.Errorf("override %s: %w", c.Name(), ErrStopped)
	}

	if state != c.state {
		if err := c.actuator.Apply(bool(state)); err != nil {
			current := c.state
			c.mu.Unlock()
			return current, fmt.Errorf("override %s: %w", c.Name(), err)
		}
		c.state = state
	}
	c.cancelPulseLocked()

	c.announceAndUnlock(ctx, Transition{
		Loop:   c.Name(),
		State:  state,
		Source: SourceRemote,
		At:     time.Now(),
	})
	return state, nil
}

// State returns the current actuator state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot for the status API.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.status
	s.State = c.state.String()
	s.PulseActive = c.pulse != nil
	return s
}

// announceAndUnlock publishes t if it changes the announced state. It must
// be called with mu held and releases it. The notify lock is taken before
// mu is released so notifications keep transition order.
func (c *Controller) announceAndUnlock(ctx context.Context, t Transition) {
	if t.State == c.announced {
		c.mu.Unlock()
		return
	}
	c.announced = t.State

	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	c.metrics.Transition(t.Loop, bool(t.State), t.Source)
	c.logger.Info("actuator state changed", "loop", t.Loop, "state", t.State.String(), "source", t.Source)
	c.publisher.PublishTransition(ctx, t)
}

func (c *Controller) startPulseLocked() {
	c.pulseGen++
	gen := c.pulseGen
	c.pulse = time.AfterFunc(c.cfg.Dwell, func() { c.endPulse(gen) })
}

func (c *Controller) cancelPulseLocked() {
	if c.pulse == nil {
		return
	}
	c.pulse.Stop()
	c.pulse = nil
	c.pulseGen++
}

func (c *Controller) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	c.cancelPulseLocked()
}

// endPulse forces the actuator Off when the dwell expires. A fresh
// threshold decision is needed to pulse again.
func (c *Controller) endPulse(gen uint64) {
	c.mu.Lock()
	if gen != c.pulseGen || c.pulse == nil {
		c.mu.Unlock()
		return
	}
	c.pulse = nil
	c.decision = Off

	if c.state == Off {
		c.mu.Unlock()
		return
	}
	if err := c.actuator.Apply(bool(Off)); err != nil {
		// Keep pulsing until the actuator lets go.
		c.startPulseLocked()
		c.mu.Unlock()
		c.logger.Error("dwell release failed", "loop", c.Name(), "error", err)
		return
	}
	c.state = Off

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	c.announceAndUnlock(ctx, Transition{
		Loop:   c.Name(),
		State:  Off,
		Source: SourceDwell,
		At:     time.Now(),
	})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any) {}
func (nopLogger) Warn(string, ...any) {}
func (nopLogger) Error(string, ...any) {}
