package telemetry

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-edge/internal/controller"
	"github.com/nerrad567/gray-logic-edge/internal/metrics"
	"github.com/nerrad567/gray-logic-edge/internal/sensor"
)

// Target is one telemetry sink.
type Target interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

// Logger is the logging surface the fanout needs.
type Logger interface {
	Warn(msg string, args ...any)
}

// Fanout delivers every event to all targets independently.
type Fanout struct {
	targets []Target
	logger  Logger
	metrics *metrics.Metrics
}

// NewFanout creates a fanout. logger and m may be nil.
func NewFanout(logger Logger, m *metrics.Metrics, targets ...Target) *Fanout {
	return &Fanout{targets: targets, logger: logger, metrics: m}
}

// Targets returns the target names in delivery order.
func (f *Fanout) Targets() []string {
	names := make([]string, len(f.targets))
	for i, t := range f.targets {
		names[i] = t.Name()
	}
	return names
}

// PublishReading implements controller.Publisher.
func (f *Fanout) PublishReading(ctx context.Context, loop string, r sensor.Reading, fields map[string]any) {
	value := r.Value
	f.Publish(ctx, Event{
		Kind:   KindReading,
		Loop:   loop,
		Fields: fields,
		Value:  &value,
		Raw:    r.Raw,
		At:     r.At,
	})
}

// PublishTransition implements controller.Publisher.
func (f *Fanout) PublishTransition(ctx context.Context, t controller.Transition) {
	ev := Event{
		Kind:   KindTransition,
		Loop:   t.Loop,
		Fields: PowerFields(t.State),
		Raw:    -1,
		State:  t.State,
		Source: t.Source,
		At:     t.At,
	}
	if t.Source == controller.SourceThreshold {
		value := t.Value
		ev.Value = &value
	}
	f.Publish(ctx, ev)
}

// Publish sends ev to every target in parallel and waits for all of them.
// It returns the joined target errors, which are also logged.
func (f *Fanout) Publish(ctx context.Context, ev Event) error {
	errs := make([]error, len(f.targets))

	var g errgroup.Group
	for i, target := range f.targets {
		g.Go(func() error {
			err := target.Send(ctx, ev)
			f.metrics.Publish(target.Name(), err)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", target.Name(), err)
				if f.logger != nil {
					f.logger.Warn("telemetry publish failed",
						"target", target.Name(),
						"loop", ev.Loop,
						"kind", ev.Kind.String(),
						"error", err,
					)
				}
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // goroutines never return an error

	return errors.Join(errs...)
}
