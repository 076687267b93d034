package telemetry

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/nerrad567/gray-logic-edge/internal/metrics"
)

// BreakerSettings tune a BreakerTarget.
type BreakerSettings struct {
	// MaxFailures is the number of consecutive failures that opens the
	// breaker.
	MaxFailures uint32

	// OpenTimeout is how long the breaker stays open before letting a
	// probe through.
	OpenTimeout time.Duration
}

// BreakerTarget short-circuits a target while it keeps failing. Broker B
// has no offline buffer, so while the breaker is open events for it are
// dropped immediately instead of each waiting out the operation timeout.
type BreakerTarget struct {
	target Target
	cb     *gobreaker.CircuitBreaker
}

// NewBreakerTarget wraps target. m may be nil.
func NewBreakerTarget(target Target, s BreakerSettings, m *metrics.Metrics) *BreakerTarget {
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}

	m.BreakerState(target.Name(), int(gobreaker.StateClosed))

	return &BreakerTarget{
		target: target,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    target.Name(),
			Timeout: s.OpenTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= s.MaxFailures
			},
			OnStateChange: func(name string, _, to gobreaker.State) {
				m.BreakerState(name, int(to))
			},
		}),
	}
}

func (b *BreakerTarget) Name() string { return b.target.Name() }

// Send forwards ev unless the breaker is open, in which case it returns
// gobreaker.ErrOpenState.
func (b *BreakerTarget) Send(ctx context.Context, ev Event) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.target.Send(ctx, ev)
	})
	return err
}

// State returns the breaker state.
func (b *BreakerTarget) State() gobreaker.State {
	return b.cb.State()
}
