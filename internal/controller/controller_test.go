package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-edge/internal/hardware"
	"github.com/nerrad567/gray-logic-edge/internal/sensor"
)

// scriptedSource returns the scripted values in order, then repeats the
// last one. errs fails chosen calls by index.
type scriptedSource struct {
	mu     sync.Mutex
	values []float64
	errs   map[int]error
	calls  int
}

func (s *scriptedSource) Name() string { return "soil" }

func (s *scriptedSource) Sample(context.Context) (sensor.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.calls
	s.calls++
	if err := s.errs[i]; err != nil {
		return sensor.Reading{}, err
	}
	if i >= len(s.values) {
		i = len(s.values) - 1
	}
	return sensor.Reading{Value: s.values[i], Raw: -1, At: time.Now()}, nil
}

func (s *scriptedSource) Fields(r sensor.Reading) map[string]any {
	return map[string]any{"moisture": int(r.Value)}
}

func (s *scriptedSource) set(values ...float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = values
	s.calls = 0
}

type fakeActuator struct {
	mu      sync.Mutex
	applied []bool
	on      bool
	fail    bool
}

func (a *fakeActuator) Apply(on bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return hardware.Unavailable("pin 16", errors.New("io"))
	}
	a.applied = append(a.applied, on)
	a.on = on
	return nil
}

func (a *fakeActuator) Release() error { return a.Apply(false) }

func (a *fakeActuator) isOn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.on
}

func (a *fakeActuator) setFail(fail bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fail = fail
}

type recordingPublisher struct {
	mu          sync.Mutex
	readings    int
	transitions []Transition
}

func (p *recordingPublisher) PublishReading(context.Context, string, sensor.Reading, map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readings++
}

func (p *recordingPublisher) PublishTransition(_ context.Context, t Transition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transitions = append(p.transitions, t)
}

func (p *recordingPublisher) snapshot() []Transition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Transition(nil), p.transitions...)
}

func newTestController(cfg Config, values ...float64) (*Controller, *scriptedSource, *fakeActuator, *recordingPublisher) {
	src := &scriptedSource{values: values}
	act := &fakeActuator{}
	pub := &recordingPublisher{}
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Millisecond
	}
	return New(src, act, pub, cfg, Options{}), src, act, pub
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestStep_ThresholdScenario(t *testing.T) {
	c, _, _, pub := newTestController(Config{Threshold: 69}, 50, 70, 70, 40)
	ctx := context.Background()

	want := []State{Off, On, On, Off}
	for i, w := range want {
		if err := c.Step(ctx); err != nil {
			t.Fatalf("Step(%d) error = %v", i, err)
		}
		if got := c.State(); got != w {
			t.Errorf("after reading %d state = %v, want %v", i, got, w)
		}
	}

	transitions := pub.snapshot()
	if len(transitions) != 2 {
		t.Fatalf("transitions = %d, want 2", len(transitions))
	}
	if transitions[0].State != On || transitions[0].Value != 70 || transitions[0].Source != SourceThreshold {
		t.Errorf("first transition = %+v", transitions[0])
	}
	if transitions[1].State != Off || transitions[1].Value != 40 {
		t.Errorf("second transition = %+v", transitions[1])
	}
	if pub.readings != 4 {
		t.Errorf("readings published = %d, want 4", pub.readings)
	}
}

func TestStep_ConstantReadingsAnnounceOnce(t *testing.T) {
	c, _, act, pub := newTestController(Config{Threshold: 69}, 100)

	for range 100 {
		if err := c.Step(context.Background()); err != nil {
			t.Fatalf("Step() error = %v", err)
		}
	}
	if n := len(pub.snapshot()); n != 1 {
		t.Errorf("transitions = %d, want 1", n)
	}
	if len(act.applied) != 1 {
		t.Errorf("actuator applied %d times, want 1", len(act.applied))
	}
}

func TestStep_EqualToThresholdIsOff(t *testing.T) {
	c, _, _, pub := newTestController(Config{Threshold: 69}, 69, 69)

	for range 2 {
		_ = c.Step(context.Background())
	}
	if c.State() != Off {
		t.Errorf("state = %v, want Off", c.State())
	}
	if len(pub.snapshot()) != 0 {
		t.Error("reading equal to threshold must not announce")
	}
}

func TestStep_FailedReadSkipsCycle(t *testing.T) {
	readErr := hardware.Unavailable("adc", errors.New("io"))
	c, src, _, pub := newTestController(Config{Threshold: 69}, 100, 100, 10)
	src.errs = map[int]error{1: readErr}
	ctx := context.Background()

	_ = c.Step(ctx)
	if err := c.Step(ctx); !errors.Is(err, hardware.ErrHardwareUnavailable) {
		t.Fatalf("Step() error = %v, want ErrHardwareUnavailable", err)
	}
	if c.State() != On {
		t.Errorf("state after failed read = %v, want On retained", c.State())
	}

	st := c.Status()
	if st.Skipped != 1 || st.Cycles != 1 || st.LastError == "" {
		t.Errorf("Status() = %+v", st)
	}
	if pub.readings != 1 {
		t.Errorf("readings published = %d, want 1", pub.readings)
	}
}

func TestStep_ActuatorFailureRetriesNextCycle(t *testing.T) {
	c, _, act, pub := newTestController(Config{Threshold: 69}, 100)
	act.setFail(true)

	if err := c.Step(context.Background()); !errors.Is(err, hardware.ErrHardwareUnavailable) {
		t.Fatalf("Step() error = %v", err)
	}
	if c.State() != Off || len(pub.snapshot()) != 0 {
		t.Fatal("failed transition must not change state or announce")
	}

	act.setFail(false)
	if err := c.Step(context.Background()); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if c.State() != On || len(pub.snapshot()) != 1 {
		t.Errorf("retry: state = %v, transitions = %d", c.State(), len(pub.snapshot()))
	}
}

func TestOverride_PersistsUntilNextCrossing(t *testing.T) {
	c, src, _, pub := newTestController(Config{Threshold: 69}, 100)
	ctx := context.Background()

	_ = c.Step(ctx) // On
	if got, err := c.Override(ctx, Off); err != nil || got != Off {
		t.Fatalf("Override(Off) = %v, %v", got, err)
	}
	_ = c.Step(ctx) // still above threshold, no new decision
	if c.State() != Off {
		t.Fatalf("override lost without a threshold crossing")
	}

	src.set(10, 100)
	_ = c.Step(ctx) // below: decision Off, already Off
	_ = c.Step(ctx) // above again: On
	if c.State() != On {
		t.Errorf("state = %v after crossing, want On", c.State())
	}

	var sources []string
	for _, tr := range pub.snapshot() {
		sources = append(sources, tr.Source+":"+tr.State.String())
	}
	want := []string{"threshold:On", "remote:Off", "threshold:On"}
	if len(sources) != len(want) {
		t.Fatalf("transitions = %v, want %v", sources, want)
	}
	for i := range want {
		if sources[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, sources[i], want[i])
		}
	}
}

func TestOverride_SameStateDoesNotAnnounce(t *testing.T) {
	c, _, act, pub := newTestController(Config{Threshold: 69}, 10)

	if got, err := c.Override(context.Background(), Off); err != nil || got != Off {
		t.Fatalf("Override(Off) = %v, %v", got, err)
	}
	if len(pub.snapshot()) != 0 || len(act.applied) != 0 {
		t.Error("override to the current state must be a no-op")
	}
}

func TestDwell_PulseThenForcedOff(t *testing.T) {
	c, _, act, pub := newTestController(Config{Threshold: 20, Dwell: 60 * time.Millisecond}, 25)
	ctx := context.Background()

	_ = c.Step(ctx)
	if c.State() != On || !c.Status().PulseActive {
		t.Fatalf("pulse not started: state %v", c.State())
	}

	// Readings during the dwell do not touch the actuator.
	for range 3 {
		_ = c.Step(ctx)
	}
	if len(act.applied) != 1 {
		t.Errorf("actuator applied %d times during dwell, want 1", len(act.applied))
	}

	waitFor(t, time.Second, func() bool { return c.State() == Off })
	transitions := pub.snapshot()
	if len(transitions) != 2 || transitions[1].Source != SourceDwell {
		t.Fatalf("transitions = %+v, want On then dwell Off", transitions)
	}

	// Still hot: a fresh decision starts the next pulse.
	_ = c.Step(ctx)
	if c.State() != On {
		t.Error("next hot reading did not start a new pulse")
	}
}

func TestDwell_CommandPreemptsPulse(t *testing.T) {
	c, _, act, pub := newTestController(Config{Threshold: 20, Dwell: 50 * time.Millisecond}, 25)
	ctx := context.Background()

	_ = c.Step(ctx)
	if _, err := c.Override(ctx, Off); err != nil {
		t.Fatalf("Override() error = %v", err)
	}
	if c.Status().PulseActive {
		t.Error("override must cancel the pulse")
	}

	time.Sleep(120 * time.Millisecond)
	transitions := pub.snapshot()
	if len(transitions) != 2 || transitions[1].Source != SourceRemote {
		t.Errorf("transitions = %+v, want threshold On then remote Off only", transitions)
	}
	if act.isOn() {
		t.Error("actuator on after override")
	}
}

func TestDwell_DoesNotBlockOverride(t *testing.T) {
	c, _, _, _ := newTestController(Config{Threshold: 20, Dwell: time.Hour}, 25)
	ctx := context.Background()
	_ = c.Step(ctx)

	done := make(chan struct{})
	go func() {
		_, _ = c.Override(ctx, Off)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Override blocked by a running pulse")
	}
}

func TestConcurrentStepAndOverride(t *testing.T) {
	c, src, act, pub := newTestController(Config{Threshold: 69}, 100)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				src.set(100)
			} else {
				src.set(10)
			}
			_ = c.Step(ctx)
		}(i)
		go func(i int) {
			defer wg.Done()
			_, _ = c.Override(ctx, State(i%3 == 0))
		}(i)
	}
	wg.Wait()

	transitions := pub.snapshot()
	for i := 1; i < len(transitions); i++ {
		if transitions[i].State == transitions[i-1].State {
			t.Fatalf("transition %d repeats state %v", i, transitions[i].State)
		}
	}
	if len(transitions) > 0 && transitions[len(transitions)-1].State != c.State() {
		t.Errorf("last announced %v, state %v", transitions[len(transitions)-1].State, c.State())
	}
	if act.isOn() != bool(c.State()) {
		t.Errorf("actuator %v disagrees with state %v", act.isOn(), c.State())
	}
}

func TestRun(t *testing.T) {
	c, _, act, _ := newTestController(Config{Threshold: 69, Interval: 5 * time.Millisecond}, 100)
	if err := c.Prime(); err != nil {
		t.Fatalf("Prime() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, time.Second, func() bool { return c.Status().Cycles >= 3 })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	act.mu.Lock()
	defer act.mu.Unlock()
	if len(act.applied) < 2 || act.applied[0] != false || act.applied[1] != true {
		t.Errorf("applied = %v, want prime Off then On", act.applied)
	}
}

func TestRun_DoesNotPrime(t *testing.T) {
	c, _, act, _ := newTestController(Config{Threshold: 69, Interval: time.Hour}, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	act.mu.Lock()
	defer act.mu.Unlock()
	if len(act.applied) != 0 {
		t.Errorf("applied = %v, want no writes from Run", act.applied)
	}
}

func TestOverride_RefusedAfterRunReturns(t *testing.T) {
	c, _, act, pub := newTestController(Config{Threshold: 69, Interval: 5 * time.Millisecond}, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, time.Second, func() bool { return c.Status().Cycles >= 1 })
	cancel()
	<-done
	if err := act.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	state, err := c.Override(context.Background(), On)
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("Override() error = %v, want ErrStopped", err)
	}
	if state != Off {
		t.Errorf("Override() state = %v, want Off", state)
	}
	if act.isOn() {
		t.Error("actuator driven after shutdown")
	}
	if len(pub.snapshot()) != 0 {
		t.Errorf("transitions = %+v, want none", pub.snapshot())
	}
}

func TestOverride_CancelledContext(t *testing.T) {
	c, _, act, _ := newTestController(Config{Threshold: 69}, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Override(ctx, On); !errors.Is(err, ErrStopped) {
		t.Errorf("Override() error = %v, want ErrStopped", err)
	}
	if act.isOn() {
		t.Error("actuator driven with a cancelled context")
	}
}

func TestDwell_FailedOverrideKeepsPulse(t *testing.T) {
	c, _, act, _ := newTestController(Config{Threshold: 20, Dwell: 50 * time.Millisecond}, 25)
	ctx := context.Background()

	_ = c.Step(ctx)
	if c.State() != On || !c.Status().PulseActive {
		t.Fatalf("pulse not started: state %v", c.State())
	}

	act.setFail(true)
	if _, err := c.Override(ctx, Off); err == nil {
		t.Fatal("Override() expected error from failing actuator")
	}
	if !c.Status().PulseActive {
		t.Error("failed override cancelled the pulse")
	}
	act.setFail(false)

	waitFor(t, time.Second, func() bool { return c.State() == Off })
	for range 5 {
		_ = c.Step(ctx)
	}
	if act.isOn() && !c.Status().PulseActive {
		t.Error("fan left on without a running pulse")
	}
}

func TestParseState(t *testing.T) {
	tests := []struct {
		in      string
		want    State
		wantErr bool
	}{
		{"On", On, false},
		{"off", Off, false},
		{" ON ", On, false},
		{"maybe", Off, true},
	}
	for _, tt := range tests {
		got, err := ParseState(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseState(%q) = %v, %v", tt.in, got, err)
		}
	}
	if On.String() != "On" || Off.String() != "Off" {
		t.Error("State.String()")
	}
}
