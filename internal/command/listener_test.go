package command

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-edge/internal/controller"
	"github.com/nerrad567/gray-logic-edge/internal/history"
	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-edge/internal/sensor"
)

type reply struct {
	topic string
	body  map[string]any
}

type fakeBroker struct {
	mu           sync.Mutex
	topic        string
	handler      mqtt.MessageHandler
	replies      []reply
	subscribeErr error
	unsubscribed []string
}

func (b *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return b.subscribeErr
	}
	b.topic = topic
	b.handler = handler
	return nil
}

// Unsubscribe keeps the handler so tests can model a late delivery.
func (b *fakeBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribed = append(b.unsubscribed, topic)
	return nil
}

func (b *fakeBroker) Publish(topic string, payload []byte, _ byte, _ bool) error {
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replies = append(b.replies, reply{topic: topic, body: body})
	return nil
}

func (b *fakeBroker) deliver(t *testing.T, id, payload string) {
	t.Helper()
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h == nil {
		t.Error("listener did not subscribe")
		return
	}
	if err := h(mqtt.TopicRPCRequestPrefix+id, []byte(payload)); err != nil {
		t.Errorf("handler returned %v, want nil", err)
	}
}

func (b *fakeBroker) sent() []reply {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]reply(nil), b.replies...)
}

type fakeTarget struct {
	mu    sync.Mutex
	state controller.State
	calls []controller.State
	err   error

	// entered and release hold Override open when set.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeTarget) Name() string { return "soil" }

func (f *fakeTarget) Override(_ context.Context, s controller.State) (controller.State, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
	if f.err != nil {
		return f.state, f.err
	}
	f.state = s
	return s, nil
}

func (f *fakeTarget) overrides() []controller.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]controller.State(nil), f.calls...)
}

type fakeLog struct {
	mu      sync.Mutex
	entries []history.CommandEntry
}

func (l *fakeLog) RecordCommand(_ context.Context, e history.CommandEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

func (l *fakeLog) outcomes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Outcome
	}
	return out
}

func startListener(t *testing.T, opts Options) (*fakeBroker, *fakeTarget, *fakeLog) {
	t.Helper()
	broker := &fakeBroker{}
	target := &fakeTarget{}
	log := &fakeLog{}
	opts.Log = log
	opts.QoS = 1

	l := NewListener(broker, target, opts)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return broker, target, log
}

func TestListener_SubscribesToRPCRequests(t *testing.T) {
	broker, _, _ := startListener(t, Options{})
	if broker.topic != "v1/devices/me/rpc/request/+" {
		t.Errorf("subscribed to %q", broker.topic)
	}
}

func TestListener_SubscribeFailure(t *testing.T) {
	broker := &fakeBroker{subscribeErr: errors.New("not connected")}
	l := NewListener(broker, &fakeTarget{}, Options{})
	if err := l.Start(context.Background()); err == nil {
		t.Error("Start() expected error")
	}
}

func TestListener_SetColorApplied(t *testing.T) {
	broker, target, log := startListener(t, Options{})

	broker.deliver(t, "7", `{"method":"setColor","params":{"color":"blue"}}`)

	if got := target.overrides(); len(got) != 1 || got[0] != controller.On {
		t.Fatalf("overrides = %v, want [On]", got)
	}

	replies := broker.sent()
	if len(replies) != 2 {
		t.Fatalf("replies = %v, want confirmation and response", replies)
	}
	if replies[0].topic != "v1/devices/me/telemetry" || replies[0].body["power"] != "On" {
		t.Errorf("confirmation = %+v", replies[0])
	}
	if replies[1].topic != "v1/devices/me/rpc/response/7" || replies[1].body["power"] != "On" {
		t.Errorf("response = %+v", replies[1])
	}
	if got := log.outcomes(); len(got) != 1 || got[0] != history.OutcomeApplied {
		t.Errorf("log outcomes = %v", got)
	}
}

func TestListener_MalformedThenValid(t *testing.T) {
	broker, target, log := startListener(t, Options{})

	broker.deliver(t, "1", `{"method":"setColor","params":{"col`)
	if len(target.overrides()) != 0 {
		t.Fatal("a truncated request must not change state")
	}

	broker.deliver(t, "2", `{"method":"setColor","params":{"color":"blue"}}`)
	if got := target.overrides(); len(got) != 1 || got[0] != controller.On {
		t.Errorf("overrides = %v, want [On]", got)
	}

	outcomes := log.outcomes()
	if len(outcomes) != 2 || outcomes[0] != history.OutcomeRejected || outcomes[1] != history.OutcomeApplied {
		t.Errorf("log outcomes = %v", outcomes)
	}
	if log.entries[0].Method != "unknown" {
		t.Errorf("malformed method logged as %q", log.entries[0].Method)
	}

	replies := broker.sent()
	if replies[0].topic != "v1/devices/me/rpc/response/1" || replies[0].body["error"] == nil {
		t.Errorf("malformed response = %+v", replies[0])
	}
}

func TestListener_UnknownColorNoChange(t *testing.T) {
	broker, target, _ := startListener(t, Options{})

	broker.deliver(t, "3", `{"method":"setColor","params":{"color":"purple"}}`)
	broker.deliver(t, "4", `{"method":"reboot"}`)

	if len(target.overrides()) != 0 {
		t.Errorf("overrides = %v, want none", target.overrides())
	}
}

func TestListener_DuplicateAppliedOnce(t *testing.T) {
	broker, target, log := startListener(t, Options{})

	broker.deliver(t, "9", `{"method":"setState","params":{"state":"On"}}`)
	broker.deliver(t, "9", `{"method":"setState","params":{"state":"On"}}`)

	if got := target.overrides(); len(got) != 1 {
		t.Errorf("overrides = %v, want one", got)
	}
	outcomes := log.outcomes()
	if len(outcomes) != 2 || outcomes[1] != history.OutcomeDuplicate {
		t.Errorf("log outcomes = %v", outcomes)
	}

	var responses int
	for _, r := range broker.sent() {
		if r.topic == "v1/devices/me/rpc/response/9" {
			responses++
		}
	}
	if responses != 2 {
		t.Errorf("responses = %d, want a reply to each delivery", responses)
	}
}

func TestListener_DedupExpires(t *testing.T) {
	now := time.Unix(1700000000, 0)
	broker, target, _ := startListener(t, Options{
		DedupTTL: time.Minute,
		now:      func() time.Time { return now },
	})

	broker.deliver(t, "5", `{"method":"setState","params":true}`)
	now = now.Add(2 * time.Minute)
	broker.deliver(t, "5", `{"method":"setState","params":false}`)

	if got := target.overrides(); len(got) != 2 {
		t.Errorf("overrides = %v, want two after the TTL", got)
	}
}

func TestListener_FailedOverrideCanBeRetried(t *testing.T) {
	broker, target, log := startListener(t, Options{})
	target.err = errors.New("gpio busy")

	broker.deliver(t, "6", `{"method":"setState","params":{"enabled":true}}`)

	target.mu.Lock()
	target.err = nil
	target.mu.Unlock()
	broker.deliver(t, "6", `{"method":"setState","params":{"enabled":true}}`)

	if got := target.overrides(); len(got) != 2 {
		t.Errorf("overrides = %v, want the redelivery applied", got)
	}
	outcomes := log.outcomes()
	if len(outcomes) != 2 || outcomes[0] != history.OutcomeRejected || outcomes[1] != history.OutcomeApplied {
		t.Errorf("log outcomes = %v", outcomes)
	}
}

func TestListener_IgnoresForeignTopic(t *testing.T) {
	broker, target, log := startListener(t, Options{})

	if err := broker.handler("v1/devices/me/attributes", []byte(`{"method":"setState","params":true}`)); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if len(target.overrides()) != 0 || len(log.outcomes()) != 0 || len(broker.sent()) != 0 {
		t.Error("a message outside the RPC topic must be ignored")
	}
}

func TestListener_ConcurrentDeliveries(t *testing.T) {
	broker, target, _ := startListener(t, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := string(rune('a' + i))
			payload := `{"method":"setColor","params":{"color":"green"}}`
			if i%2 == 0 {
				payload = `{"method":"setColor","params":{"color":"blue"}}`
			}
			broker.deliver(t, id, payload)
		}()
	}
	wg.Wait()

	if got := target.overrides(); len(got) != 20 {
		t.Errorf("overrides = %d, want 20", len(got))
	}
}

func TestListener_StopDiscardsLateDeliveries(t *testing.T) {
	broker := &fakeBroker{}
	target := &fakeTarget{}
	l := NewListener(broker, target, Options{})
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := l.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if len(broker.unsubscribed) != 1 || broker.unsubscribed[0] != "v1/devices/me/rpc/request/+" {
		t.Errorf("unsubscribed = %v", broker.unsubscribed)
	}

	broker.deliver(t, "9", `{"method":"setColor","params":{"color":"blue"}}`)
	if got := target.overrides(); len(got) != 0 {
		t.Errorf("overrides after Stop = %v, want none", got)
	}
	if got := broker.sent(); len(got) != 0 {
		t.Errorf("replies after Stop = %v, want none", got)
	}
}

func TestListener_CancelledContextDiscards(t *testing.T) {
	broker := &fakeBroker{}
	target := &fakeTarget{}
	ctx, cancel := context.WithCancel(context.Background())
	l := NewListener(broker, target, Options{})
	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()

	broker.deliver(t, "3", `{"method":"setState","params":true}`)
	if got := target.overrides(); len(got) != 0 {
		t.Errorf("overrides after cancel = %v, want none", got)
	}
}

func TestListener_StopWaitsForInflightCommand(t *testing.T) {
	broker := &fakeBroker{}
	target := &fakeTarget{entered: make(chan struct{}), release: make(chan struct{})}
	l := NewListener(broker, target, Options{})
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	go broker.deliver(t, "4", `{"method":"setState","params":true}`)
	<-target.entered

	stopped := make(chan struct{})
	go func() {
		_ = l.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop() returned while a command was still being applied")
	case <-time.After(50 * time.Millisecond):
	}

	close(target.release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop() did not return after the command finished")
	}
}

type constantSource struct{ value float64 }

func (s constantSource) Name() string { return "soil" }

func (s constantSource) Sample(context.Context) (sensor.Reading, error) {
	return sensor.Reading{Value: s.value, Raw: -1, At: time.Now()}, nil
}

func (s constantSource) Fields(r sensor.Reading) map[string]any {
	return map[string]any{"moisture": int(r.Value)}
}

type lampActuator struct {
	mu sync.Mutex
	on bool
}

func (a *lampActuator) Apply(on bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.on = on
	return nil
}

func (a *lampActuator) Release() error { return a.Apply(false) }

func (a *lampActuator) isOn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.on
}

type nopPublisher struct{}

func (nopPublisher) PublishReading(context.Context, string, sensor.Reading, map[string]any) {}
func (nopPublisher) PublishTransition(context.Context, controller.Transition)               {}

func TestListener_NoCommandAfterShutdown(t *testing.T) {
	act := &lampActuator{}
	ctrl := controller.New(constantSource{value: 10}, act, nopPublisher{},
		controller.Config{Threshold: 69, Interval: 5 * time.Millisecond}, controller.Options{})
	if err := ctrl.Prime(); err != nil {
		t.Fatalf("Prime() error = %v", err)
	}

	broker := &fakeBroker{}
	ctx, cancel := context.WithCancel(context.Background())
	l := NewListener(broker, ctrl, Options{})
	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done
	if err := act.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	broker.deliver(t, "11", `{"method":"setColor","params":{"color":"blue"}}`)
	if act.isOn() {
		t.Error("actuator driven after shutdown and release")
	}

	// Handle bypasses the callback guard; the controller still refuses.
	l.Handle(context.Background(), mqtt.TopicRPCRequestPrefix+"12", []byte(`{"method":"setState","params":true}`))
	if act.isOn() {
		t.Error("controller accepted an override after Run returned")
	}
}
