package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-edge/internal/controller"
	"github.com/nerrad567/gray-logic-edge/internal/history"
	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-edge/internal/metrics"
	"github.com/nerrad567/gray-logic-edge/internal/telemetry"
)

const (
	defaultDedupTTL = 10 * time.Minute
	handleTimeout   = 10 * time.Second
)

// Broker is the Broker B surface the listener needs. It is satisfied by
// *mqtt.Client.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Target is the control loop commands act on. It is satisfied by
// *controller.Controller.
type Target interface {
	Name() string
	Override(ctx context.Context, state controller.State) (controller.State, error)
}

// Log stores handled commands. It is satisfied by *history.Repository.
type Log interface {
	RecordCommand(ctx context.Context, entry history.CommandEntry) error
}

// Logger is the logging surface the listener needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Options configures a Listener. Every field is optional.
type Options struct {
	Logger  Logger
	Metrics *metrics.Metrics
	Log     Log
	QoS     byte

	// DedupTTL is how long a request id is remembered. Defaults to ten
	// minutes.
	DedupTTL time.Duration

	now func() time.Time
}

// Listener applies ThingsBoard RPC requests to one control loop.
type Listener struct {
	broker Broker
	target Target
	opts   Options

	ctx context.Context

	mu       sync.Mutex
	seen     map[string]time.Time
	stopped  bool
	inflight sync.WaitGroup
}

// NewListener creates a listener. Call Start to subscribe.
func NewListener(broker Broker, target Target, opts Options) *Listener {
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = defaultDedupTTL
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	return &Listener{
		broker: broker,
		target: target,
		opts:   opts,
		ctx:    context.Background(),
		seen:   make(map[string]time.Time),
	}
}

// Start subscribes to the RPC request topic. Commands are handled with
// contexts derived from ctx. The broker restores the subscription after
// a reconnect.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	l.ctx = ctx
	l.mu.Unlock()

	topic := mqtt.Topics{}.RPCRequests()
	if err := l.broker.Subscribe(topic, l.opts.QoS, l.handleMessage); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	l.opts.Logger.Info("listening for remote commands", "topic", topic, "loop", l.target.Name())
	return nil
}

// Stop drops the subscription and waits for commands already being
// handled. Messages delivered afterwards are discarded, so no command
// reaches the target once Stop returns.
func (l *Listener) Stop() error {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()

	l.inflight.Wait()

	topic := mqtt.Topics{}.RPCRequests()
	if err := l.broker.Unsubscribe(topic); err != nil {
		return fmt.Errorf("unsubscribing from %s: %w", topic, err)
	}
	l.opts.Logger.Info("remote commands stopped", "topic", topic)
	return nil
}

// handleMessage is the MQTT callback. It never returns an error.
func (l *Listener) handleMessage(topic string, payload []byte) error {
	l.mu.Lock()
	base := l.ctx
	if l.stopped || base.Err() != nil {
		l.mu.Unlock()
		l.opts.Logger.Debug("discarding remote command after shutdown", "topic", topic)
		return nil
	}
	l.inflight.Add(1)
	l.mu.Unlock()
	defer l.inflight.Done()

	ctx, cancel := context.WithTimeout(base, handleTimeout)
	defer cancel()

	l.Handle(ctx, topic, payload)
	return nil
}

// Handle processes one RPC request.
func (l *Listener) Handle(ctx context.Context, topic string, payload []byte) {
	requestID, ok := mqtt.Topics{}.RPCRequestID(topic)
	if !ok {
		l.opts.Logger.Warn("ignoring message on unexpected topic", "topic", topic)
		return
	}

	cmd, err := Decode(payload)
	if err != nil {
		l.reject(ctx, requestID, cmd, payload, err)
		return
	}

	if l.isDuplicate(requestID) {
		l.opts.Logger.Debug("duplicate remote command", "request_id", requestID, "method", cmd.Method)
		l.opts.Metrics.Command(cmd.Method, history.OutcomeDuplicate)
		l.record(ctx, requestID, cmd.Method, cmd.Params, history.OutcomeDuplicate, nil)
		l.respond(requestID, map[string]any{"power": cmd.State.String()})
		return
	}

	state, err := l.target.Override(ctx, cmd.State)
	if err != nil {
		l.forget(requestID)
		l.reject(ctx, requestID, cmd, payload, err)
		return
	}

	l.opts.Logger.Info("remote command applied",
		"request_id", requestID,
		"method", cmd.Method,
		"loop", l.target.Name(),
		"state", state.String(),
	)
	l.opts.Metrics.Command(cmd.Method, history.OutcomeApplied)
	l.record(ctx, requestID, cmd.Method, cmd.Params, history.OutcomeApplied, nil)

	confirmation := telemetry.PowerFields(state)
	l.publish(mqtt.Topics{}.Telemetry(), confirmation)
	l.respond(requestID, confirmation)
}

func (l *Listener) reject(ctx context.Context, requestID string, cmd Command, payload []byte, err error) {
	l.opts.Logger.Warn("remote command rejected",
		"request_id", requestID,
		"method", cmd.Method,
		"payload_bytes", len(payload),
		"error", err,
	)
	l.opts.Metrics.Command(cmd.Method, history.OutcomeRejected)

	params := cmd.Params
	if errors.Is(err, ErrMalformedCommand) {
		params = nil
	}
	l.record(ctx, requestID, cmd.Method, params, history.OutcomeRejected, err)
	l.respond(requestID, map[string]any{"error": err.Error()})
}

// isDuplicate reports whether requestID was seen within the TTL and
// remembers it otherwise.
func (l *Listener) isDuplicate(requestID string) bool {
	now := l.opts.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for id, at := range l.seen {
		if now.Sub(at) > l.opts.DedupTTL {
			delete(l.seen, id)
		}
	}
	if _, ok := l.seen[requestID]; ok {
		return true
	}
	l.seen[requestID] = now
	return false
}

// forget lets a failed request be retried by a redelivery.
func (l *Listener) forget(requestID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.seen, requestID)
}

func (l *Listener) record(ctx context.Context, requestID, method string, params json.RawMessage, outcome string, cause error) {
	if l.opts.Log == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	entry := history.CommandEntry{
		RequestID: requestID,
		Method:    method,
		Params:    params,
		Outcome:   outcome,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	if err := l.opts.Log.RecordCommand(ctx, entry); err != nil {
		l.opts.Logger.Warn("failed to record command", "request_id", requestID, "error", err)
	}
}

func (l *Listener) respond(requestID string, body map[string]any) {
	l.publish(mqtt.Topics{}.RPCResponse(requestID), body)
}

func (l *Listener) publish(topic string, body map[string]any) {
	payload, err := json.Marshal(body)
	if err != nil {
		l.opts.Logger.Warn("failed to encode reply", "topic", topic, "error", err)
		return
	}
	if err := l.broker.Publish(topic, payload, l.opts.QoS, false); err != nil {
		l.opts.Logger.Warn("failed to publish reply", "topic", topic, "error", err)
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
