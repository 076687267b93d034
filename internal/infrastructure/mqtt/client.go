package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang for one cloud broker.
//
// It provides connection management, publishing with an optional offline
// queue, subscription handling with restoration after reconnect, and panic
// recovery around message handlers.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are automatically restored on reconnection.
type Client struct {
	client pahomqtt.Client
	opts   Options

	// subscriptions tracks active subscriptions for re-subscription on reconnect.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	// queue buffers publishes while disconnected (nil when disabled).
	queue    *offlineQueue
	draining bool
	drainMu  sync.Mutex
	done     chan struct{}
	wg       sync.WaitGroup
	closeMu  sync.Once

	// Callbacks for connection events (optional, set via SetOnConnect/SetOnDisconnect).
	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	// logger for error/panic logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}

// subscription holds subscription details for re-subscription on reconnect.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked in separate goroutines by the paho library.
// They should not block for extended periods.
//
// Returns:
//   - error: Logged but does not affect message acknowledgment
type MessageHandler func(topic string, payload []byte) error

// newClient builds an unconnected Client around a paho client.
func newClient(pc pahomqtt.Client, opts Options) *Client {
	c := &Client{
		client:        pc,
		opts:          opts,
		subscriptions: make(map[string]subscription),
		done:          make(chan struct{}),
	}
	if opts.OfflineQueueSize != 0 {
		c.queue = newOfflineQueue(opts.OfflineQueueSize, opts.OfflineDropOldest)
	}
	return c
}

// Connect establishes a connection to the broker described by opts.
//
// The initial connection is retried with exponential backoff
// (Reconnect.InitialDelay, Reconnect.MaxDelay, Reconnect.MaxAttempts) and
// gives up when ctx is cancelled. After that, paho's auto-reconnect takes
// over and, when an offline queue is configured, publishes are buffered
// while the link is down.
func Connect(ctx context.Context, opts Options, logger Logger) (*Client, error) {
	opts = opts.withDefaults()
	pahoOpts := buildClientOptions(opts)

	var c *Client

	pahoOpts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	pahoOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})
	pahoOpts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		if l := c.getLogger(); l != nil {
			l.Warn("MQTT reconnecting", "broker", opts.Name)
		}
	})

	c = newClient(pahomqtt.NewClient(pahoOpts), opts)
	c.logger = logger

	attempt := func() error {
		token := c.client.Connect()
		if !token.WaitTimeout(opts.ConnectTimeout) {
			return fmt.Errorf("timeout after %v", opts.ConnectTimeout)
		}
		if err := token.Error(); err != nil {
			if logger != nil {
				logger.Warn("MQTT connect attempt failed", "broker", opts.Name, "error", err)
			}
			return err
		}
		return nil
	}

	if err := backoff.Retry(attempt, connectBackOff(ctx, opts.Reconnect)); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, opts.Name, err)
	}

	// The OnConnectHandler runs asynchronously; mark connected here so
	// IsConnected is true as soon as Connect returns.
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	if logger != nil {
		logger.Info("MQTT connected", "broker", opts.Name, "url", opts.brokerURL(), "client_id", opts.ClientID)
	}

	return c, nil
}

// connectBackOff builds the retry policy for the initial connection.
func connectBackOff(ctx context.Context, rc config.MQTTReconnectConfig) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	if rc.InitialDelay > 0 {
		bo.InitialInterval = time.Duration(rc.InitialDelay) * time.Second
	}
	if rc.MaxDelay > 0 {
		bo.MaxInterval = time.Duration(rc.MaxDelay) * time.Second
	}
	bo.MaxElapsedTime = 0

	var b backoff.BackOff = bo
	if rc.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(rc.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

// handleConnect is called when the connection is established.
func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.restoreSubscriptions()
	c.startDrain()

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleDisconnect is called when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "broker", c.opts.Name, "error", err)
	}

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// restoreSubscriptions re-subscribes to all tracked topics after reconnect.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		// Errors surface again on the next reconnect; nothing to do here.
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// Close stops the drain loop and disconnects from the broker.
//
// Messages still in the offline queue are discarded; the queue lives in
// memory only.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.closeMu.Do(func() {
		if c.done != nil {
			close(c.done)
		}
	})
	c.wg.Wait()

	if n := c.QueueLength(); n > 0 {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("discarding queued messages on close", "broker", c.opts.Name, "count", n)
		}
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// Name returns the broker name used in logs.
func (c *Client) Name() string {
	return c.opts.Name
}

// HealthCheck reports whether the broker connection is up.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// SetOnConnect sets a callback to be invoked when connection is established.
// This is called on initial connect and on every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback to be invoked when connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for error and panic logging.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler wraps a MessageHandler with panic recovery and optional logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"broker", c.opts.Name,
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"broker", c.opts.Name,
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
