package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for one connection attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultOperationTimeout is the maximum time to wait for a publish or
	// subscribe acknowledgment.
	defaultOperationTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12

	// clientIDPrefix prefixes generated client identifiers.
	clientIDPrefix = "graylogic-edge-"
)

// Options describes one broker connection. Build it with AWSOptions or
// ThingsBoardOptions rather than by hand.
type Options struct {
	// Name identifies the broker in logs and metrics ("aws", "thingsboard").
	Name string

	Host     string
	Port     int
	ClientID string
	Username string
	Password string

	// TLS enables ssl:// when non-nil.
	TLS *tls.Config

	QoS              byte
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
	KeepAlive        time.Duration
	Reconnect        config.MQTTReconnectConfig

	// OfflineQueueSize is -1 for unbounded, 0 to disable, or a bound.
	OfflineQueueSize int

	// OfflineDropOldest evicts the oldest message when a bounded queue is
	// full. The default rejects the newest.
	OfflineDropOldest bool

	// DrainingFrequency is queued messages sent per second after reconnect.
	DrainingFrequency float64
}

// AWSOptions builds Broker A options: mutual TLS with the device
// certificate and offline publish queueing.
func AWSOptions(cfg config.AWSBrokerConfig) (Options, error) {
	tlsCfg, err := loadMutualTLS(cfg.Host, cfg.RootCA, cfg.ClientCert, cfg.PrivateKey)
	if err != nil {
		return Options{}, err
	}

	return Options{
		Name:              "aws",
		Host:              cfg.Host,
		Port:              cfg.Port,
		ClientID:          cfg.ClientID,
		TLS:               tlsCfg,
		QoS:               byte(cfg.QoS),
		ConnectTimeout:    cfg.ConnectTimeout,
		OperationTimeout:  cfg.OperationTimeout,
		KeepAlive:         cfg.KeepAlive,
		Reconnect:         cfg.Reconnect,
		OfflineQueueSize:  cfg.OfflineQueueSize,
		OfflineDropOldest: cfg.OfflineDropOldest,
		DrainingFrequency: cfg.DrainingFrequency,
	}, nil
}

// ThingsBoardOptions builds Broker B options. The device access token is the
// MQTT username and there is no offline queue.
func ThingsBoardOptions(cfg config.ThingsBoardBrokerConfig) Options {
	opts := Options{
		Name:             "thingsboard",
		Host:             cfg.Host,
		Port:             cfg.Port,
		ClientID:         cfg.ClientID,
		Username:         cfg.AccessToken,
		QoS:              byte(cfg.QoS),
		ConnectTimeout:   cfg.ConnectTimeout,
		OperationTimeout: cfg.OperationTimeout,
		KeepAlive:        cfg.KeepAlive,
		Reconnect:        cfg.Reconnect,
	}
	if cfg.TLS {
		opts.TLS = &tls.Config{MinVersion: tlsMinVersion, ServerName: cfg.Host}
	}
	return opts
}

// loadMutualTLS reads the root CA and the device key pair used for AWS IoT.
func loadMutualTLS(host, rootCA, certFile, keyFile string) (*tls.Config, error) {
	caPEM, err := os.ReadFile(rootCA)
	if err != nil {
		return nil, fmt.Errorf("%w: reading root CA: %w", ErrCredentials, err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("%w: no certificates in %s", ErrCredentials, rootCA)
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("%w: loading client key pair: %w", ErrCredentials, err)
	}

	return &tls.Config{
		MinVersion:   tlsMinVersion,
		RootCAs:      pool,
		Certificates: []tls.Certificate{cert},
		ServerName:   host,
	}, nil
}

// withDefaults fills zero values and generates a client ID when none is set.
func (o Options) withDefaults() Options {
	if o.ClientID == "" {
		o.ClientID = generateClientID()
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = defaultOperationTimeout
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = defaultKeepAlive
	}
	if o.Name == "" {
		o.Name = o.Host
	}
	return o
}

// brokerURL returns tcp:// or ssl:// depending on TLS.
func (o Options) brokerURL() string {
	scheme := "tcp"
	if o.TLS != nil {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, o.Host, o.Port)
}

// generateClientID returns a unique client identifier. Brokers disconnect
// the older session when two clients share an ID.
func generateClientID() string {
	return clientIDPrefix + uuid.NewString()[:8]
}

// buildClientOptions creates paho options.
//
// The initial connect is retried by Connect itself, so paho's ConnectRetry
// stays off; AutoReconnect handles connections lost later.
func buildClientOptions(o Options) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(o.brokerURL())
	opts.SetClientID(o.ClientID)

	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	opts.SetCleanSession(true)
	opts.SetOrderMatters(false)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	if o.Reconnect.MaxDelay > 0 {
		opts.SetMaxReconnectInterval(time.Duration(o.Reconnect.MaxDelay) * time.Second)
	}

	opts.SetConnectTimeout(o.ConnectTimeout)
	opts.SetKeepAlive(o.KeepAlive)
	opts.SetWriteTimeout(o.OperationTimeout)

	if o.TLS != nil {
		opts.SetTLSConfig(o.TLS)
	}

	return opts
}
