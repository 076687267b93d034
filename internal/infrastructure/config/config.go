package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Gray Logic Edge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	API      APIConfig      `yaml:"api"`
	Hardware HardwareConfig `yaml:"hardware"`
	Brokers  BrokersConfig  `yaml:"brokers"`
	Loops    LoopsConfig    `yaml:"loops"`
}

// SiteConfig identifies the board this process runs on.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite history settings.
type DatabaseConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	WALMode       bool   `yaml:"wal_mode"`
	BusyTimeout   int    `yaml:"busy_timeout"`
	RetentionDays int    `yaml:"retention_days"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// APIConfig contains the local status server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// HardwareConfig maps logical lines to physical header pin numbers
// (e.g. "11"), as the Raspberry Pi adaptor expects them.
type HardwareConfig struct {
	ADC       ADCPinsConfig   `yaml:"adc"`
	Indicator IndicatorConfig `yaml:"indicator"`
	Fan       SwitchConfig    `yaml:"fan"`
	Lamp      SwitchConfig    `yaml:"lamp"`
	LED       PWMPinConfig    `yaml:"led"`
}

// ADCPinsConfig names the four lines of the serial ADC.
type ADCPinsConfig struct {
	ChipSelect string `yaml:"cs"`
	Clock      string `yaml:"clk"`
	DataIn     string `yaml:"di"`
	DataOut    string `yaml:"do"`
}

// PWMPinConfig is a PWM-capable output line and its carrier frequency in Hz.
type PWMPinConfig struct {
	Pin       string `yaml:"pin"`
	Frequency int    `yaml:"frequency"`
}

// IndicatorConfig is the tri-colour LED. The outputs are active-low.
type IndicatorConfig struct {
	Red   PWMPinConfig `yaml:"red"`
	Green PWMPinConfig `yaml:"green"`
	Blue  PWMPinConfig `yaml:"blue"`
}

// SwitchConfig is a plain on/off output line.
type SwitchConfig struct {
	Pin       string `yaml:"pin"`
	ActiveLow bool   `yaml:"active_low"`
}

// BrokersConfig holds both cloud broker connections.
type BrokersConfig struct {
	AWS         AWSBrokerConfig         `yaml:"aws"`
	ThingsBoard ThingsBoardBrokerConfig `yaml:"thingsboard"`
}

// AWSBrokerConfig is Broker A: AWS IoT Core over mutual TLS with offline
// publish queueing.
type AWSBrokerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	ClientID   string `yaml:"client_id"`
	RootCA     string `yaml:"root_ca"`
	ClientCert string `yaml:"client_cert"`
	PrivateKey string `yaml:"private_key"`
	QoS        int    `yaml:"qos"`

	// OfflineQueueSize bounds the outbound buffer while disconnected.
	// -1 is unbounded, 0 disables queueing.
	OfflineQueueSize int `yaml:"offline_queue_size"`

	// OfflineDropOldest evicts the oldest queued message when a bounded
	// queue is full. Otherwise the new message is rejected.
	OfflineDropOldest bool `yaml:"offline_drop_oldest"`

	// DrainingFrequency is how many queued messages per second are sent
	// after a reconnect.
	DrainingFrequency float64 `yaml:"draining_frequency"`

	ConnectTimeout   time.Duration       `yaml:"connect_timeout"`
	OperationTimeout time.Duration       `yaml:"operation_timeout"`
	KeepAlive        time.Duration       `yaml:"keep_alive"`
	Reconnect        MQTTReconnectConfig `yaml:"reconnect"`
}

// ThingsBoardBrokerConfig is Broker B: the dashboard broker. The device
// access token is sent as the MQTT username.
type ThingsBoardBrokerConfig struct {
	Enabled          bool                `yaml:"enabled"`
	Host             string              `yaml:"host"`
	Port             int                 `yaml:"port"`
	TLS              bool                `yaml:"tls"`
	ClientID         string              `yaml:"client_id"`
	AccessToken      string              `yaml:"access_token"`
	QoS              int                 `yaml:"qos"`
	ConnectTimeout   time.Duration       `yaml:"connect_timeout"`
	OperationTimeout time.Duration       `yaml:"operation_timeout"`
	KeepAlive        time.Duration       `yaml:"keep_alive"`
	Reconnect        MQTTReconnectConfig `yaml:"reconnect"`
	Breaker          BreakerConfig       `yaml:"breaker"`

	// CommandLoop is the loop remote RPC commands act on. Empty disables
	// the command listener.
	CommandLoop string `yaml:"command_loop"`

	// CommandDedupTTL is how long an RPC request id is remembered.
	CommandDedupTTL time.Duration `yaml:"command_dedup_ttl"`
}

// MQTTReconnectConfig contains initial connection retry settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// BreakerConfig tunes the circuit breaker in front of a publish target.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// LoopsConfig enables and tunes the individual control loops.
type LoopsConfig struct {
	Soil        SoilLoopConfig        `yaml:"soil"`
	Temperature TemperatureLoopConfig `yaml:"temperature"`
	Light       LightLoopConfig       `yaml:"light"`
}

// SoilLoopConfig drives the RGB indicator from soil moisture.
type SoilLoopConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	Channel   int           `yaml:"channel"`
	Threshold float64       `yaml:"threshold"`
	Topic     string        `yaml:"topic"`
	OnColor   uint32        `yaml:"on_color"`
	OffColor  uint32        `yaml:"off_color"`
}

// TemperatureLoopConfig drives the fan from a one-wire thermometer.
type TemperatureLoopConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	Threshold  float64       `yaml:"threshold"`
	Dwell      time.Duration `yaml:"dwell"`
	DevicesDir string        `yaml:"devices_dir"`
	SensorID   string        `yaml:"sensor_id"`
	Topic      string        `yaml:"topic"`
}

// LightLoopConfig drives the lamp from a photoresistor.
type LightLoopConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	Channel   int           `yaml:"channel"`
	Threshold float64       `yaml:"threshold"`
	Topic     string        `yaml:"topic"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_EDGE_SECTION_KEY
// For example: GRAYLOGIC_EDGE_DATABASE_PATH, GRAYLOGIC_EDGE_THINGSBOARD_TOKEN
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with the values the boards ship with.
// Pins are physical header numbers.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "edge-001",
			Name: "Gray Logic Edge",
		},
		Database: DatabaseConfig{
			Enabled:       true,
			Path:          "./data/graylogic-edge.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		Hardware: HardwareConfig{
			ADC: ADCPinsConfig{
				ChipSelect: "11",
				Clock:      "12",
				DataIn:     "15",
				DataOut:    "13",
			},
			Indicator: IndicatorConfig{
				Red:   PWMPinConfig{Pin: "36", Frequency: 2000},
				Green: PWMPinConfig{Pin: "38", Frequency: 1999},
				Blue:  PWMPinConfig{Pin: "40", Frequency: 5000},
			},
			Fan:  SwitchConfig{Pin: "16"},
			Lamp: SwitchConfig{Pin: "35", ActiveLow: true},
			LED:  PWMPinConfig{Pin: "7", Frequency: 10},
		},
		Brokers: BrokersConfig{
			AWS: AWSBrokerConfig{
				Port:              8883,
				QoS:               1,
				OfflineQueueSize:  -1,
				DrainingFrequency: 2,
				ConnectTimeout:    10 * time.Second,
				OperationTimeout:  5 * time.Second,
				KeepAlive:         60 * time.Second,
				Reconnect: MQTTReconnectConfig{
					InitialDelay: 1,
					MaxDelay:     60,
					MaxAttempts:  5,
				},
			},
			ThingsBoard: ThingsBoardBrokerConfig{
				Host:             "demo.thingsboard.io",
				Port:             1883,
				QoS:              1,
				ConnectTimeout:   10 * time.Second,
				OperationTimeout: 5 * time.Second,
				KeepAlive:        60 * time.Second,
				Reconnect: MQTTReconnectConfig{
					InitialDelay: 1,
					MaxDelay:     60,
					MaxAttempts:  5,
				},
				Breaker: BreakerConfig{
					MaxFailures: 5,
					OpenTimeout: 30 * time.Second,
				},
				CommandLoop:     "soil",
				CommandDedupTTL: 10 * time.Minute,
			},
		},
		Loops: LoopsConfig{
			Soil: SoilLoopConfig{
				Enabled:   true,
				Interval:  time.Second,
				Channel:   0,
				Threshold: 69,
				Topic:     "champlain/sensor/69/data",
				OnColor:   0x0000FF,
				OffColor:  0x00FF00,
			},
			Temperature: TemperatureLoopConfig{
				Interval:   time.Second,
				Threshold:  20.0,
				Dwell:      5 * time.Second,
				DevicesDir: "/sys/bus/w1/devices",
				Topic:      "champlain/sensor/69/temperature",
			},
			Light: LightLoopConfig{
				Interval:  400 * time.Millisecond,
				Channel:   0,
				Threshold: 50,
				Topic:     "champlain/sensor/69/light",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Numeric overrides that fail to parse are ignored and the file value is kept.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRAYLOGIC_EDGE_SITE_ID"); v != "" {
		cfg.Site.ID = v
	}
	if v := os.Getenv("GRAYLOGIC_EDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("GRAYLOGIC_EDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Broker A
	if v := os.Getenv("GRAYLOGIC_EDGE_AWS_HOST"); v != "" {
		cfg.Brokers.AWS.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_EDGE_AWS_CLIENT_ID"); v != "" {
		cfg.Brokers.AWS.ClientID = v
	}

	// Broker B
	if v := os.Getenv("GRAYLOGIC_EDGE_THINGSBOARD_HOST"); v != "" {
		cfg.Brokers.ThingsBoard.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_EDGE_THINGSBOARD_TOKEN"); v != "" {
		cfg.Brokers.ThingsBoard.AccessToken = v
	}

	// Thresholds
	if v := os.Getenv("GRAYLOGIC_EDGE_SOIL_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Loops.Soil.Threshold = f
		}
	}
	if v := os.Getenv("GRAYLOGIC_EDGE_TEMPERATURE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Loops.Temperature.Threshold = f
		}
	}
	if v := os.Getenv("GRAYLOGIC_EDGE_LIGHT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Loops.Light.Threshold = f
		}
	}
}

// Validate checks the configuration for errors.
//
// All problems are collected so an operator can fix the file in one pass.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	errs = append(errs, c.Brokers.validate()...)
	errs = append(errs, c.Loops.validate()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (b BrokersConfig) validate() []string {
	var errs []string

	if !b.AWS.Enabled && !b.ThingsBoard.Enabled {
		errs = append(errs, "at least one of brokers.aws or brokers.thingsboard must be enabled")
	}

	if aws := b.AWS; aws.Enabled {
		if aws.Host == "" {
			errs = append(errs, "brokers.aws.host is required")
		}
		if aws.RootCA == "" || aws.ClientCert == "" || aws.PrivateKey == "" {
			errs = append(errs, "brokers.aws.root_ca, client_cert and private_key are required")
		}
		if aws.QoS < 0 || aws.QoS > 2 {
			errs = append(errs, "brokers.aws.qos must be 0, 1, or 2")
		}
		if aws.OfflineQueueSize < -1 {
			errs = append(errs, "brokers.aws.offline_queue_size must be -1 (unbounded) or greater")
		}
		if aws.DrainingFrequency <= 0 {
			errs = append(errs, "brokers.aws.draining_frequency must be positive")
		}
		if aws.ConnectTimeout <= 0 || aws.OperationTimeout <= 0 {
			errs = append(errs, "brokers.aws timeouts must be positive")
		}
	}

	if tb := b.ThingsBoard; tb.Enabled {
		if tb.Host == "" {
			errs = append(errs, "brokers.thingsboard.host is required")
		}
		if tb.AccessToken == "" {
			errs = append(errs, "brokers.thingsboard.access_token is required (set GRAYLOGIC_EDGE_THINGSBOARD_TOKEN)")
		}
		if tb.QoS < 0 || tb.QoS > 2 {
			errs = append(errs, "brokers.thingsboard.qos must be 0, 1, or 2")
		}
		if tb.ConnectTimeout <= 0 || tb.OperationTimeout <= 0 {
			errs = append(errs, "brokers.thingsboard timeouts must be positive")
		}
		switch tb.CommandLoop {
		case "", "soil", "temperature", "light":
		default:
			errs = append(errs, "brokers.thingsboard.command_loop must be soil, temperature, light or empty")
		}
	}

	return errs
}

func (l LoopsConfig) validate() []string {
	var errs []string

	if !l.Soil.Enabled && !l.Temperature.Enabled && !l.Light.Enabled {
		errs = append(errs, "at least one loop must be enabled")
	}

	if l.Soil.Enabled {
		if l.Soil.Interval <= 0 {
			errs = append(errs, "loops.soil.interval must be positive")
		}
		if !validChannel(l.Soil.Channel) {
			errs = append(errs, "loops.soil.channel must be 0 or 1")
		}
		if l.Soil.Topic == "" {
			errs = append(errs, "loops.soil.topic is required")
		}
		if l.Soil.OnColor > 0xFFFFFF || l.Soil.OffColor > 0xFFFFFF {
			errs = append(errs, "loops.soil colours must be 24-bit RGB values")
		}
	}

	if l.Temperature.Enabled {
		if l.Temperature.Interval <= 0 {
			errs = append(errs, "loops.temperature.interval must be positive")
		}
		if l.Temperature.Dwell <= 0 {
			errs = append(errs, "loops.temperature.dwell must be positive")
		}
		if l.Temperature.DevicesDir == "" {
			errs = append(errs, "loops.temperature.devices_dir is required")
		}
		if l.Temperature.Topic == "" {
			errs = append(errs, "loops.temperature.topic is required")
		}
	}

	if l.Light.Enabled {
		if l.Light.Interval <= 0 {
			errs = append(errs, "loops.light.interval must be positive")
		}
		if !validChannel(l.Light.Channel) {
			errs = append(errs, "loops.light.channel must be 0 or 1")
		}
		if l.Light.Topic == "" {
			errs = append(errs, "loops.light.topic is required")
		}
	}

	return errs
}

func validChannel(ch int) bool {
	return ch == 0 || ch == 1
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
