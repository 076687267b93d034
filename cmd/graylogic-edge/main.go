// Gray Logic Edge - sensor to cloud control loops
//
// This is the main entry point for the edge controller that runs on the
// greenhouse boards. Each enabled loop samples a sensor, switches an
// actuator when the reading crosses its threshold and publishes readings
// and state changes to AWS IoT (Broker A) and ThingsBoard (Broker B).
// ThingsBoard can switch a loop back through server-side RPC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-edge/internal/adc"
	"github.com/nerrad567/gray-logic-edge/internal/api"
	"github.com/nerrad567/gray-logic-edge/internal/command"
	"github.com/nerrad567/gray-logic-edge/internal/hardware"
	"github.com/nerrad567/gray-logic-edge/internal/history"
	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-edge/internal/metrics"
	"github.com/nerrad567/gray-logic-edge/internal/telemetry"
	"github.com/nerrad567/gray-logic-edge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// pruneInterval is how often old history rows are removed.
const pruneInterval = time.Hour

// options are the command line settings.
type options struct {
	configPath  string
	prompt      bool
	migrateDown bool
	stdin       io.Reader
	stdout      io.Writer
}

func main() {
	opts := options{stdin: os.Stdin, stdout: os.Stdout}
	flag.StringVar(&opts.configPath, "config", getConfigPath(), "path to the YAML configuration file")
	flag.BoolVar(&opts.prompt, "prompt", false, "ask for each enabled loop's threshold before starting")
	flag.BoolVar(&opts.migrateDown, "migrate-down", false, "roll back the latest history schema migration and exit")
	flag.Parse()

	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Components are opened in the reverse of the shutdown order, so the
// deferred closes stop the loops first, then the command listener. After
// that they release the actuators and the GPIO lines, close Broker B and
// Broker A, flush InfluxDB and finally close SQLite.
func run(ctx context.Context, opts options) error {
	log := logging.Default()
	log.Info("starting Gray Logic Edge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", opts.configPath)

	log = logging.New(cfg.Logging, version)

	if opts.migrateDown {
		return rollbackSchema(ctx, cfg.Database, log)
	}

	if opts.prompt {
		promptThresholds(&cfg.Loops, opts.stdin, opts.stdout)
	}

	m := metrics.New()
	checks := map[string]api.HealthChecker{}

	// History (optional)
	var repo *history.Repository
	if cfg.Database.Enabled {
		db, err := openDatabase(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database ready", "path", cfg.Database.Path)
		repo = history.NewRepository(db.DB)
		checks["database"] = db
	}

	// InfluxDB (optional). The loops run without it.
	var influx *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influx, err = influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
		if err != nil {
			log.Warn("InfluxDB unavailable, continuing without it", "error", err)
		} else {
			defer func() {
				log.Info("flushing InfluxDB")
				if closeErr := influx.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			influx.SetOnError(func(err error) {
				log.Warn("InfluxDB write error", "error", err)
			})
			log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
			checks["influxdb"] = influx
		}
	}

	// Broker A
	var aws *mqtt.Client
	if cfg.Brokers.AWS.Enabled {
		awsOpts, err := mqtt.AWSOptions(cfg.Brokers.AWS)
		if err != nil {
			return fmt.Errorf("configuring AWS IoT: %w", err)
		}
		aws, err = mqtt.Connect(ctx, awsOpts, log)
		if err != nil {
			return fmt.Errorf("connecting to AWS IoT: %w", err)
		}
		defer closeBroker(log, aws)
		m.QueueDepth(aws.Name(), aws.QueueLength)
		checks[aws.Name()] = aws
	}

	// Broker B
	var tb *mqtt.Client
	if cfg.Brokers.ThingsBoard.Enabled {
		tb, err = mqtt.Connect(ctx, mqtt.ThingsBoardOptions(cfg.Brokers.ThingsBoard), log)
		if err != nil {
			return fmt.Errorf("connecting to ThingsBoard: %w", err)
		}
		defer closeBroker(log, tb)
		checks[tb.Name()] = tb
	}

	fanout := telemetry.NewFanout(log, m, buildTargets(cfg, aws, tb, influx, repo, m)...)
	log.Info("telemetry targets ready", "targets", fanout.Targets())

	// Hardware
	board, err := hardware.OpenRaspi(log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("releasing GPIO")
		if closeErr := board.Close(); closeErr != nil {
			log.Error("error releasing GPIO", "error", closeErr)
		}
	}()

	pins := board.Adaptor()
	bus := adc.New(pins, pins, cfg.Hardware.ADC)
	if err := bus.Idle(); err != nil {
		return fmt.Errorf("initialising ADC: %w", err)
	}

	loops, err := buildLoops(cfg, board, bus, fanout, log, m)
	if err != nil {
		return err
	}
	defer loops.release(log)

	for _, l := range loops.all {
		if err := l.ctrl.Prime(); err != nil {
			return fmt.Errorf("priming %s loop: %w", l.ctrl.Name(), err)
		}
	}

	// Remote commands
	// Stopped before the outputs are released so no command lands on a
	// released line.
	if tb != nil && cfg.Brokers.ThingsBoard.CommandLoop != "" {
		listener, err := startCommands(ctx, cfg.Brokers.ThingsBoard, tb, loops, repo, log, m)
		if err != nil {
			return err
		}
		if listener != nil {
			defer func() {
				if stopErr := listener.Stop(); stopErr != nil {
					log.Warn("error stopping command listener", "error", stopErr)
				}
			}()
		}
	}

	// Status API
	if cfg.API.Enabled {
		srv, err := startAPI(ctx, cfg.API, loops, repo, checks, log, m)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete", "loops", loops.names())

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range loops.all {
		g.Go(func() error {
			return l.ctrl.Run(gctx)
		})
	}
	if repo != nil && cfg.Database.RetentionDays > 0 {
		retention := time.Duration(cfg.Database.RetentionDays) * 24 * time.Hour
		g.Go(func() error {
			pruneHistory(gctx, repo, retention, log)
			return nil
		})
	}

	err = g.Wait()
	log.Info("shutdown signal received, cleaning up")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// getConfigPath returns the configuration file path.
// Checks GRAYLOGIC_EDGE_CONFIG environment variable first, then uses default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_EDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// rollbackSchema reverts the latest applied migration of the history
// database without starting any loop.
func rollbackSchema(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) error {
	if !cfg.Enabled {
		return errors.New("database is disabled, nothing to roll back")
	}

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	version, err := db.MigrateDown(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("rolling back migration: %w", err)
	}
	if version == "" {
		log.Info("no migration to roll back", "path", cfg.Path)
		return nil
	}

	applied, pending, err := db.MigrationStatus(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	log.Info("migration rolled back",
		"version", version,
		"applied", len(applied),
		"pending", len(pending),
	)
	return nil
}

func closeBroker(log *logging.Logger, c *mqtt.Client) {
	log.Info("disconnecting from broker", "broker", c.Name())
	if err := c.Close(); err != nil {
		log.Error("error closing broker", "broker", c.Name(), "error", err)
	}
}

// buildTargets assembles the fanout targets in delivery order. Broker B
// sits behind a circuit breaker since it has no offline queue.
func buildTargets(cfg *config.Config, aws, tb *mqtt.Client, influx *influxdb.Client, repo *history.Repository, m *metrics.Metrics) []telemetry.Target {
	var targets []telemetry.Target

	if aws != nil {
		targets = append(targets, telemetry.NewAWSTarget(aws, aws.QoS(), map[string]string{
			"soil":        cfg.Loops.Soil.Topic,
			"temperature": cfg.Loops.Temperature.Topic,
			"light":       cfg.Loops.Light.Topic,
		}))
	}
	if tb != nil {
		breaker := cfg.Brokers.ThingsBoard.Breaker
		targets = append(targets, telemetry.NewBreakerTarget(
			telemetry.NewThingsBoardTarget(tb, tb.QoS()),
			telemetry.BreakerSettings{MaxFailures: breaker.MaxFailures, OpenTimeout: breaker.OpenTimeout},
			m,
		))
	}
	if influx != nil {
		targets = append(targets, telemetry.NewInfluxRecorder(influx))
	}
	if repo != nil {
		targets = append(targets, telemetry.NewHistoryRecorder(repo))
	}
	return targets
}

// startCommands subscribes the RPC listener for the configured loop. It
// returns nil when that loop is not running.
func startCommands(ctx context.Context, cfg config.ThingsBoardBrokerConfig, tb *mqtt.Client, loops *loopSet, repo *history.Repository, log *logging.Logger, m *metrics.Metrics) (*command.Listener, error) {
	target, ok := loops.find(cfg.CommandLoop)
	if !ok {
		log.Warn("command loop is not enabled, remote commands disabled", "loop", cfg.CommandLoop)
		return nil, nil
	}

	opts := command.Options{
		Logger:   log,
		Metrics:  m,
		QoS:      tb.QoS(),
		DedupTTL: cfg.CommandDedupTTL,
	}
	if repo != nil {
		opts.Log = repo
	}

	listener := command.NewListener(tb, target.ctrl, opts)
	if err := listener.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting command listener: %w", err)
	}
	return listener, nil
}

func startAPI(ctx context.Context, cfg config.APIConfig, loops *loopSet, repo *history.Repository, checks map[string]api.HealthChecker, log *logging.Logger, m *metrics.Metrics) (*api.Server, error) {
	deps := api.Deps{
		Config:  cfg,
		Logger:  log,
		Loops:   loops.statusLoops(),
		Version: version,
		Metrics: m,
		Checks:  checks,
	}
	if repo != nil {
		deps.History = repo
	}

	srv, err := api.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting API server: %w", err)
	}
	return srv, nil
}

// pruneHistory removes history rows older than retention until ctx is done.
func pruneHistory(ctx context.Context, repo *history.Repository, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		n, err := repo.Prune(ctx, retention)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn("history prune failed", "error", err)
		case n > 0:
			log.Info("history pruned", "rows", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
