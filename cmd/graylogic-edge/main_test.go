package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-edge/internal/metrics"
	"github.com/nerrad567/gray-logic-edge/migrations"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, options{configPath: "/nonexistent/path/config.yaml"})
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want a config error", err)
	}
}

// TestRun_ValidationError verifies run rejects a config that enables no broker.
func TestRun_ValidationError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
site:
  id: test-site
database:
  enabled: false
brokers:
  aws:
    enabled: false
  thingsboard:
    enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	err := run(context.Background(), options{configPath: path})
	if err == nil || !strings.Contains(err.Error(), "at least one of brokers") {
		t.Errorf("run() error = %v, want broker validation error", err)
	}
}

func TestRun_MigrateDown(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "history.db")
	path := filepath.Join(dir, "config.yaml")
	content := `
site:
  id: test-site
database:
  enabled: true
  path: ` + dbPath + `
brokers:
  aws:
    enabled: false
  thingsboard:
    enabled: true
    host: tb.local
    access_token: test-token
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	ctx := context.Background()
	db, err := openDatabase(ctx, config.DatabaseConfig{Path: dbPath, Enabled: true})
	if err != nil {
		t.Fatalf("openDatabase() error = %v", err)
	}
	applied, _, err := db.MigrationStatus(ctx, migrations.FS)
	db.Close()
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}

	if err := run(ctx, options{configPath: path, migrateDown: true}); err != nil {
		t.Fatalf("run(-migrate-down) error = %v", err)
	}

	db, err = database.Open(ctx, database.Config{Path: dbPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	defer db.Close()
	after, pending, err := db.MigrationStatus(ctx, migrations.FS)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(after) != len(applied)-1 || len(pending) != 1 {
		t.Errorf("applied %d -> %d, pending %d, want one migration rolled back", len(applied), len(after), len(pending))
	}
}

func TestRun_MigrateDownDatabaseDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
site:
  id: test-site
database:
  enabled: false
brokers:
  thingsboard:
    enabled: true
    host: tb.local
    access_token: test-token
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	err := run(context.Background(), options{configPath: path, migrateDown: true})
	if err == nil || !strings.Contains(err.Error(), "database is disabled") {
		t.Errorf("run() error = %v, want database disabled error", err)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("GRAYLOGIC_EDGE_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("GRAYLOGIC_EDGE_CONFIG", "/etc/graylogic-edge/config.yaml")
	if got := getConfigPath(); got != "/etc/graylogic-edge/config.yaml" {
		t.Errorf("getConfigPath() = %q", got)
	}
}

func TestPromptThresholds(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  float64
	}{
		{"keep default", "Y\n", 69},
		{"replace", "N\n72.5\n", 72.5},
		{"lowercase no", "n\n40\n", 40},
		{"invalid keeps default", "N\nabc\n", 69},
		{"no input keeps default", "", 69},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loops := config.LoopsConfig{Soil: config.SoilLoopConfig{Enabled: true, Threshold: 69}}
			var out bytes.Buffer

			promptThresholds(&loops, strings.NewReader(tt.input), &out)

			if loops.Soil.Threshold != tt.want {
				t.Errorf("threshold = %v, want %v", loops.Soil.Threshold, tt.want)
			}
			if !strings.Contains(out.String(), "continue with default threshold 69? (Y/N)") {
				t.Errorf("prompt = %q", out.String())
			}
		})
	}
}

func TestPromptThresholds_OnlyEnabledLoops(t *testing.T) {
	loops := config.LoopsConfig{
		Soil:  config.SoilLoopConfig{Threshold: 69},
		Light: config.LightLoopConfig{Enabled: true, Threshold: 50},
	}
	var out bytes.Buffer

	promptThresholds(&loops, strings.NewReader("N\n30\n"), &out)

	if loops.Light.Threshold != 30 || loops.Soil.Threshold != 69 {
		t.Errorf("thresholds soil=%v light=%v", loops.Soil.Threshold, loops.Light.Threshold)
	}
	if strings.Contains(out.String(), "soil") {
		t.Errorf("prompted for a disabled loop: %q", out.String())
	}
}

func TestBuildTargets_Empty(t *testing.T) {
	cfg := &config.Config{}
	var (
		aws    *mqtt.Client
		influx *influxdb.Client
	)
	if got := buildTargets(cfg, aws, nil, influx, nil, metrics.New()); len(got) != 0 {
		t.Errorf("buildTargets() = %d targets, want none", len(got))
	}
}
