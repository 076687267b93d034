package sensor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-edge/internal/hardware"
)

const (
	// ds18b20Family prefixes every DS18B20 device directory.
	ds18b20Family = "28-"
	slaveFile     = "w1_slave"

	// temperatureToken is the index of "t=NNNNN" on the second line.
	temperatureToken = 9
	milliDegrees     = 1000
)

var errNoSensor = errors.New("no DS18B20 sensor found")

// Thermometer reads a DS18B20 through the w1-therm sysfs interface. fsys is
// rooted at the one-wire devices directory, normally
// os.DirFS("/sys/bus/w1/devices").
type Thermometer struct {
	fsys     fs.FS
	sensorID string
	now      func() time.Time
}

// NewThermometer creates a thermometer. With an empty sensorID the first
// "28-" device in fsys is used.
func NewThermometer(fsys fs.FS, sensorID string) *Thermometer {
	return &Thermometer{fsys: fsys, sensorID: sensorID, now: time.Now}
}

func (t *Thermometer) Name() string { return "temperature" }

func (t *Thermometer) Sample(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}

	id, err := t.device()
	if err != nil {
		return Reading{}, hardware.Unavailable("one-wire bus", err)
	}

	data, err := fs.ReadFile(t.fsys, path.Join(id, slaveFile))
	if err != nil {
		return Reading{}, hardware.Unavailable("sensor "+id, err)
	}

	celsius, err := ParseSlave(string(data))
	if err != nil {
		return Reading{}, hardware.Unavailable("sensor "+id, err)
	}
	return Reading{Value: celsius, Raw: -1, At: t.now()}, nil
}

func (t *Thermometer) Fields(r Reading) map[string]any {
	return map[string]any{"temperature": round2(r.Value)}
}

// Sensors lists the DS18B20 devices present, sorted.
func (t *Thermometer) Sensors() ([]string, error) {
	entries, err := fs.ReadDir(t.fsys, ".")
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ds18b20Family) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (t *Thermometer) device() (string, error) {
	if t.sensorID != "" {
		return t.sensorID, nil
	}
	ids, err := t.Sensors()
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", errNoSensor
	}
	return ids[0], nil
}

// ParseSlave extracts the temperature from a w1_slave file:
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
//
// The first line must end in YES (CRC ok).
func ParseSlave(text string) (float64, error) {
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return 0, fmt.Errorf("w1_slave: want 2 lines, got %d", len(lines))
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, fmt.Errorf("w1_slave: crc check failed")
	}

	tokens := strings.Split(strings.TrimSpace(lines[1]), " ")
	if len(tokens) <= temperatureToken {
		return 0, fmt.Errorf("w1_slave: short data line %q", lines[1])
	}
	raw, ok := strings.CutPrefix(tokens[temperatureToken], "t=")
	if !ok {
		return 0, fmt.Errorf("w1_slave: no temperature in %q", tokens[temperatureToken])
	}

	milli, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("w1_slave: %w", err)
	}
	return float64(milli) / milliDegrees, nil
}
