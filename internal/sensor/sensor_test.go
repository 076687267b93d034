package sensor

import (
	"context"
	"errors"
	"math"
	"testing"
	"testing/fstest"

	"github.com/nerrad567/gray-logic-edge/internal/hardware"
)

const slaveOK = "72 01 4b 46 7f ff 0e 10 57 : crc=57 YES\n72 01 4b 46 7f ff 0e 10 57 t=23125\n"

type fakeADC struct {
	raw     uint8
	err     error
	channel int
}

func (f *fakeADC) Read(_ context.Context, channel int) (uint8, error) {
	f.channel = channel
	return f.raw, f.err
}

func TestSoilMoisture(t *testing.T) {
	adc := &fakeADC{raw: 135}
	src := NewSoilMoisture(adc, 0)

	r, err := src.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if r.Value != 120 || r.Raw != 135 {
		t.Errorf("Sample() = %+v, want value 120 raw 135", r)
	}
	if got := src.Fields(r)["moisture"]; got != 120 {
		t.Errorf("Fields()[moisture] = %v, want 120", got)
	}
	if src.Name() != "soil" {
		t.Errorf("Name() = %q", src.Name())
	}
}

func TestSoilMoisture_BusFailure(t *testing.T) {
	busErr := hardware.Unavailable("adc pin 11", errors.New("io"))
	src := NewSoilMoisture(&fakeADC{err: busErr}, 0)

	if _, err := src.Sample(context.Background()); !errors.Is(err, hardware.ErrHardwareUnavailable) {
		t.Errorf("Sample() error = %v, want ErrHardwareUnavailable", err)
	}
}

func TestLight(t *testing.T) {
	tests := []struct {
		raw       uint8
		wantLux   float64
		condition string
	}{
		{0, 0, ConditionDark},
		{127, 49.8, ConditionDark},
		{128, 50.2, ConditionLight},
		{255, 100, ConditionLight},
	}

	for _, tt := range tests {
		adc := &fakeADC{raw: tt.raw}
		src := NewLight(adc, 1)

		r, err := src.Sample(context.Background())
		if err != nil {
			t.Fatalf("Sample() error = %v", err)
		}
		if adc.channel != 1 {
			t.Errorf("read channel %d, want 1", adc.channel)
		}
		fields := src.Fields(r)
		if got := fields["lux"].(float64); math.Abs(got-tt.wantLux) > 0.01 {
			t.Errorf("raw %d: lux = %v, want %v", tt.raw, got, tt.wantLux)
		}
		if fields["light_condition"] != tt.condition {
			t.Errorf("raw %d: condition = %v, want %v", tt.raw, fields["light_condition"], tt.condition)
		}
	}
}

func TestLight_ThresholdAgreesWithCondition(t *testing.T) {
	// With threshold 50 the On state is exactly the "light" condition.
	for raw := range 256 {
		on := Lux(uint8(raw)) > 50
		if on != (Condition(raw) == ConditionLight) {
			t.Fatalf("raw %d: lux %v disagrees with condition %s", raw, Lux(uint8(raw)), Condition(raw))
		}
	}
}

func TestParseSlave(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    float64
		wantErr bool
	}{
		{"valid", slaveOK, 23.125, false},
		{"negative", "ff ff : crc=00 YES\n5e ff ff ff ff ff ff ff ff t=-10125\n", -10.125, false},
		{"crc failure", "72 01 : crc=57 NO\n72 01 4b 46 7f ff 0e 10 57 t=23125\n", 0, true},
		{"single line", "72 01 4b 46 7f ff 0e 10 57 : crc=57 YES", 0, true},
		{"short data", "crc=57 YES\n72 01 t=23125\n", 0, true},
		{"not a number", "crc=57 YES\n72 01 4b 46 7f ff 0e 10 57 t=abc\n", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSlave(tt.text)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSlave() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseSlave() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestThermometer(t *testing.T) {
	fsys := fstest.MapFS{
		"28-0316a2794cff/w1_slave": {Data: []byte(slaveOK)},
		"28-ffff00000001/w1_slave": {Data: []byte("garbage")},
		"w1_bus_master1/uevent":    {Data: []byte("")},
	}

	t.Run("first sensor when id is empty", func(t *testing.T) {
		therm := NewThermometer(fsys, "")
		r, err := therm.Sample(context.Background())
		if err != nil {
			t.Fatalf("Sample() error = %v", err)
		}
		if r.Value != 23.125 || r.Raw != -1 {
			t.Errorf("Sample() = %+v", r)
		}
		if got := therm.Fields(r)["temperature"]; got != 23.13 {
			t.Errorf("Fields()[temperature] = %v, want 23.13", got)
		}
	})

	t.Run("lists only DS18B20 devices", func(t *testing.T) {
		ids, err := NewThermometer(fsys, "").Sensors()
		if err != nil {
			t.Fatalf("Sensors() error = %v", err)
		}
		if len(ids) != 2 || ids[0] != "28-0316a2794cff" {
			t.Errorf("Sensors() = %v", ids)
		}
	})

	t.Run("configured sensor with bad data", func(t *testing.T) {
		_, err := NewThermometer(fsys, "28-ffff00000001").Sample(context.Background())
		if !errors.Is(err, hardware.ErrHardwareUnavailable) {
			t.Errorf("Sample() error = %v, want ErrHardwareUnavailable", err)
		}
	})

	t.Run("configured sensor missing", func(t *testing.T) {
		_, err := NewThermometer(fsys, "28-000000000000").Sample(context.Background())
		if !errors.Is(err, hardware.ErrHardwareUnavailable) {
			t.Errorf("Sample() error = %v, want ErrHardwareUnavailable", err)
		}
	})
}

func TestThermometer_NoSensor(t *testing.T) {
	therm := NewThermometer(fstest.MapFS{"w1_bus_master1/uevent": {}}, "")

	_, err := therm.Sample(context.Background())
	if !errors.Is(err, hardware.ErrHardwareUnavailable) || !errors.Is(err, errNoSensor) {
		t.Errorf("Sample() error = %v, want ErrHardwareUnavailable wrapping errNoSensor", err)
	}
}
