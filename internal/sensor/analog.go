package sensor

import (
	"context"
	"time"
)

const (
	maxCount = 255

	// darkBelow is the raw count under which the light loop reports "dark".
	darkBelow = 128
)

// Light condition values.
const (
	ConditionDark  = "dark"
	ConditionLight = "light"
)

// SoilMoisture reads a capacitive probe on the ADC. The probe reads higher
// when drier, so the count is inverted.
type SoilMoisture struct {
	adc     ADC
	channel int
	now     func() time.Time
}

// NewSoilMoisture creates a soil moisture source on an ADC channel.
func NewSoilMoisture(adc ADC, channel int) *SoilMoisture {
	return &SoilMoisture{adc: adc, channel: channel, now: time.Now}
}

func (s *SoilMoisture) Name() string { return "soil" }

func (s *SoilMoisture) Sample(ctx context.Context) (Reading, error) {
	raw, err := s.adc.Read(ctx, s.channel)
	if err != nil {
		return Reading{}, err
	}
	return Reading{Value: float64(maxCount - int(raw)), Raw: int(raw), At: s.now()}, nil
}

func (s *SoilMoisture) Fields(r Reading) map[string]any {
	return map[string]any{"moisture": int(r.Value)}
}

// Light reads a photoresistor divider on the ADC.
type Light struct {
	adc     ADC
	channel int
	now     func() time.Time
}

// NewLight creates a light source on an ADC channel.
func NewLight(adc ADC, channel int) *Light {
	return &Light{adc: adc, channel: channel, now: time.Now}
}

func (l *Light) Name() string { return "light" }

func (l *Light) Sample(ctx context.Context) (Reading, error) {
	raw, err := l.adc.Read(ctx, l.channel)
	if err != nil {
		return Reading{}, err
	}
	return Reading{Value: Lux(raw), Raw: int(raw), At: l.now()}, nil
}

func (l *Light) Fields(r Reading) map[string]any {
	return map[string]any{
		"lux":             round2(r.Value),
		"light_condition": Condition(r.Raw),
	}
}

// Lux scales a raw count to 0-100.
func Lux(raw uint8) float64 {
	return float64(raw) * 100 / maxCount
}

// Condition classifies a raw light count.
func Condition(raw int) string {
	if raw < darkBelow {
		return ConditionDark
	}
	return ConditionLight
}
