package main

import (
	"fmt"
	"os"

	"github.com/nerrad567/gray-logic-edge/internal/actuator"
	"github.com/nerrad567/gray-logic-edge/internal/adc"
	"github.com/nerrad567/gray-logic-edge/internal/api"
	"github.com/nerrad567/gray-logic-edge/internal/controller"
	"github.com/nerrad567/gray-logic-edge/internal/hardware"
	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-edge/internal/metrics"
	"github.com/nerrad567/gray-logic-edge/internal/sensor"
)

// releaser is an output with a safe resting level.
type releaser interface {
	Release() error
}

// loop is one wired control loop and the outputs to release at shutdown.
type loop struct {
	ctrl    *controller.Controller
	outputs []releaser
}

type loopSet struct {
	all []*loop
}

func (s *loopSet) find(name string) (*loop, bool) {
	for _, l := range s.all {
		if l.ctrl.Name() == name {
			return l, true
		}
	}
	return nil, false
}

func (s *loopSet) names() []string {
	names := make([]string, len(s.all))
	for i, l := range s.all {
		names[i] = l.ctrl.Name()
	}
	return names
}

func (s *loopSet) statusLoops() []api.Loop {
	loops := make([]api.Loop, len(s.all))
	for i, l := range s.all {
		loops[i] = l.ctrl
	}
	return loops
}

// release drives every output to its safe level. It is called after the
// loops have stopped.
func (s *loopSet) release(log *logging.Logger) {
	for _, l := range s.all {
		for _, out := range l.outputs {
			if err := out.Release(); err != nil {
				log.Error("error releasing output", "loop", l.ctrl.Name(), "error", err)
			}
		}
	}
	log.Info("outputs released")
}

// buildLoops wires the enabled loops to their sensors and actuators.
func buildLoops(cfg *config.Config, board *hardware.Board, bus *adc.Bus, pub controller.Publisher, log *logging.Logger, m *metrics.Metrics) (*loopSet, error) {
	pins := board.Adaptor()
	hw := cfg.Hardware
	set := &loopSet{}

	if lc := cfg.Loops.Soil; lc.Enabled {
		for _, p := range []config.PWMPinConfig{hw.Indicator.Red, hw.Indicator.Green, hw.Indicator.Blue} {
			board.SetFrequency(p.Pin, p.Frequency)
		}
		indicator := actuator.NewIndicator(pins, hw.Indicator.Red.Pin, hw.Indicator.Green.Pin, hw.Indicator.Blue.Pin)
		light := indicator.WithColors(lc.OnColor, lc.OffColor)

		set.all = append(set.all, &loop{
			ctrl: controller.New(
				sensor.NewSoilMoisture(bus, lc.Channel),
				light,
				pub,
				controller.Config{Threshold: lc.Threshold, Interval: lc.Interval},
				controller.Options{Logger: log.With("loop", "soil"), Metrics: m},
			),
			outputs: []releaser{light},
		})
	}

	if lc := cfg.Loops.Temperature; lc.Enabled {
		if _, err := os.Stat(lc.DevicesDir); err != nil {
			return nil, hardware.Unavailable("one-wire bus "+lc.DevicesDir, err)
		}
		fan := actuator.NewSwitch(pins, hw.Fan.Pin, hw.Fan.ActiveLow)

		set.all = append(set.all, &loop{
			ctrl: controller.New(
				sensor.NewThermometer(os.DirFS(lc.DevicesDir), lc.SensorID),
				fan,
				pub,
				controller.Config{Threshold: lc.Threshold, Interval: lc.Interval, Dwell: lc.Dwell},
				controller.Options{Logger: log.With("loop", "temperature"), Metrics: m},
			),
			outputs: []releaser{fan},
		})
	}

	if lc := cfg.Loops.Light; lc.Enabled {
		board.SetFrequency(hw.LED.Pin, hw.LED.Frequency)
		lamp := actuator.NewSwitch(pins, hw.Lamp.Pin, hw.Lamp.ActiveLow)
		led := actuator.NewDimmer(pins, hw.LED.Pin)
		loopLog := log.With("loop", "light")

		set.all = append(set.all, &loop{
			ctrl: controller.New(
				sensor.NewLight(bus, lc.Channel),
				lamp,
				pub,
				controller.Config{Threshold: lc.Threshold, Interval: lc.Interval},
				controller.Options{
					Logger:  loopLog,
					Metrics: m,
					Follow: func(r sensor.Reading) {
						if err := led.SetDuty(r.Value); err != nil {
							loopLog.Warn("failed to set LED brightness", "error", err)
						}
					},
				},
			),
			outputs: []releaser{lamp, led},
		})
	}

	if len(set.all) == 0 {
		return nil, fmt.Errorf("no loop enabled")
	}
	return set, nil
}
