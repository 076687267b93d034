package telemetry

import (
	"context"
	"time"
)

// InfluxWriter is satisfied by *influxdb.Client.
type InfluxWriter interface {
	WriteReading(loop string, fields map[string]any, ts time.Time)
	WriteTransition(loop string, on bool, source string, ts time.Time)
}

// InfluxRecorder stores readings and transitions in InfluxDB. Writes are
// batched by the client; failures surface through its error callback.
type InfluxRecorder struct {
	w InfluxWriter
}

// NewInfluxRecorder creates an InfluxDB target.
func NewInfluxRecorder(w InfluxWriter) *InfluxRecorder {
	return &InfluxRecorder{w: w}
}

func (r *InfluxRecorder) Name() string { return "influxdb" }

func (r *InfluxRecorder) Send(_ context.Context, ev Event) error {
	switch ev.Kind {
	case KindReading:
		fields := make(map[string]any, len(ev.Fields)+1)
		for k, v := range ev.Fields {
			fields[k] = v
		}
		if ev.Raw >= 0 {
			fields["raw"] = ev.Raw
		}
		r.w.WriteReading(ev.Loop, fields, ev.At)
	case KindTransition:
		r.w.WriteTransition(ev.Loop, bool(ev.State), ev.Source, ev.At)
	}
	return nil
}

// TransitionStore is satisfied by *history.Repository.
type TransitionStore interface {
	RecordTransition(ctx context.Context, loop, state, source string, reading *float64, at time.Time) error
}

// HistoryRecorder stores transitions in the local SQLite history.
type HistoryRecorder struct {
	store TransitionStore
}

// NewHistoryRecorder creates a history target.
func NewHistoryRecorder(store TransitionStore) *HistoryRecorder {
	return &HistoryRecorder{store: store}
}

func (r *HistoryRecorder) Name() string { return "history" }

func (r *HistoryRecorder) Send(ctx context.Context, ev Event) error {
	if ev.Kind != KindTransition {
		return nil
	}
	return r.store.RecordTransition(ctx, ev.Loop, ev.State.String(), ev.Source, ev.Value, ev.At)
}
