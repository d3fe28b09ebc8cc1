package sim

import (
	"github.com/Blodus/2025-ikt218-osdev/kernel/trace"
	"github.com/sirupsen/logrus"
)

// LogrusTracer forwards trace events to a logrus logger. The event module is
// stored in the "module" field.
type LogrusTracer struct {
	Logger logrus.FieldLogger
}

// Trace implements trace.Tracer.
func (t LogrusTracer) Trace(ev trace.Event) {
	fields := make(logrus.Fields, len(ev.Fields)+1)
	fields["module"] = ev.Module
	for _, f := range ev.Fields {
		fields[f.Key] = f.Value()
	}

	entry := t.Logger.WithFields(fields)
	switch ev.Level {
	case trace.LevelDebug:
		entry.Debug(ev.Message)
	case trace.LevelWarn:
		entry.Warn(ev.Message)
	default:
		entry.Info(ev.Message)
	}
}
