package logging

import "go.uber.org/zap"

// ZapSink adapts a *zap.Logger into a Sink, giving the structured
// key=value fields a proper field-typed backend without making zap the
// primary logging API — the core always logs through Logger first.
type ZapSink struct {
	z *zap.Logger
}

// NewZapSink wraps a *zap.Logger as a Sink.
func NewZapSink(z *zap.Logger) *ZapSink {
	return &ZapSink{z: z}
}

func (s *ZapSink) Write(level LogLevel, msg string, fields []any) {
	zfields := make([]zap.Field, 0, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		zfields = append(zfields, zap.Any(key, fields[i+1]))
	}

	switch level {
	case LevelDebug:
		s.z.Debug(msg, zfields...)
	case LevelInfo:
		s.z.Info(msg, zfields...)
	case LevelWarn:
		s.z.Warn(msg, zfields...)
	case LevelError:
		s.z.Error(msg, zfields...)
	case LevelCritical:
		s.z.Error(msg, append(zfields, zap.Bool("critical", true))...)
	}
}
