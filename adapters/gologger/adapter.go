package gologger

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	LevelTrace = zapcore.DebugLevel - 1
	LevelFatal = zapcore.FatalLevel
)

// Logger implements the glog contract on top of a zap logger.
type Logger struct {
	logger *zap.Logger
}

// NewLogger wraps core. Fatal entries are written without exiting the
// process; shutdown stays with the caller.
func NewLogger(core zapcore.Core) *Logger {
	if core == nil {
		core = zapcore.NewNopCore()
	}
	return &Logger{logger: zap.New(core, zap.WithFatalHook(continueAfterFatal{}))}
}

// NewJSONLogger writes one JSON object per line to w at or above level.
func NewJSONLogger(w io.Writer, level string) *Logger {
	if w == nil {
		w = io.Discard
	}
	encoder := zap.NewProductionEncoderConfig()
	encoder.TimeKey = "time"
	encoder.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	encoder.EncodeLevel = encodeLevel
	encoder.EncodeDuration = zapcore.StringDurationEncoder
	return NewLogger(zapcore.NewCore(
		zapcore.NewJSONEncoder(encoder),
		zapcore.AddSync(w),
		zap.NewAtomicLevelAt(ParseLevel(level)),
	))
}

func (l *Logger) Trace(msg string, args ...any) { l.log(LevelTrace, msg, args...) }
func (l *Logger) Debug(msg string, args ...any) { l.log(zapcore.DebugLevel, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(zapcore.InfoLevel, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(zapcore.WarnLevel, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(zapcore.ErrorLevel, msg, args...) }
func (l *Logger) Fatal(msg string, args ...any) { l.log(LevelFatal, msg, args...) }

// WithContext returns l; zap carries no request context.
func (l *Logger) WithContext(context.Context) glog.Logger {
	if l == nil {
		return glog.Nop()
	}
	return l
}

// WithFields returns a child logger carrying fields in key order.
func (l *Logger) WithFields(fields map[string]any) glog.Logger {
	if l == nil {
		return glog.Nop()
	}
	if len(fields) == 0 {
		return l
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	zapFields := make([]zap.Field, 0, len(keys))
	for _, key := range keys {
		zapFields = append(zapFields, zap.Any(key, fields[key]))
	}
	return &Logger{logger: l.logger.With(zapFields...)}
}

func (l *Logger) Named(name string) *Logger {
	if l == nil {
		return nil
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return l
	}
	return &Logger{logger: l.logger.Named(name)}
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	if l == nil || l.logger == nil {
		return nil
	}
	return l.logger.Sync()
}

func (l *Logger) log(level zapcore.Level, msg string, args ...any) {
	if l == nil || l.logger == nil {
		return
	}
	if ce := l.logger.Check(level, msg); ce != nil {
		ce.Write(argsToFields(args)...)
	}
}

// argsToFields reads glog style key/value pairs. A non string key or a
// trailing value is kept under "!BADKEY".
func argsToFields(args []any) []zap.Field {
	if len(args) == 0 {
		return nil
	}
	fields := make([]zap.Field, 0, (len(args)+1)/2)
	for i := 0; i < len(args); {
		if field, ok := args[i].(zap.Field); ok {
			fields = append(fields, field)
			i++
			continue
		}
		key, ok := args[i].(string)
		if !ok || i+1 >= len(args) {
			fields = append(fields, zap.Any("!BADKEY", args[i]))
			i++
			continue
		}
		fields = append(fields, zap.Any(key, args[i+1]))
		i += 2
	}
	return fields
}

type continueAfterFatal struct{}

func (continueAfterFatal) OnWrite(*zapcore.CheckedEntry, []zapcore.Field) {}

func encodeLevel(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch level {
	case LevelTrace:
		enc.AppendString("TRACE")
	case zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel,
		zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		zapcore.CapitalLevelEncoder(level, enc)
	default:
		enc.AppendString(fmt.Sprintf("LEVEL(%d)", level))
	}
}

// Provider hands out named children of a single base logger.
type Provider struct {
	base *Logger
}

func NewProvider(base *Logger) *Provider {
	if base == nil {
		base = NewLogger(nil)
	}
	return &Provider{base: base}
}

func (p *Provider) GetLogger(name string) glog.Logger {
	if p == nil || p.base == nil {
		return glog.Nop()
	}
	return p.base.Named(name)
}

// ParseLevel maps a level name onto a zap level. "trace" sits below debug;
// unknown names fall back to info.
func ParseLevel(level string) zapcore.Level {
	name := strings.ToLower(strings.TrimSpace(level))
	switch name {
	case "trace":
		return LevelTrace
	case "warning":
		return zapcore.WarnLevel
	case "":
		return zapcore.InfoLevel
	}
	parsed, err := zapcore.ParseLevel(name)
	if err != nil {
		return zapcore.InfoLevel
	}
	return parsed
}

var (
	_ glog.Logger         = (*Logger)(nil)
	_ glog.FieldsLogger   = (*Logger)(nil)
	_ glog.LoggerProvider = (*Provider)(nil)
)
