package logger

import (
	"context"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	participantKey
)

var (
	global = func() *atomic.Pointer[zap.Logger] {
		p := &atomic.Pointer[zap.Logger]{}
		p.Store(zap.NewNop())
		return p
	}()
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Init installs the process-wide logger. Until Init is called every call is a no-op.
func Init(levelName string, asJSON bool) {
	level.SetLevel(parseLevel(levelName))

	cfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	encoder := zapcore.NewConsoleEncoder(cfg)
	if asJSON {
		encoder = zapcore.NewJSONEncoder(cfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)
	global.Store(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)))
}

// SetLevel changes the level at runtime
func SetLevel(levelName string) { level.SetLevel(parseLevel(levelName)) }

// SetNopLogger silences logging, used by tests
func SetNopLogger() { global.Store(zap.NewNop()) }

// Sync flushes buffered entries
func Sync() error { return global.Load().Sync() }

// L returns the underlying zap logger
func L() *zap.Logger { return global.Load() }

// WithRequestID tags ctx so log lines carry the request id
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// WithParticipant tags ctx with the authenticated participant
func WithParticipant(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, participantKey, id)
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	global.Load().Debug(msg, withContext(ctx, fields)...)
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	global.Load().Info(msg, withContext(ctx, fields)...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	global.Load().Warn(msg, withContext(ctx, fields)...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	global.Load().Error(msg, withContext(ctx, fields)...)
}

func withContext(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if id, ok := ctx.Value(participantKey).(int64); ok {
		fields = append(fields, zap.Int64("participant_id", id))
	}
	return fields
}

func parseLevel(name string) zapcore.Level {
	switch strings.ToLower(name) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
