// Package logging configures the process-wide logger. Zap produces the
// structured output; the default slog logger is bridged onto the same zap
// core, so the slog calls throughout the session, sync and relay packages
// land in one stream with one encoding. Before Initialize runs, slog's
// stdlib default applies.
package logging

import (
	"context"
	"log/slog"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey int

const (
	lobbyKey ctxKey = iota
	participantKey
	peerKey
)

var (
	mu     sync.Mutex
	global *zap.Logger
)

// Initialize builds the process logger and installs it as both the zap
// global and the slog default. Development mode selects colored console
// output; production emits JSON with ISO8601 timestamps. An unknown level
// falls back to info. Reconfiguration is allowed; the latest call wins.
func Initialize(development bool, level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	logger = logger.With(zap.String("service", "konnekt-session"))

	mu.Lock()
	global = logger
	mu.Unlock()

	zap.ReplaceGlobals(logger)
	slog.SetDefault(slog.New(newZapHandler(logger)))
	return nil
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	mu.Lock()
	logger := global
	mu.Unlock()
	if logger != nil {
		_ = logger.Sync()
	}
}

// --- Context identity ---

// WithLobby attaches a lobby id to the context for log enrichment.
func WithLobby(ctx context.Context, lobbyID string) context.Context {
	return context.WithValue(ctx, lobbyKey, lobbyID)
}

// WithParticipant attaches a participant id to the context.
func WithParticipant(ctx context.Context, participantID string) context.Context {
	return context.WithValue(ctx, participantKey, participantID)
}

// WithPeer attaches a transport peer id to the context.
func WithPeer(ctx context.Context, peerID string) context.Context {
	return context.WithValue(ctx, peerKey, peerID)
}

func contextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	var fields []zap.Field
	if v, ok := ctx.Value(lobbyKey).(string); ok {
		fields = append(fields, zap.String("lobby_id", v))
	}
	if v, ok := ctx.Value(participantKey).(string); ok {
		fields = append(fields, zap.String("participant_id", v))
	}
	if v, ok := ctx.Value(peerKey).(string); ok {
		fields = append(fields, zap.String("peer_id", v))
	}
	return fields
}

// --- slog bridge ---

// zapHandler routes slog records into a zap logger, preserving levels,
// attributes and any identity carried on the context.
type zapHandler struct {
	logger *zap.Logger
	attrs  []zap.Field
}

func newZapHandler(logger *zap.Logger) *zapHandler {
	return &zapHandler{logger: logger.WithOptions(zap.AddCallerSkip(3))}
}

func (h *zapHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.logger.Core().Enabled(zapLevel(level))
}

func (h *zapHandler) Handle(ctx context.Context, record slog.Record) error {
	fields := make([]zap.Field, 0, len(h.attrs)+record.NumAttrs()+3)
	fields = append(fields, h.attrs...)
	record.Attrs(func(a slog.Attr) bool {
		fields = append(fields, zap.Any(a.Key, a.Value.Any()))
		return true
	})
	fields = append(fields, contextFields(ctx)...)

	if ce := h.logger.Check(zapLevel(record.Level), record.Message); ce != nil {
		ce.Write(fields...)
	}
	return nil
}

func (h *zapHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]zap.Field, len(h.attrs), len(h.attrs)+len(attrs))
	copy(next, h.attrs)
	for _, a := range attrs {
		next = append(next, zap.Any(a.Key, a.Value.Any()))
	}
	return &zapHandler{logger: h.logger, attrs: next}
}

func (h *zapHandler) WithGroup(name string) slog.Handler {
	return &zapHandler{logger: h.logger.Named(name), attrs: h.attrs}
}

func zapLevel(l slog.Level) zapcore.Level {
	switch {
	case l >= slog.LevelError:
		return zapcore.ErrorLevel
	case l >= slog.LevelWarn:
		return zapcore.WarnLevel
	case l >= slog.LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// RedactSecret masks a credential for logging, keeping only its presence.
func RedactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}
