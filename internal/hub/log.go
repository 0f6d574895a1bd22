package hub

import (
	"context"
	"log/slog"
)

// LogHandler mirrors warning-and-above log records to every connected
// session as "log" events, on top of a normal terminal handler.
type LogHandler struct {
	inner slog.Handler
	hub   *Hub
}

// NewLogHandler wraps inner with hub mirroring.
func NewLogHandler(inner slog.Handler, h *Hub) *LogHandler {
	return &LogHandler{inner: inner, hub: h}
}

func (l *LogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return l.inner.Enabled(ctx, level)
}

func (l *LogHandler) Handle(ctx context.Context, rec slog.Record) error {
	if rec.Level >= slog.LevelWarn {
		payload := map[string]any{
			"level":   rec.Level.String(),
			"message": rec.Message,
			"time":    rec.Time.UTC(),
		}
		rec.Attrs(func(a slog.Attr) bool {
			payload[a.Key] = a.Value.String()
			return true
		})
		l.hub.Broadcast(EventLog, payload)
	}
	return l.inner.Handle(ctx, rec)
}

func (l *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogHandler{inner: l.inner.WithAttrs(attrs), hub: l.hub}
}

func (l *LogHandler) WithGroup(name string) slog.Handler {
	return &LogHandler{inner: l.inner.WithGroup(name), hub: l.hub}
}
