package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/m-mizutani/clog"

	"github.com/MrWong99/personae/internal/config"
)

// newLogger builds the process logger. Every format honours level, so a
// config reload can change verbosity without rebuilding handlers.
func newLogger(format config.LogFormat, level *slog.LevelVar, w io.Writer) *slog.Logger {
	switch format {
	case config.LogJSON:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	case config.LogText:
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	default:
		h := clog.New(
			clog.WithWriter(w),
			clog.WithLevel(slog.LevelDebug),
			clog.WithTimeFmt("15:04:05"),
			clog.WithSource(false),
		)
		return slog.New(&leveled{Handler: h, level: level})
	}
}

// leveled gates a handler that only takes a fixed level behind a LevelVar.
type leveled struct {
	slog.Handler
	level slog.Leveler
}

func (h *leveled) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= h.level.Level() && h.Handler.Enabled(ctx, l)
}

func (h *leveled) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &leveled{Handler: h.Handler.WithAttrs(attrs), level: h.level}
}

func (h *leveled) WithGroup(name string) slog.Handler {
	return &leveled{Handler: h.Handler.WithGroup(name), level: h.level}
}
