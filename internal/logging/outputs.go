package logging

import (
	"context"
	"errors"
	"log/slog"
	"os"
)

// createHandler builds the handler chain for one module. Records go to
// stdout when it is connected to something and to the systemd journal
// when journald is running.
func createHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var stdout slog.Handler
	if format == "json" {
		stdout = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		stdout = slog.NewTextHandler(os.Stdout, opts)
	}

	var out outputs
	if isStdoutAvailable() {
		out = append(out, stdout)
	}
	if IsJournalAvailable() {
		out = append(out, NewJournalHandler(level))
	}

	switch len(out) {
	case 0:
		return stdout
	case 1:
		return out[0]
	default:
		return out
	}
}

// isStdoutAvailable reports whether stdout is a terminal, pipe, socket or
// regular file. /dev/null is a device and does not count.
func isStdoutAvailable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return mode&os.ModeCharDevice != 0 || mode&os.ModeNamedPipe != 0 || mode&os.ModeSocket != 0 || mode.IsRegular()
}

// outputs writes each record to every destination whose level admits it.
type outputs []slog.Handler

func (o outputs) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range o {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle keeps writing after a failed destination and reports every
// failure.
func (o outputs) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range o {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (o outputs) WithAttrs(attrs []slog.Attr) slog.Handler {
	return o.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (o outputs) WithGroup(name string) slog.Handler {
	return o.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (o outputs) each(fn func(slog.Handler) slog.Handler) outputs {
	derived := make(outputs, len(o))
	for i, h := range o {
		derived[i] = fn(h)
	}
	return derived
}
