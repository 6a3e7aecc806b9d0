// Package gethlog provides leveled, structured key-value logging in the
// same call shape used throughout the virtualizing client: a message
// string followed by alternating key/value pairs. It is a thin wrapper
// around log/slog so the rest of the tree never imports slog directly.
package gethlog

import (
	"context"
	"log/slog"
	"os"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

// SetHandler replaces the underlying slog handler, e.g. to redirect logs
// to a file or switch to JSON output.
func SetHandler(h slog.Handler) {
	logger = slog.New(h)
}

// dieFunc is invoked by Crit after the fatal message is logged. Tests
// overwrite it so a Crit call can be observed instead of terminating the
// test process.
var dieFunc = func() { os.Exit(1) }

func Trace(msg string, ctx ...any) { logger.Log(context.Background(), slog.LevelDebug-4, msg, ctx...) }
func Debug(msg string, ctx ...any) { logger.Debug(msg, ctx...) }
func Info(msg string, ctx ...any)  { logger.Info(msg, ctx...) }
func Warn(msg string, ctx ...any)  { logger.Warn(msg, ctx...) }
func Error(msg string, ctx ...any) { logger.Error(msg, ctx...) }

// Crit logs at error level tagged "fatal" and then terminates the process
// via dieFunc. Call sites never expect to observe a return.
func Crit(msg string, ctx ...any) {
	logger.Error(msg, append(append([]any{}, ctx...), "fatal", true)...)
	dieFunc()
}

// SetDieFunc overrides the fatal-exit hook. Intended for tests that need to
// observe a Crit call without killing the test binary.
func SetDieFunc(f func()) (restore func()) {
	prev := dieFunc
	dieFunc = f
	return func() { dieFunc = prev }
}
