package utils

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Scan lifecycle event names attached to log records under the "event" key.
const (
	EventScanStart   = "scan_start"
	EventScanEnd     = "scan_end"
	EventModuleStart = "module_start"
	EventModuleEnd   = "module_end"
	EventTimeout     = "timeout"
	EventFailure     = "failure"
	EventSuccess     = "success"
)

// NewLogger returns a slog.Logger configured for the desired verbosity and format.
// Logs go to stderr so stdout stays free for the JSON report.
func NewLogger(level string, json bool) *slog.Logger {
	return NewLoggerTo(os.Stderr, level, json)
}

// NewLoggerTo is NewLogger with an explicit sink.
func NewLoggerTo(w io.Writer, level string, json bool) *slog.Logger {
	handlerLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		handlerLevel = slog.LevelDebug
	case "warn":
		handlerLevel = slog.LevelWarn
	case "error":
		handlerLevel = slog.LevelError
	}

	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: handlerLevel})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: handlerLevel})
	}

	return slog.New(handler)
}

// Event returns the slog attribute used to tag scan lifecycle records.
func Event(name string) slog.Attr {
	return slog.String("event", name)
}
