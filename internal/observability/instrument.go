package observability

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Instrument installs the process-wide slog handler. Probe commands log to
// stderr so structured output never interleaves with the streamed response
// text on stdout.
func Instrument(level slog.Level, logFormat string) error {
	handler, err := newStderrHandler(level, logFormat)
	if err != nil {
		return err
	}

	// Wrap with trace correlation so probe log lines carry the same
	// trace_id that was injected into the outbound request headers.
	slog.SetDefault(slog.New(newTraceContextHandler(handler)))

	return nil
}

// newStderrHandler creates a handler for human-readable or JSON logs.
func newStderrHandler(level slog.Level, logFormat string) (slog.Handler, error) {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	switch strings.ToLower(logFormat) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q (expected: json, text)", logFormat)
	}

	return handler, nil
}
