// Package sse decodes server-sent-event lines into discrete frames.
//
// The decoder is deliberately forgiving: chat-completion proxies interleave
// event-name lines, comments, keep-alive pings and occasionally truncated
// JSON into one stream, and a diagnostic tool has to keep reading through
// all of it. A malformed payload never stops decoding; the frame carries
// the parse failure and the raw text for later inspection.
package sse

import (
	"encoding/json"
	"fmt"
	"strings"
)

// doneSentinel terminates OpenAI-style streams.
const doneSentinel = "[DONE]"

// Frame is one decoded stream record.
type Frame struct {
	// Raw holds the payload text with the "data:" prefix stripped, or the
	// full line for control frames.
	Raw string

	// Data is the parsed JSON payload. Nil for control frames, the [DONE]
	// sentinel and malformed payloads.
	Data map[string]any

	// Control marks a line that carried no "data:" prefix (event-name
	// lines, comments). The caller decides whether to act on it.
	Control bool

	// Done marks the [DONE] stream-termination sentinel.
	Done bool

	// ParseErr is set when the payload was non-empty but not valid JSON.
	ParseErr error
}

// Decode converts one line (already stripped of its record terminator) into
// a frame. Empty lines are frame separators in the wire format and produce
// no frame. Decode holds no state between calls and never returns an error:
// a bad payload yields a frame with ParseErr set so the stream can continue.
func Decode(line string) (Frame, bool) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return Frame{}, false
	}

	payload, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return Frame{Raw: line, Control: true}, true
	}
	// Both "data: x" and "data:x" appear in the wild.
	payload = strings.TrimPrefix(payload, " ")

	if strings.TrimSpace(payload) == doneSentinel {
		return Frame{Raw: payload, Done: true}, true
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return Frame{
			Raw:      payload,
			ParseErr: fmt.Errorf("decoding frame payload: %w", err),
		}, true
	}

	return Frame{Raw: payload, Data: data}, true
}
