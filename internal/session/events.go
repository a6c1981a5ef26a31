package session

import "github.com/ccrtools/proxyprobe/internal/sse"

// Dialect identifies which vendor event convention a stream speaks.
type Dialect string

const (
	DialectUnknown   Dialect = "unknown"
	DialectAnthropic Dialect = "anthropic"
	DialectOpenAI    Dialect = "openai"
)

// Kind is the closed set of event classifications. Every frame maps to
// exactly one kind before any session state is touched, so the aggregator
// loop is a single switch instead of key-presence probing.
type Kind int

const (
	// KindControl is a non-data line (event-name line, comment).
	KindControl Kind = iota
	// KindMalformed is a data line whose payload was not valid JSON.
	KindMalformed
	// KindUnknown is a well-formed payload that matches neither dialect,
	// or an event type the dialect does not define.
	KindUnknown
	// KindDone is the [DONE] stream-termination sentinel.
	KindDone

	// Anthropic content-block events.
	KindMessageStart
	KindBlockStart
	KindBlockDelta
	KindBlockStop
	KindMessageDelta
	KindMessageStop
	KindPing
	// KindError is a protocol-level error event. Non-fatal to the loop.
	KindError

	// KindChunk is one OpenAI-style delta chunk, collapsed across choices.
	KindChunk
)

// Event is a classified frame plus the fields the aggregator and the
// driver's renderer care about.
type Event struct {
	Kind Kind

	// Text and Thinking carry the visible and reasoning deltas extracted
	// from this event, already concatenated across choices for KindChunk.
	Text     string
	Thinking string

	// StopReason is set on KindMessageDelta and on KindChunk when a choice
	// carried a non-null finish_reason.
	StopReason string

	// BlockType describes the content block on KindBlockStart.
	BlockType string

	// Err is the reported message for KindError and KindMalformed.
	Err string

	// Raw is the undecoded payload, retained for diagnostics.
	Raw string
}

// classify maps a frame to an event under the given dialect. It performs no
// mutation; the aggregator applies the result afterwards.
func classify(dialect Dialect, f sse.Frame) Event {
	switch {
	case f.ParseErr != nil:
		return Event{Kind: KindMalformed, Err: f.ParseErr.Error(), Raw: f.Raw}
	case f.Done:
		return Event{Kind: KindDone}
	case f.Control:
		return Event{Kind: KindControl, Raw: f.Raw}
	case f.Data == nil:
		return Event{Kind: KindUnknown, Raw: f.Raw}
	}

	// An embedded error object is surfaced regardless of dialect. Anthropic
	// sends {"type":"error","error":{...}}; some proxies embed {"error":{...}}
	// in an otherwise OpenAI-shaped chunk.
	if errObj, ok := f.Data["error"].(map[string]any); ok {
		msg, _ := errObj["message"].(string)
		if msg == "" {
			msg = "unknown error"
		}
		return Event{Kind: KindError, Err: msg, Raw: f.Raw}
	}

	switch dialect {
	case DialectAnthropic:
		return classifyAnthropic(f)
	case DialectOpenAI:
		return classifyOpenAI(f)
	default:
		return Event{Kind: KindUnknown, Raw: f.Raw}
	}
}

func classifyAnthropic(f sse.Frame) Event {
	eventType, _ := f.Data["type"].(string)
	delta, _ := f.Data["delta"].(map[string]any)

	switch eventType {
	case "message_start":
		return Event{Kind: KindMessageStart, Raw: f.Raw}
	case "content_block_start":
		blockType := "text"
		if block, ok := f.Data["content_block"].(map[string]any); ok {
			if bt, ok := block["type"].(string); ok {
				blockType = bt
			}
		}
		return Event{Kind: KindBlockStart, BlockType: blockType, Raw: f.Raw}
	case "content_block_delta":
		ev := Event{Kind: KindBlockDelta, Raw: f.Raw}
		if text, ok := delta["text"].(string); ok {
			ev.Text = text
		}
		if thinking, ok := delta["thinking"].(string); ok {
			ev.Thinking = thinking
		}
		return ev
	case "content_block_stop":
		return Event{Kind: KindBlockStop, Raw: f.Raw}
	case "message_delta":
		ev := Event{Kind: KindMessageDelta, Raw: f.Raw}
		if reason, ok := delta["stop_reason"].(string); ok {
			ev.StopReason = reason
		}
		return ev
	case "message_stop":
		return Event{Kind: KindMessageStop, Raw: f.Raw}
	case "ping":
		return Event{Kind: KindPing, Raw: f.Raw}
	default:
		// Unrecognized event types are not an error.
		return Event{Kind: KindUnknown, Raw: f.Raw}
	}
}

func classifyOpenAI(f sse.Frame) Event {
	choices, ok := f.Data["choices"].([]any)
	if !ok {
		return Event{Kind: KindUnknown, Raw: f.Raw}
	}

	ev := Event{Kind: KindChunk, Raw: f.Raw}
	for _, c := range choices {
		choice, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if delta, ok := choice["delta"].(map[string]any); ok {
			if reasoning, ok := delta["reasoning_content"].(string); ok {
				ev.Thinking += reasoning
			}
			if content, ok := delta["content"].(string); ok {
				ev.Text += content
			}
		}
		if reason, ok := choice["finish_reason"].(string); ok && reason != "" {
			ev.StopReason = reason
		}
	}
	return ev
}

// inferDialect inspects the first successfully parsed, non-sentinel payload:
// a "type" key marks the Anthropic convention, a "choices" key the OpenAI
// one. Anything else leaves the dialect undecided.
func inferDialect(data map[string]any) Dialect {
	if _, ok := data["type"]; ok {
		return DialectAnthropic
	}
	if _, ok := data["choices"]; ok {
		return DialectOpenAI
	}
	return DialectUnknown
}
