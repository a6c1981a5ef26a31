package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccrtools/proxyprobe/internal/sse"
)

// fakeClock advances a fixed step per call so timing assertions are exact.
type fakeClock struct {
	now  time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func feed(t *testing.T, a *Aggregator, lines ...string) []Event {
	t.Helper()
	var events []Event
	for _, line := range lines {
		f, ok := sse.Decode(line)
		if !ok {
			continue
		}
		events = append(events, a.Observe(f))
	}
	return events
}

func TestAnthropicSession(t *testing.T) {
	a := New(Config{})
	feed(t, a,
		`data: {"type":"message_start","message":{"id":"msg_1"}}`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hi"}}`,
		`data: {"type":"content_block_delta","delta":{"type":"thinking_delta","thinking":"reasoning..."}}`,
		`data: {"type":"content_block_stop","index":0}`,
		`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"}}`,
		`data: {"type":"message_stop"}`,
	)

	s := a.Finalize()
	assert.Equal(t, DialectAnthropic, s.Dialect)
	assert.Equal(t, "Hi", s.Content)
	assert.Equal(t, "reasoning...", s.Reasoning)
	assert.Equal(t, "end_turn", s.StopReason)
	assert.Equal(t, 7, s.ChunkCount)
	assert.Zero(t, s.ParseErrors)
	assert.True(t, s.TerminatedCleanly)
}

func TestOpenAISession(t *testing.T) {
	a := New(Config{})
	feed(t, a,
		`data: {"choices":[{"delta":{"reasoning_content":"think"}}]}`,
		`data: {"choices":[{"delta":{"content":"ok"},"finish_reason":"stop"}]}`,
		`data: [DONE]`,
	)

	s := a.Finalize()
	assert.Equal(t, DialectOpenAI, s.Dialect)
	assert.Equal(t, "ok", s.Content)
	assert.Equal(t, "think", s.Reasoning)
	assert.Equal(t, "stop", s.StopReason)
	assert.Equal(t, 3, s.ChunkCount)
	assert.True(t, s.TerminatedCleanly)
}

// A finish_reason terminates the session even if [DONE] never arrives.
func TestOpenAIFinishReasonTerminates(t *testing.T) {
	a := New(Config{})
	feed(t, a,
		`data: {"choices":[{"delta":{"content":"hello"},"finish_reason":"stop"}]}`,
	)
	assert.True(t, a.Terminated())
	assert.True(t, a.Finalize().TerminatedCleanly)
}

func TestContentDeltasConcatenateInOrder(t *testing.T) {
	a := New(Config{})
	feed(t, a,
		`data: {"type":"content_block_delta","delta":{"text":"He"}}`,
		`data: {"type":"content_block_delta","delta":{"text":"llo"}}`,
	)
	assert.Equal(t, "Hello", a.Finalize().Content)
}

func TestMalformedFrameDoesNotCorruptState(t *testing.T) {
	a := New(Config{})
	events := feed(t, a,
		`data: {"type":"content_block_delta","delta":{"text":"before"}}`,
		`data: {"type":"content_block_delta","del`,
		`data: {"type":"content_block_delta","delta":{"text":" after"}}`,
	)

	require.Len(t, events, 3)
	assert.Equal(t, KindMalformed, events[1].Kind)
	assert.NotEmpty(t, events[1].Err)

	s := a.Finalize()
	assert.Equal(t, "before after", s.Content)
	assert.Equal(t, 1, s.ParseErrors)
	assert.Equal(t, 3, s.ChunkCount)
}

// Once the dialect is inferred from the first classifiable record, records
// of the other shape do not change it.
func TestDialectInferenceIsSticky(t *testing.T) {
	a := New(Config{})
	feed(t, a,
		`data: {"type":"content_block_delta","delta":{"text":"anthropic"}}`,
		`data: {"choices":[{"delta":{"content":"openai"}}]}`,
	)

	s := a.Finalize()
	assert.Equal(t, DialectAnthropic, s.Dialect)
	// The OpenAI-shaped record has no "type" and is ignored for accumulation.
	assert.Equal(t, "anthropic", s.Content)
}

func TestDialectHintSkipsInference(t *testing.T) {
	a := New(Config{DialectHint: DialectOpenAI})
	feed(t, a, `data: {"choices":[{"delta":{"content":"x"}}]}`)
	assert.Equal(t, DialectOpenAI, a.Dialect())
	assert.Equal(t, "x", a.Finalize().Content)
}

func TestUnclassifiableRecordLeavesDialectUnknown(t *testing.T) {
	a := New(Config{})
	events := feed(t, a, `data: {"status":"warming_up"}`)

	require.Len(t, events, 1)
	assert.Equal(t, KindUnknown, events[0].Kind)

	s := a.Finalize()
	assert.Equal(t, DialectUnknown, s.Dialect)
	assert.Empty(t, s.Content)
}

func TestTransportDropProducesPartialSummary(t *testing.T) {
	a := New(Config{})
	feed(t, a,
		`data: {"type":"message_start"}`,
		`data: {"type":"content_block_delta","delta":{"text":"par"}}`,
	)

	// Stream closes here with no terminal signal.
	s := a.Finalize()
	assert.False(t, s.TerminatedCleanly)
	assert.Equal(t, "par", s.Content)
	assert.Equal(t, 2, s.ChunkCount)
}

// Control lines and malformed lines both count toward the chunk total.
func TestChunkCountIncludesControlAndMalformed(t *testing.T) {
	a := New(Config{})
	feed(t, a,
		"event: message_start",
		`data: {"type":"message_start"}`,
		"data: {broken",
		"",
	)
	assert.Equal(t, 3, a.Finalize().ChunkCount)
}

func TestProtocolErrorEventIsSurfacedNotFatal(t *testing.T) {
	a := New(Config{})
	events := feed(t, a,
		`data: {"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
		`data: {"type":"content_block_delta","delta":{"text":"still here"}}`,
	)

	require.Len(t, events, 2)
	assert.Equal(t, KindError, events[0].Kind)
	assert.Equal(t, "Overloaded", events[0].Err)
	assert.Equal(t, "still here", a.Finalize().Content)
}

func TestErrorObjectInOpenAIChunk(t *testing.T) {
	a := New(Config{DialectHint: DialectOpenAI})
	events := feed(t, a, `data: {"error":{"message":"upstream failed"},"choices":[]}`)

	require.Len(t, events, 1)
	assert.Equal(t, KindError, events[0].Kind)
	assert.Equal(t, "upstream failed", events[0].Err)
}

func TestTimingMilestones(t *testing.T) {
	clock := &fakeClock{
		now:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		step: 100 * time.Millisecond,
	}
	a := New(Config{Clock: clock.Now}) // start stamped at t=0

	feed(t, a,
		`data: {"type":"message_start"}`, // first token stamped at t=100ms
		`data: {"type":"content_block_delta","delta":{"text":"x"}}`,
		`data: {"type":"message_stop"}`,
	)

	s := a.Finalize() // elapsed measured at t=200ms
	assert.Equal(t, 100*time.Millisecond, s.TimeToFirstToken)
	assert.Equal(t, 200*time.Millisecond, s.Elapsed)
}

// Sessions with no content-bearing event report zero first-token latency.
func TestNoTokensMeansZeroLatency(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0), step: time.Second}
	a := New(Config{Clock: clock.Now})
	feed(t, a, `data: {"type":"ping"}`)

	s := a.Finalize()
	assert.Zero(t, s.TimeToFirstToken)
	assert.False(t, s.TerminatedCleanly)
}

// Summary reflects state accumulated up to [DONE], unchanged thereafter.
func TestDoneFreezesState(t *testing.T) {
	a := New(Config{})
	feed(t, a,
		`data: {"choices":[{"delta":{"content":"final"}}]}`,
		`data: [DONE]`,
	)
	require.True(t, a.Terminated())
	assert.Equal(t, "final", a.Finalize().Content)
}

func TestBlockStartCarriesBlockType(t *testing.T) {
	a := New(Config{})
	events := feed(t, a,
		`data: {"type":"content_block_start","content_block":{"type":"thinking"}}`,
	)
	require.Len(t, events, 1)
	assert.Equal(t, KindBlockStart, events[0].Kind)
	assert.Equal(t, "thinking", events[0].BlockType)
}
