// Package session accumulates one streaming chat-completion exchange into a
// summary: concatenated text and reasoning buffers, chunk counts and timing
// milestones. It understands both the Anthropic content-block convention and
// the OpenAI delta-choice convention, inferring which one a stream speaks
// from the first parseable event.
//
// An Aggregator is single-use and single-threaded: the driver feeds it
// decoded frames in arrival order and reads the summary once the stream
// ends. Malformed frames are counted, never fatal.
package session

import (
	"strings"
	"time"

	"github.com/ccrtools/proxyprobe/internal/sse"
)

// Config carries the per-session options recognized by New.
type Config struct {
	// DialectHint pre-selects the dialect instead of inferring it from the
	// first event. Leave empty (or DialectUnknown) to auto-detect.
	DialectHint Dialect

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Summary is the read-only snapshot produced when a session ends. Internal
// state is discarded after finalization.
type Summary struct {
	Dialect          Dialect       `json:"dialect"`
	Content          string        `json:"content"`
	Reasoning        string        `json:"reasoning"`
	ChunkCount       int           `json:"chunk_count"`
	ParseErrors      int           `json:"parse_errors"`
	Elapsed          time.Duration `json:"elapsed"`
	TimeToFirstToken time.Duration `json:"time_to_first_token"`
	StopReason       string        `json:"stop_reason,omitempty"`

	// TerminatedCleanly is true only when an explicit terminal signal was
	// observed (message_stop, [DONE] or a finish_reason). A transport drop
	// leaves it false and the summary holds whatever partial state exists.
	TerminatedCleanly bool `json:"terminated_cleanly"`
}

// Aggregator owns the state of one streaming session.
type Aggregator struct {
	dialect   Dialect
	content   strings.Builder
	reasoning strings.Builder

	chunks       int
	parseErrs    int
	lastParseErr string

	clock      func() time.Time
	start      time.Time
	firstToken time.Time
	stopReason string
	terminated bool
}

// New creates an aggregator and stamps the session start time.
func New(cfg Config) *Aggregator {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	dialect := cfg.DialectHint
	if dialect == "" {
		dialect = DialectUnknown
	}
	return &Aggregator{
		dialect: dialect,
		clock:   clock,
		start:   clock(),
	}
}

// Observe classifies one frame, folds it into the session state and returns
// the classified event so the caller can render it incrementally. Every
// frame counts toward the chunk total, control and malformed lines included.
func (a *Aggregator) Observe(f sse.Frame) Event {
	a.chunks++

	if a.dialect == DialectUnknown && f.Data != nil {
		a.dialect = inferDialect(f.Data)
	}

	ev := classify(a.dialect, f)

	switch ev.Kind {
	case KindMalformed:
		a.parseErrs++
		a.lastParseErr = ev.Err
	case KindDone, KindMessageStop:
		a.terminated = true
	case KindMessageStart:
		a.markFirstToken()
	case KindBlockDelta, KindChunk:
		if ev.Text != "" {
			a.content.WriteString(ev.Text)
		}
		if ev.Thinking != "" {
			a.reasoning.WriteString(ev.Thinking)
		}
		if ev.Text != "" || ev.Thinking != "" {
			a.markFirstToken()
		}
		if ev.StopReason != "" {
			a.stopReason = ev.StopReason
		}
	case KindMessageDelta:
		if ev.StopReason != "" {
			a.stopReason = ev.StopReason
		}
	}

	// A finish_reason is a terminal signal in the OpenAI convention even
	// when the [DONE] sentinel never arrives.
	if ev.Kind == KindChunk && ev.StopReason != "" {
		a.terminated = true
	}

	return ev
}

func (a *Aggregator) markFirstToken() {
	if a.firstToken.IsZero() {
		a.firstToken = a.clock()
	}
}

// Dialect returns the dialect inferred so far.
func (a *Aggregator) Dialect() Dialect {
	return a.dialect
}

// Terminated reports whether a terminal signal has been observed.
func (a *Aggregator) Terminated() bool {
	return a.terminated
}

// LastParseError returns the most recent frame parse failure, if any.
func (a *Aggregator) LastParseError() string {
	return a.lastParseErr
}

// Finalize produces the session summary. Call it exactly once, when the
// terminal signal arrives or the transport closes, whichever comes first;
// on early termination it reflects whatever partial state exists.
func (a *Aggregator) Finalize() Summary {
	now := a.clock()

	ttft := time.Duration(0)
	if !a.firstToken.IsZero() {
		ttft = a.firstToken.Sub(a.start)
	}

	return Summary{
		Dialect:           a.dialect,
		Content:           a.content.String(),
		Reasoning:         a.reasoning.String(),
		ChunkCount:        a.chunks,
		ParseErrors:       a.parseErrs,
		Elapsed:           now.Sub(a.start),
		TimeToFirstToken:  ttft,
		StopReason:        a.stopReason,
		TerminatedCleanly: a.terminated,
	}
}
