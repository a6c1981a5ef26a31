package probe

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ccrtools/proxyprobe/internal/session"
)

// StreamMessagesSDK runs the streaming probe through the official Anthropic
// SDK instead of the raw SSE path. Useful for separating proxy framing bugs
// from payload bugs: if the SDK path works and the raw path does not, the
// proxy's SSE framing is suspect.
func (c *Client) StreamMessagesSDK(ctx context.Context, opts RequestOptions, onEvent EventFunc) (session.Summary, error) {
	client := anthropic.NewClient(
		option.WithAPIKey(c.opts.APIKey),
		option.WithBaseURL(c.sdkBaseURL(ctx)),
	)

	start := time.Now()
	var firstToken time.Time
	var content, reasoning strings.Builder
	var chunks int
	terminated := false

	stream := client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.opts.Model),
		MaxTokens: int64(opts.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(opts.Prompt)),
		},
	})
	defer func() { _ = stream.Close() }()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		chunks++
		if err := message.Accumulate(event); err != nil {
			slog.WarnContext(ctx, "failed to accumulate stream event", "error", err)
		}

		ev := session.Event{Kind: session.KindUnknown}
		switch eventVariant := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			ev.Kind = session.KindMessageStart
			if firstToken.IsZero() {
				firstToken = time.Now()
			}
		case anthropic.ContentBlockDeltaEvent:
			ev.Kind = session.KindBlockDelta
			switch deltaVariant := eventVariant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				ev.Text = deltaVariant.Text
				content.WriteString(deltaVariant.Text)
			case anthropic.ThinkingDelta:
				ev.Thinking = deltaVariant.Thinking
				reasoning.WriteString(deltaVariant.Thinking)
			}
			if firstToken.IsZero() && (ev.Text != "" || ev.Thinking != "") {
				firstToken = time.Now()
			}
		case anthropic.MessageDeltaEvent:
			ev.Kind = session.KindMessageDelta
			ev.StopReason = string(eventVariant.Delta.StopReason)
		case anthropic.MessageStopEvent:
			ev.Kind = session.KindMessageStop
			terminated = true
		}

		if onEvent != nil {
			onEvent(ev)
		}
	}

	ttft := time.Duration(0)
	if !firstToken.IsZero() {
		ttft = firstToken.Sub(start)
	}
	summary := session.Summary{
		Dialect:           session.DialectAnthropic,
		Content:           content.String(),
		Reasoning:         reasoning.String(),
		ChunkCount:        chunks,
		Elapsed:           time.Since(start),
		TimeToFirstToken:  ttft,
		StopReason:        string(message.StopReason),
		TerminatedCleanly: terminated,
	}

	if err := stream.Err(); err != nil {
		return summary, &TransportError{Op: "sdk stream", Err: err}
	}
	return summary, nil
}

// sdkBaseURL derives the SDK base URL from the configured messages path.
// The SDK always appends /v1/messages itself.
func (c *Client) sdkBaseURL(ctx context.Context) string {
	endpoint := strings.TrimRight(c.opts.Endpoint, "/")
	if prefix, ok := strings.CutSuffix(c.opts.AnthropicPath, "/v1/messages"); ok {
		return endpoint + prefix
	}
	slog.WarnContext(ctx, "anthropic path does not end in /v1/messages; SDK probe uses endpoint as-is",
		"path", c.opts.AnthropicPath)
	return endpoint
}
