// Package probe sends diagnostic requests against a chat-completion proxy
// and reduces streaming responses to session summaries. It exercises both
// wire dialects the proxy fronts: the Anthropic Messages convention and the
// OpenAI chat-completions convention with its reasoning-content extension.
package probe

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/ccrtools/proxyprobe/internal/session"
	"github.com/ccrtools/proxyprobe/internal/sse"
)

const anthropicVersion = "2023-06-01"

// scanner buffer bounds; individual SSE frames can carry large deltas.
const (
	scanInitialBuf = 64 * 1024
	scanMaxBuf     = 1 << 20
)

// Options configures a probe client.
type Options struct {
	Endpoint      string
	AnthropicPath string
	OpenAIPath    string
	Model         string
	APIKey        string

	// Timeout bounds non-streaming calls; zero means no client-side bound.
	// Streaming calls are bounded by context cancellation so long sessions
	// are not cut off mid-answer.
	Timeout time.Duration
}

// RequestOptions shapes one probe request.
type RequestOptions struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Client issues probe requests. It is safe to reuse across invocations but
// each streaming call owns its session state exclusively.
type Client struct {
	opts Options

	// anthropicHTTP authenticates with x-api-key per request; openaiHTTP
	// carries the Bearer token via its transport. Client.Timeout stays 0 on
	// both: SSE streams outlive any sane fixed timeout.
	anthropicHTTP *http.Client
	openaiHTTP    *http.Client
}

// New creates a probe client for the configured endpoints.
func New(opts Options) *Client {
	return &Client{
		opts:          opts,
		anthropicHTTP: &http.Client{},
		openaiHTTP: &http.Client{
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.APIKey}),
				Base:   http.DefaultTransport,
			},
		},
	}
}

// EventFunc receives each classified event as the stream progresses, in
// arrival order. It must not retain the event past the call.
type EventFunc func(session.Event)

// StreamMessages runs a streaming probe against the Anthropic-style
// endpoint. The returned summary is valid even when err is non-nil: on
// transport failure or cancellation it holds the partial session state.
func (c *Client) StreamMessages(ctx context.Context, opts RequestOptions, onEvent EventFunc) (session.Summary, error) {
	body := MessagesRequest{
		Model:       c.opts.Model,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Messages:    []Message{{Role: "user", Content: opts.Prompt}},
		Stream:      true,
	}

	req, err := c.newAnthropicRequest(ctx, body)
	if err != nil {
		return session.Summary{}, err
	}

	return c.runStream(ctx, c.anthropicHTTP, req, session.DialectAnthropic, onEvent)
}

// StreamChat runs a streaming probe against the OpenAI-style endpoint.
func (c *Client) StreamChat(ctx context.Context, opts RequestOptions, onEvent EventFunc) (session.Summary, error) {
	body := ChatRequest{
		Model:       c.opts.Model,
		Messages:    []Message{{Role: "user", Content: opts.Prompt}},
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Stream:      true,
	}

	req, err := c.newOpenAIRequest(ctx, body)
	if err != nil {
		return session.Summary{}, err
	}

	return c.runStream(ctx, c.openaiHTTP, req, session.DialectOpenAI, onEvent)
}

// Messages sends a non-streaming request to the Anthropic-style endpoint.
func (c *Client) Messages(ctx context.Context, opts RequestOptions) (*MessagesResponse, error) {
	body := MessagesRequest{
		Model:       c.opts.Model,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Messages:    []Message{{Role: "user", Content: opts.Prompt}},
	}

	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	req, err := c.newAnthropicRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	var resp MessagesResponse
	if err := c.doJSON(c.anthropicHTTP, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Chat sends a non-streaming request to the OpenAI-style endpoint.
func (c *Client) Chat(ctx context.Context, opts RequestOptions) (*ChatResponse, error) {
	body := ChatRequest{
		Model:       c.opts.Model,
		Messages:    []Message{{Role: "user", Content: opts.Prompt}},
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}

	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	req, err := c.newOpenAIRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	var resp ChatResponse
	if err := c.doJSON(c.openaiHTTP, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// requestContext bounds a non-streaming call by the configured timeout,
// leaving the context unbounded when no timeout is set.
func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.opts.Timeout)
}

func (c *Client) newAnthropicRequest(ctx context.Context, body MessagesRequest) (*http.Request, error) {
	req, err := c.newJSONRequest(ctx, c.opts.AnthropicPath, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.opts.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	return req, nil
}

func (c *Client) newOpenAIRequest(ctx context.Context, body ChatRequest) (*http.Request, error) {
	// Authorization is attached by the oauth2 transport.
	return c.newJSONRequest(ctx, c.opts.OpenAIPath, body)
}

func (c *Client) newJSONRequest(ctx context.Context, path string, body any) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	ctx = withProbeSpan(ctx)
	url := strings.TrimRight(c.opts.Endpoint, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	decorate(req)
	return req, nil
}

func (c *Client) doJSON(httpClient *http.Client, req *http.Request, out any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: "request", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Status: resp.StatusCode, Body: readBodyExcerpt(resp.Body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// runStream drives one streaming session: lines from the response body are
// decoded into frames and folded into a fresh aggregator until a terminal
// signal arrives or the transport gives out. The summary returned alongside
// an error reflects whatever partial state was accumulated.
func (c *Client) runStream(
	ctx context.Context,
	httpClient *http.Client,
	req *http.Request,
	hint session.Dialect,
	onEvent EventFunc,
) (session.Summary, error) {
	resp, err := httpClient.Do(req)
	if err != nil {
		return session.Summary{}, &TransportError{Op: "connect", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return session.Summary{}, &StatusError{Status: resp.StatusCode, Body: readBodyExcerpt(resp.Body)}
	}

	agg := session.New(session.Config{DialectHint: hint})

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, scanInitialBuf), scanMaxBuf)

	for scanner.Scan() {
		if ctx.Err() != nil {
			slog.DebugContext(ctx, "stream canceled, finalizing partial session")
			return agg.Finalize(), ctx.Err()
		}

		frame, ok := sse.Decode(scanner.Text())
		if !ok {
			continue
		}

		ev := agg.Observe(frame)
		switch ev.Kind {
		case session.KindMalformed:
			slog.WarnContext(ctx, "malformed stream frame", "error", ev.Err, "raw", excerpt(ev.Raw))
		case session.KindError:
			slog.ErrorContext(ctx, "protocol error event", "message", ev.Err)
		}
		if onEvent != nil {
			onEvent(ev)
		}

		if agg.Terminated() {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return agg.Finalize(), &TransportError{Op: "stream read", Err: err}
	}

	return agg.Finalize(), nil
}

func readBodyExcerpt(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, 2048))
	return strings.TrimSpace(string(body))
}

func excerpt(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
