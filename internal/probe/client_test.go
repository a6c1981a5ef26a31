package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccrtools/proxyprobe/internal/session"
)

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	return New(Options{
		Endpoint:      endpoint,
		AnthropicPath: "/v1/messages",
		OpenAIPath:    "/v1/chat/completions",
		Model:         "claude-sonnet-4-5-20250929",
		APIKey:        "test-key",
		Timeout:       5 * time.Second,
	})
}

// sseHandler writes the given lines as an event stream, one blank-separated
// frame per line.
func sseHandler(t *testing.T, lines []string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		for _, line := range lines {
			_, err := w.Write([]byte(line + "\n\n"))
			require.NoError(t, err)
			flusher.Flush()
		}
	}
}

func TestStreamMessages(t *testing.T) {
	var gotHeaders http.Header
	lines := []string{
		`data: {"type":"message_start","message":{"id":"msg_1"}}`,
		`data: {"type":"content_block_delta","delta":{"text":"Hello"}}`,
		`data: {"type":"content_block_delta","delta":{"thinking":"hmm"}}`,
		`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"}}`,
		`data: {"type":"message_stop"}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		sseHandler(t, lines)(w, r)
	}))
	defer srv.Close()

	var events []session.Event
	summary, err := newTestClient(t, srv.URL).StreamMessages(
		context.Background(),
		RequestOptions{Prompt: "hi", MaxTokens: 100},
		func(ev session.Event) { events = append(events, ev) },
	)
	require.NoError(t, err)

	assert.Equal(t, session.DialectAnthropic, summary.Dialect)
	assert.Equal(t, "Hello", summary.Content)
	assert.Equal(t, "hmm", summary.Reasoning)
	assert.Equal(t, "end_turn", summary.StopReason)
	assert.True(t, summary.TerminatedCleanly)
	assert.Len(t, events, 5)

	// Correlation and auth headers on the outbound request.
	assert.Equal(t, "test-key", gotHeaders.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", gotHeaders.Get("anthropic-version"))
	assert.NotEmpty(t, gotHeaders.Get("X-Request-ID"))
	assert.NotEmpty(t, gotHeaders.Get("Traceparent"))
}

func TestStreamChat(t *testing.T) {
	var gotAuth string
	lines := []string{
		`data: {"choices":[{"delta":{"reasoning_content":"think"}}]}`,
		`data: {"choices":[{"delta":{"content":"ok"},"finish_reason":"stop"}]}`,
		`data: [DONE]`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		sseHandler(t, lines)(w, r)
	}))
	defer srv.Close()

	summary, err := newTestClient(t, srv.URL).StreamChat(
		context.Background(),
		RequestOptions{Prompt: "hi"},
		nil,
	)
	require.NoError(t, err)

	assert.Equal(t, session.DialectOpenAI, summary.Dialect)
	assert.Equal(t, "ok", summary.Content)
	assert.Equal(t, "think", summary.Reasoning)
	assert.Equal(t, "stop", summary.StopReason)
	assert.True(t, summary.TerminatedCleanly)
	assert.Equal(t, "Bearer test-key", gotAuth)
}

func TestStreamMessagesServerDropsEarly(t *testing.T) {
	lines := []string{
		`data: {"type":"message_start"}`,
		`data: {"type":"content_block_delta","delta":{"text":"part"}}`,
		// No message_stop: the server hangs up here.
	}
	srv := httptest.NewServer(sseHandler(t, lines))
	defer srv.Close()

	summary, err := newTestClient(t, srv.URL).StreamMessages(
		context.Background(),
		RequestOptions{Prompt: "hi", MaxTokens: 10},
		nil,
	)
	require.NoError(t, err)

	assert.False(t, summary.TerminatedCleanly)
	assert.Equal(t, "part", summary.Content)
	assert.Equal(t, 2, summary.ChunkCount)
}

func TestStreamMessagesMalformedFrameRecovers(t *testing.T) {
	lines := []string{
		`data: {"type":"content_block_delta","delta":{"text":"a"}}`,
		`data: {"type":"content_bl`,
		`data: {"type":"content_block_delta","delta":{"text":"b"}}`,
		`data: {"type":"message_stop"}`,
	}
	srv := httptest.NewServer(sseHandler(t, lines))
	defer srv.Close()

	summary, err := newTestClient(t, srv.URL).StreamMessages(
		context.Background(), RequestOptions{Prompt: "hi"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "ab", summary.Content)
	assert.Equal(t, 1, summary.ParseErrors)
	assert.True(t, summary.TerminatedCleanly)
}

func TestStreamMessagesNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"no route"}}`, http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).StreamMessages(
		context.Background(), RequestOptions{Prompt: "hi"}, nil)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.Status)
	assert.Contains(t, statusErr.Body, "no route")
}

func TestStreamMessagesConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close() // nothing listens here anymore

	_, err := newTestClient(t, url).StreamMessages(
		context.Background(), RequestOptions{Prompt: "hi"}, nil)

	var transportErr *TransportError
	assert.ErrorAs(t, err, &transportErr)
}

func TestStreamChatCanceledMidStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte(`data: {"choices":[{"delta":{"content":"partial"}}]}` + "\n\n"))
		flusher.Flush()
		cancel()
		// Keep the connection open until the client gives up.
		<-r.Context().Done()
	}))
	defer srv.Close()

	summary, err := newTestClient(t, srv.URL).StreamChat(ctx, RequestOptions{Prompt: "hi"}, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled) || errors.As(err, new(*TransportError)))
	assert.False(t, summary.TerminatedCleanly)
}

func TestMessagesNonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"content": [
				{"type": "thinking", "thinking": "considering"},
				{"type": "text", "text": "Hello there"}
			],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 5}
		}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv.URL).Messages(
		context.Background(), RequestOptions{Prompt: "hi", MaxTokens: 100})
	require.NoError(t, err)

	require.Len(t, resp.Content, 2)
	assert.Equal(t, "Hello there", resp.Content[1].Text)
	assert.Equal(t, "considering", resp.Content[0].Thinking)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, int64(17), resp.Usage.Total())
}

// A zero timeout means unbounded, not an already-expired context.
func TestMessagesZeroTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": "msg_1", "content": [{"type": "text", "text": "ok"}]}`))
	}))
	defer srv.Close()

	client := New(Options{
		Endpoint:      srv.URL,
		AnthropicPath: "/v1/messages",
		OpenAIPath:    "/v1/chat/completions",
		Model:         "claude-sonnet-4-5-20250929",
		APIKey:        "test-key",
	})

	resp, err := client.Messages(context.Background(), RequestOptions{Prompt: "hi"})
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "ok", resp.Content[0].Text)
}

// A misrouted proxy can answer an Anthropic request in OpenAI shape; the
// response type keeps the choices visible instead of dropping them.
func TestMessagesHybridResponseShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "hi", "reasoning_content": "r"}}]
		}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv.URL).Messages(
		context.Background(), RequestOptions{Prompt: "hi"})
	require.NoError(t, err)

	assert.Empty(t, resp.Content)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hi", resp.Choices[0].Message.Content)
	assert.Equal(t, "r", resp.Choices[0].Message.ReasoningContent)
}

func TestChatNonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"choices": [{"message": {"role": "assistant", "content": "ok"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 1, "total_tokens": 4}
		}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv.URL).Chat(
		context.Background(), RequestOptions{Prompt: "hi"})
	require.NoError(t, err)

	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "ok", resp.Choices[0].Message.Content)
	assert.Equal(t, int64(4), resp.Usage.Total())
}
