package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/ccrtools/proxyprobe/internal/probe"
	"github.com/ccrtools/proxyprobe/internal/render"
	"github.com/ccrtools/proxyprobe/internal/session"
)

// chatCommand returns the 'chat' subcommand: probes the OpenAI-style chat
// completions endpoint, including the reasoning_content extension emitted
// by GLM-class upstreams.
func chatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Test the OpenAI-style /v1/chat/completions endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "message",
				Usage: "prompt to send",
				Value: "Hello, how are you?",
			},
			&cli.IntFlag{
				Name:  "max-tokens",
				Usage: "maximum tokens in the response (0 = provider default)",
			},
			&cli.FloatFlag{
				Name:    "temperature",
				Aliases: []string{"t"},
				Usage:   "sampling temperature (0.0-1.0)",
				Value:   0.7,
			},
			&cli.BoolFlag{
				Name:  "no-stream",
				Usage: "send a non-streaming request instead",
			},
		},
		Action: chatAction,
	}
}

func chatAction(ctx context.Context, cmd *cli.Command) error {
	client, cfg, err := newProbeClient(ctx, cmd)
	if err != nil {
		return err
	}

	opts := probe.RequestOptions{
		Prompt:      cmd.String("message"),
		MaxTokens:   int(cmd.Int("max-tokens")),
		Temperature: cmd.Float("temperature"),
	}

	fmt.Println(render.Header("Chat Completions Test"))
	fmt.Printf("Endpoint: %s%s\n", cfg.Endpoint, cfg.OpenAIPath)
	fmt.Printf("Model: %s\n", cfg.Model)

	if cmd.Bool("no-stream") {
		return runChatOnce(ctx, client, opts)
	}

	summary, err := client.StreamChat(ctx, opts, renderChatEvent)
	if reportStreamOutcome(summary, err) {
		return cli.Exit("", 1)
	}
	return nil
}

// renderChatEvent prints OpenAI-dialect chunks: reasoning dimmed, content
// inline, so the hidden channel is visible but distinguishable.
func renderChatEvent(ev session.Event) {
	switch ev.Kind {
	case session.KindChunk:
		if ev.Thinking != "" {
			fmt.Print(render.Dim(ev.Thinking))
		}
		if ev.Text != "" {
			fmt.Print(ev.Text)
		}
		if ev.StopReason != "" {
			fmt.Println()
			fmt.Println(render.Info("Finish reason: " + ev.StopReason))
		}
	case session.KindDone:
		fmt.Println(render.Info("Stream complete"))
	case session.KindError:
		fmt.Println(render.Error("API error: " + ev.Err))
	case session.KindMalformed:
		fmt.Println(render.Warn("unparseable frame (see logs)"))
	}
}

func runChatOnce(ctx context.Context, client *probe.Client, opts probe.RequestOptions) error {
	resp, err := client.Chat(ctx, opts)
	if err != nil {
		return err
	}

	if len(resp.Choices) == 0 {
		fmt.Println(render.Warn("response contained no choices"))
		return nil
	}

	for _, choice := range resp.Choices {
		if choice.Message.ReasoningContent != "" {
			fmt.Println(render.Dim("[reasoning] " + choice.Message.ReasoningContent))
		}
		fmt.Println(choice.Message.Content)
		if choice.FinishReason != "" {
			fmt.Println(render.Info("Finish reason: " + choice.FinishReason))
		}
	}

	if total := resp.Usage.Total(); total > 0 {
		fmt.Printf("\nToken usage: prompt=%d completion=%d total=%d\n",
			resp.Usage.PromptTokens, resp.Usage.CompletionTokens, total)
	}
	return nil
}
