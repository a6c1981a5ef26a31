package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/ccrtools/proxyprobe/internal/probe"
	"github.com/ccrtools/proxyprobe/internal/render"
	"github.com/ccrtools/proxyprobe/internal/session"
)

// streamCommand returns the 'stream' subcommand: probes the Anthropic-style
// messages endpoint, streaming by default.
func streamCommand() *cli.Command {
	return &cli.Command{
		Name:  "stream",
		Usage: "Test the Anthropic-style /v1/messages endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "message",
				Usage: "prompt to send",
				Value: "Hello! Please tell me a short joke.",
			},
			&cli.IntFlag{
				Name:  "max-tokens",
				Usage: "maximum tokens in the response",
				Value: 500,
			},
			&cli.FloatFlag{
				Name:    "temperature",
				Aliases: []string{"t"},
				Usage:   "sampling temperature (0.0-1.0)",
				Value:   0.7,
			},
			&cli.BoolFlag{
				Name:  "streaming-only",
				Usage: "skip the non-streaming comparison request",
			},
			&cli.BoolFlag{
				Name:  "non-streaming-only",
				Usage: "only run the non-streaming request",
			},
			&cli.BoolFlag{
				Name:  "use-sdk",
				Usage: "drive the streaming probe through the Anthropic SDK",
			},
		},
		Action: streamAction,
	}
}

func streamAction(ctx context.Context, cmd *cli.Command) error {
	client, cfg, err := newProbeClient(ctx, cmd)
	if err != nil {
		return err
	}

	opts := probe.RequestOptions{
		Prompt:      cmd.String("message"),
		MaxTokens:   int(cmd.Int("max-tokens")),
		Temperature: cmd.Float("temperature"),
	}

	fmt.Println(render.Header("Anthropic Streaming Test"))
	fmt.Printf("Endpoint: %s%s\n", cfg.Endpoint, cfg.AnthropicPath)
	fmt.Printf("Model: %s\n", cfg.Model)

	var failed bool

	if !cmd.Bool("non-streaming-only") {
		var summary session.Summary
		var err error
		if cmd.Bool("use-sdk") {
			fmt.Println(render.Info("using Anthropic SDK transport"))
			summary, err = client.StreamMessagesSDK(ctx, opts, renderStreamEvent)
		} else {
			summary, err = client.StreamMessages(ctx, opts, renderStreamEvent)
		}
		failed = reportStreamOutcome(summary, err) || failed
	}

	if !cmd.Bool("streaming-only") && !cmd.Bool("use-sdk") {
		fmt.Println(render.Header("Non-Streaming Comparison"))
		if err := runMessagesOnce(ctx, client, opts); err != nil {
			fmt.Println(render.Error(err.Error()))
			failed = true
		}
	}

	if failed {
		return cli.Exit("", 1)
	}
	return nil
}

// renderStreamEvent prints one classified event the way an operator watches
// a stream: visible text inline, everything else as annotated status lines.
func renderStreamEvent(ev session.Event) {
	switch ev.Kind {
	case session.KindMessageStart:
		fmt.Println(render.Info("Message started"))
	case session.KindBlockStart:
		fmt.Println(render.Info("Content block started: " + ev.BlockType))
	case session.KindBlockDelta, session.KindChunk:
		if ev.Text != "" {
			fmt.Print(ev.Text)
		}
	case session.KindBlockStop:
		fmt.Println()
	case session.KindMessageDelta:
		if ev.StopReason != "" {
			fmt.Println(render.Info("Stream ended. Reason: " + ev.StopReason))
		}
	case session.KindMessageStop:
		fmt.Println(render.Info("Message complete"))
	case session.KindPing:
		fmt.Println(render.Dim("[ping]"))
	case session.KindError:
		fmt.Println(render.Error("API error: " + ev.Err))
	case session.KindMalformed:
		fmt.Println(render.Warn("unparseable frame (see logs)"))
	}
}

// reportStreamOutcome prints the session statistics block and returns true
// when the probe should be considered failed.
func reportStreamOutcome(summary session.Summary, err error) bool {
	fmt.Println()
	fmt.Println(render.ThinRule())

	if err != nil {
		var transportErr *probe.TransportError
		switch {
		case errors.As(err, &transportErr):
			fmt.Println(render.Error(transportErr.Error()))
			fmt.Println(render.Warn("summary below is incomplete"))
		case errors.Is(err, context.Canceled):
			fmt.Println(render.Warn("interrupted; summary below is incomplete"))
		default:
			fmt.Println(render.Error(err.Error()))
			return true
		}
	}

	fmt.Println("Statistics:")
	fmt.Printf("  Dialect: %s\n", summary.Dialect)
	fmt.Printf("  Total chunks: %d\n", summary.ChunkCount)
	fmt.Printf("  Total time: %s\n", render.Duration(summary.Elapsed))
	fmt.Printf("  Time to first token: %s\n", render.Duration(summary.TimeToFirstToken))
	fmt.Printf("  Characters received: %d\n", len(summary.Content))
	if summary.Reasoning != "" {
		fmt.Printf("  Reasoning characters: %d\n", len(summary.Reasoning))
	}
	if summary.ParseErrors > 0 {
		fmt.Println(render.Warn(fmt.Sprintf("  Frame parse errors: %d", summary.ParseErrors)))
	}
	if summary.StopReason != "" {
		fmt.Printf("  Stop reason: %s\n", summary.StopReason)
	}

	if summary.TerminatedCleanly {
		fmt.Println(render.Success("stream terminated cleanly"))
	} else {
		fmt.Println(render.Warn("stream ended without a terminal signal"))
	}

	return err != nil || !summary.TerminatedCleanly
}

func runMessagesOnce(ctx context.Context, client *probe.Client, opts probe.RequestOptions) error {
	resp, err := client.Messages(ctx, opts)
	if err != nil {
		return err
	}

	// A correctly routed proxy answers in Anthropic shape; choices indicate
	// the proxy translated through the OpenAI dialect instead.
	if len(resp.Content) == 0 && len(resp.Choices) > 0 {
		fmt.Println(render.Warn("response arrived in OpenAI shape (has 'choices')"))
		for _, choice := range resp.Choices {
			if choice.Message.ReasoningContent != "" {
				fmt.Println(render.Dim("[reasoning] " + choice.Message.ReasoningContent))
			}
			fmt.Println(choice.Message.Content)
		}
		return nil
	}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			fmt.Println(block.Text)
		case "thinking":
			fmt.Println(render.Dim("[thinking] " + block.Thinking))
		}
	}

	if total := resp.Usage.Total(); total > 0 {
		fmt.Printf("\nToken usage: input=%d output=%d total=%d\n",
			resp.Usage.InputTokens, resp.Usage.OutputTokens, total)
	}
	if resp.StopReason != "" {
		fmt.Println(render.Info("Stop reason: " + resp.StopReason))
	}
	return nil
}
