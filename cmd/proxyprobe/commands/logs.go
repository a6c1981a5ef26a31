package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/ccrtools/proxyprobe/internal/logapi"
	"github.com/ccrtools/proxyprobe/internal/render"
)

// logsCommand returns the 'logs' subcommand tree for querying the proxy's
// log API.
func logsCommand() *cli.Command {
	return &cli.Command{
		Name:  "logs",
		Usage: "Query the proxy's log API",
		Commands: []*cli.Command{
			logsListCommand(),
			logsErrorsCommand(),
			logsPanicCommand(),
			logsStreamCommand(),
			logsFollowCommand(),
		},
	}
}

func newLogClient(cmd *cli.Command) (*logapi.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return logapi.New(cfg.Endpoint, logTimeout(cfg)), nil
}

func logsListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List log entries, optionally filtered",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "level", Usage: "filter by level (error|warn|info|debug)"},
			&cli.StringFlag{Name: "source", Usage: "filter by source"},
			&cli.IntFlag{Name: "limit", Usage: "maximum entries", Value: 50},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			client, err := newLogClient(cmd)
			if err != nil {
				return err
			}

			result, err := client.Logs(ctx, logapi.Query{
				Level:  cmd.String("level"),
				Source: cmd.String("source"),
				Limit:  int(cmd.Int("limit")),
			})
			if err != nil {
				return fmt.Errorf("cannot query proxy logs (is the proxy running?): %w", err)
			}

			if len(result.Entries) == 0 {
				fmt.Println("No logs found matching criteria")
				return nil
			}

			fmt.Printf("Found %d log entries:\n%s\n", len(result.Entries), render.Rule())
			for _, entry := range result.Entries {
				printLogEntry(entry)
			}
			fmt.Println(render.Rule())
			return nil
		},
	}
}

func logsErrorsCommand() *cli.Command {
	return &cli.Command{
		Name:  "errors",
		Usage: "Summarize recent errors grouped by source",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			client, err := newLogClient(cmd)
			if err != nil {
				return err
			}

			result, err := client.Logs(ctx, logapi.Query{Level: "error", Limit: 100})
			if err != nil {
				return fmt.Errorf("cannot query proxy logs (is the proxy running?): %w", err)
			}

			if len(result.Entries) == 0 {
				fmt.Println(render.Success("no errors found"))
				return nil
			}

			fmt.Println(render.Warn(fmt.Sprintf("found %d error entries", len(result.Entries))))
			fmt.Println("\nErrors by source:")
			for _, g := range logapi.GroupBySource(result.Entries) {
				fmt.Printf("  %s: %d errors\n", g.Source, g.Count)
			}

			fmt.Println("\nMost recent errors:")
			fmt.Println(render.ThinRule())
			for _, entry := range result.Entries[:min(10, len(result.Entries))] {
				printLogEntry(entry)
			}
			return nil
		},
	}
}

func logsPanicCommand() *cli.Command {
	return &cli.Command{
		Name:  "panic",
		Usage: "Show panic logs",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			client, err := newLogClient(cmd)
			if err != nil {
				return err
			}

			result, err := client.Logs(ctx, logapi.Query{Source: "panic", Limit: 50})
			if err != nil {
				return fmt.Errorf("cannot query proxy logs (is the proxy running?): %w", err)
			}

			if len(result.Entries) == 0 {
				fmt.Println(render.Success("no panic logs found"))
				return nil
			}

			fmt.Println(render.Warn(fmt.Sprintf("found %d panic entries", len(result.Entries))))
			for _, entry := range result.Entries {
				printLogEntry(entry)
				fmt.Println(render.ThinRule())
			}
			return nil
		},
	}
}

func logsStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "stream",
		Usage: "Show streaming-related logs",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			client, err := newLogClient(cmd)
			if err != nil {
				return err
			}

			result, err := client.Logs(ctx, logapi.Query{Source: "openai", Limit: 100})
			if err != nil {
				return fmt.Errorf("cannot query proxy logs (is the proxy running?): %w", err)
			}

			streamLogs := logapi.FilterMessage(result.Entries, "stream")
			if len(streamLogs) == 0 {
				fmt.Println("No streaming logs found")
				return nil
			}

			fmt.Printf("Found %d streaming-related log entries:\n%s\n", len(streamLogs), render.Rule())
			for _, entry := range streamLogs {
				printLogEntry(entry)
			}
			fmt.Println(render.Rule())
			return nil
		},
	}
}

func logsFollowCommand() *cli.Command {
	return &cli.Command{
		Name:  "follow",
		Usage: "Follow logs in real time (Ctrl+C to stop)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "level", Usage: "filter by level"},
			&cli.StringFlag{Name: "source", Usage: "filter by source"},
			&cli.DurationFlag{Name: "interval", Usage: "poll interval", Value: time.Second},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			client, err := newLogClient(cmd)
			if err != nil {
				return err
			}

			fmt.Println("Following logs (Ctrl+C to stop)...")
			fmt.Println(render.Rule())

			err = client.Follow(ctx, logapi.Query{
				Level:  cmd.String("level"),
				Source: cmd.String("source"),
				Limit:  50,
			}, cmd.Duration("interval"), printLogEntry)

			if errors.Is(err, context.Canceled) {
				fmt.Println("\nStopped following logs")
				return nil
			}
			return err
		},
	}
}

func printLogEntry(entry logapi.Entry) {
	ts := "N/A"
	if entry.Timestamp > 0 {
		ts = entry.Time().Format(time.RFC3339)
	}
	fmt.Printf("[%s] [%s] [%-15s] %s\n", ts, render.Level(entry.Level), entry.Source, entry.Message)
}
