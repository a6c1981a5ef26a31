// Package commands wires the proxyprobe CLI: streaming and non-streaming
// probes for both proxy dialects, the log viewer, the diagnostic report and
// credential management.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/ccrtools/proxyprobe/internal/config"
	"github.com/ccrtools/proxyprobe/internal/keystore"
	"github.com/ccrtools/proxyprobe/internal/observability"
	"github.com/ccrtools/proxyprobe/internal/probe"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	cmd := &cli.Command{
		Name:  "proxyprobe",
		Usage: "Exercise and diagnose a local chat-completion proxy",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a TOML config file",
			},
			&cli.StringFlag{
				Name:  "endpoint",
				Usage: "proxy base URL (overrides config)",
			},
			&cli.StringFlag{
				Name:    "model",
				Aliases: []string{"m"},
				Usage:   "model name to request (overrides config)",
			},
			&cli.StringFlag{
				Name:    "api-key",
				Aliases: []string{"k"},
				Usage:   "API key (overrides env and keyring; prefer the other two)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "timeout for non-streaming requests (overrides config)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelWarn.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: "text",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			var level slog.Level
			if err := level.UnmarshalText([]byte(cmd.String("log-level"))); err != nil {
				return ctx, err
			}
			if err := observability.Instrument(level, cmd.String("log-format")); err != nil {
				return ctx, fmt.Errorf("failed to set up observability layer: %w", err)
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			streamCommand(),
			chatCommand(),
			logsCommand(),
			diagnoseCommand(),
			authCommand(),
		},
	}

	return cmd.Run(ctx, args)
}

// loadConfig layers flag overrides on top of the file/env configuration.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	if v := cmd.String("endpoint"); v != "" {
		cfg.Endpoint = v
	}
	if v := cmd.String("model"); v != "" {
		cfg.Model = v
	}
	if v := cmd.Duration("timeout"); v > 0 {
		cfg.Timeout = v
	}
	cfg.Auth.APIKey = cmd.String("api-key")

	return cfg, nil
}

// resolveAPIKey returns the probe API key: explicit flag first, then the
// configured credential store.
func resolveAPIKey(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.Auth.APIKey != "" {
		return cfg.Auth.APIKey, nil
	}

	store, err := cfg.Auth.NewStore()
	if err != nil {
		return "", err
	}

	key, err := store.Read(ctx)
	if err != nil {
		if errors.Is(err, keystore.ErrNotFound) {
			return "", fmt.Errorf("no API key configured: set %s, use --api-key, or run 'proxyprobe auth set'",
				keystore.EnvVars[0])
		}
		return "", err
	}
	return key, nil
}

// newProbeClient builds the probe client from resolved configuration.
func newProbeClient(ctx context.Context, cmd *cli.Command) (*probe.Client, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	key, err := resolveAPIKey(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	client := probe.New(probe.Options{
		Endpoint:      cfg.Endpoint,
		AnthropicPath: cfg.AnthropicPath,
		OpenAIPath:    cfg.OpenAIPath,
		Model:         cfg.Model,
		APIKey:        key,
		Timeout:       cfg.Timeout,
	})
	return client, cfg, nil
}

func logTimeout(cfg *config.Config) time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return 5 * time.Second
}
