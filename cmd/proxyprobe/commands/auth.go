package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/ccrtools/proxyprobe/internal/keystore"
	"github.com/ccrtools/proxyprobe/internal/render"
)

// authCommand returns the 'auth' subcommand for managing the probe API key.
func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage the stored API key",
		Commands: []*cli.Command{
			authSetCommand(),
			authClearCommand(),
			authShowCommand(),
		},
	}
}

// authSetCommand returns the 'auth set' subcommand.
func authSetCommand() *cli.Command {
	return &cli.Command{
		Name:   "set",
		Usage:  "Save an API key to the configured storage",
		Action: authSetAction,
	}
}

// authClearCommand returns the 'auth clear' subcommand.
func authClearCommand() *cli.Command {
	return &cli.Command{
		Name:   "clear",
		Usage:  "Clear the stored API key",
		Action: authClearAction,
	}
}

// authShowCommand returns the 'auth show' subcommand.
func authShowCommand() *cli.Command {
	return &cli.Command{
		Name:   "show",
		Usage:  "Show whether an API key is configured (masked)",
		Action: authShowAction,
	}
}

func authSetAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Auth.Storage == keystore.StorageTypeEnv {
		return fmt.Errorf("cannot save with env storage (read-only). Configure keyring storage")
	}

	store, err := cfg.Auth.NewStore()
	if err != nil {
		return fmt.Errorf("failed to create key store: %w", err)
	}

	key, err := readSecureInput(ctx, "Enter API key: ")
	if err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("API key cannot be empty")
	}

	if err := store.Write(ctx, key); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}

	fmt.Println()
	fmt.Println(render.Success("API key saved to configured storage"))
	return nil
}

func authClearAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Auth.Storage == keystore.StorageTypeEnv {
		return fmt.Errorf("cannot clear with env storage (read-only). Configure keyring storage")
	}

	store, err := cfg.Auth.NewStore()
	if err != nil {
		return fmt.Errorf("failed to create key store: %w", err)
	}

	// Clear via empty string write to maintain the storage abstraction
	if err := store.Write(ctx, ""); err != nil {
		return fmt.Errorf("failed to clear key: %w", err)
	}

	fmt.Println(render.Success("API key cleared from configured storage"))
	return nil
}

func authShowAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	key, err := resolveAPIKey(ctx, cfg)
	if err != nil {
		return err
	}

	fmt.Printf("Storage: %s\n", cfg.Auth.Storage)
	fmt.Printf("API key: %s\n", render.MaskKey(key))
	return nil
}

// readSecureInput reads user input with hidden display and context cancellation
// support. Goroutine+select pattern required because term.ReadPassword has no
// native context support.
func readSecureInput(ctx context.Context, prompt string) (string, error) {
	fmt.Print(prompt)
	defer fmt.Println()

	type result struct {
		value string
		err   error
	}
	resultCh := make(chan result, 1)

	go func() {
		inputBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		resultCh <- result{value: string(inputBytes), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			return "", fmt.Errorf("failed to read input: %w", res.err)
		}
		return res.value, nil
	}
}
