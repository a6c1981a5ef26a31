package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/ccrtools/proxyprobe/internal/diagnose"
	"github.com/ccrtools/proxyprobe/internal/logapi"
	"github.com/ccrtools/proxyprobe/internal/render"
)

// diagnoseCommand returns the 'diagnose' subcommand: a one-shot health
// report over the proxy's log and stats endpoints.
func diagnoseCommand() *cli.Command {
	return &cli.Command{
		Name:  "diagnose",
		Usage: "Run diagnostic checks against the proxy and print a report",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			fmt.Println(render.Header("PROXY DIAGNOSTIC REPORT"))
			fmt.Printf("Endpoint: %s\n\n", cfg.Endpoint)

			client := logapi.New(cfg.Endpoint, logTimeout(cfg))
			report := diagnose.Run(ctx, client)

			for _, result := range report.Results {
				printCheckResult(result)
			}

			fmt.Println(render.Rule())
			fmt.Printf("Checks passed: %d/%d (took %s)\n",
				report.Passed(), len(report.Results), render.Duration(report.Took))

			if report.Healthy() {
				fmt.Println(render.Success(report.Verdict()))
				return nil
			}

			fmt.Println(render.Error(report.Verdict()))
			return cli.Exit("", 1)
		},
	}
}

func printCheckResult(result diagnose.Result) {
	var mark string
	switch result.Status {
	case diagnose.StatusPass:
		mark = render.Success("PASS")
	case diagnose.StatusWarn:
		mark = render.Warn("WARN")
	default:
		mark = render.Error("FAIL")
	}

	fmt.Printf("[%s] %s: %s\n", mark, result.Name, result.Summary)
	for _, detail := range result.Details {
		fmt.Printf("       %s\n", render.Dim(detail))
	}
}
