package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"urlwatch/internal/style"
	"urlwatch/internal/watchlist"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Long: `Validate the urlwatch configuration without starting anything.

The config file, env file and URLWATCH_* overrides are resolved exactly as
serve would resolve them. Useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  urlwatch validate -c urlwatch.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			out := cmd.OutOrStdout()

			api := "disabled"
			if cfg.HTTP.Port > 0 {
				api = ":" + strconv.Itoa(cfg.HTTP.Port)
			}

			fmt.Fprintln(out, style.Healthy.Render("Config is valid!"))
			row := func(k, v string) {
				fmt.Fprintf(out, "  %s%s\n", style.Key.Render(k), style.Val.Render(v))
			}
			row("Tick interval", cfg.Scheduler.Interval.Duration().String())
			row("Concurrency", strconv.Itoa(cfg.Scheduler.MaxConcurrency))
			row("Item interval", fmt.Sprintf("%ds - %ds", cfg.MinItemInterval(), watchlist.MaxIntervalSeconds))
			row("Timeouts", fmt.Sprintf("connect %s, request %s",
				cfg.Probe.ConnectTimeout.Duration(), cfg.Probe.RequestTimeout.Duration()))
			row("Database", cfg.Database.Driver)
			row("API", api)
			row("Log", cfg.Log.Level+" ("+cfg.Log.Format+")")
			return nil
		},
	}
}
