package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"urlwatch/internal/config"
	"urlwatch/internal/logger"
	"urlwatch/internal/watchlist"
)

// app carries the state every subcommand shares once flags are parsed.
type app struct {
	configFile string
	envFile    string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "urlwatch",
		Short: "Periodic URL checker with timing history",
		Long: `urlwatch periodically checks a list of URLs and stores, for every check,
the HTTP status, an optional regular expression match on the body and the
connection, time-to-first-byte and response timings.

Quick start:
  1. urlwatch add https://example.com 30
  2. urlwatch serve
  3. urlwatch show 1

Configuration is read from the file given with --config, then from URLWATCH_*
environment variables (a .env file in the working directory is loaded first).`,
		SilenceUsage:      true,
		PersistentPreRunE: a.load,
	}

	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", "", "path to .env file (default .env when present)")

	root.AddCommand(
		newServeCmd(a),
		newAddCmd(a),
		newUpdateCmd(a),
		newRemoveCmd(a),
		newListCmd(a),
		newShowCmd(a),
		newValidateCmd(a),
		newVersionCmd(),
	)
	return root
}

// load reads the env file and configuration and builds the logger.
func (a *app) load(cmd *cobra.Command, args []string) error {
	if _, err := config.LoadEnvFile(a.envFile); err != nil {
		return err
	}

	cfg, err := config.Load(a.configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	a.cfg = cfg
	a.logger = logger.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	return nil
}

// watchlist opens the configured store and wraps it in a watchlist service.
// The returned func closes the store.
func (a *app) watchlist(ctx context.Context) (*watchlist.Service, func(), error) {
	store, err := openStore(ctx, a.cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	closeStore := func() {
		if err := store.Close(); err != nil {
			a.logger.Warn("failed to close store", "error", err)
		}
	}
	return watchlist.NewService(store, a.cfg.MinItemInterval()), closeStore, nil
}
