package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"jobtracker/internal/config"
	"jobtracker/internal/jobstore"
	"jobtracker/internal/telemetry"
)

// cli carries the state shared by every subcommand.
type cli struct {
	cfg      config.Config
	storeURL string
	store    jobstore.Store
	logger   *slog.Logger

	// open is replaced in tests.
	open func(ctx context.Context, cfg config.JobStore, logger *slog.Logger) (jobstore.Store, error)
}

func newRootCmd(cfg config.Config, stdout, stderr io.Writer) (*cobra.Command, *cli) {
	c := &cli{
		cfg:    cfg,
		logger: telemetry.NewLogger(stderr, cfg.Env, cfg.LogLevel),
		open:   jobstore.Open,
	}
	root := &cobra.Command{
		Use:           "jobctl",
		Short:         "Inspect and control tracked jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if c.store != nil {
				return nil
			}
			storeCfg := c.cfg.JobStore
			if c.storeURL != "" {
				storeCfg.URL = c.storeURL
			}
			st, err := c.open(cmd.Context(), storeCfg, c.logger)
			if err != nil {
				return err
			}
			c.store = st
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if c.store == nil {
				return nil
			}
			err := c.store.Close()
			c.store = nil
			return err
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&c.storeURL, "store", "", "job store URL (overrides JOB_STORE_URL and friends)")

	root.AddCommand(
		c.statusCmd(),
		c.pauseCmd(),
		c.resumeCmd(),
		c.createCmd(),
		c.simulateCmd(),
	)
	return root, c
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
