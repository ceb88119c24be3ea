package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"jobtracker/internal/jobstore"
	"jobtracker/internal/models"
	"jobtracker/internal/worker"
)

var errNotFound = errors.New("unknown job id")

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Print the snapshot of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, ok, err := c.store.GetStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", errNotFound, args[0])
			}
			return printJSON(cmd.OutOrStdout(), snap)
		},
	}
}

func (c *cli) pauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <job-id>",
		Short: "Ask a running job to pause at its next checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := c.store.Pause(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("job %s is unknown or already finished", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "paused %s\n", args[0])
			return nil
		},
	}
}

func (c *cli) resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <job-id>",
		Short: "Release a paused job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := c.store.Resume(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", errNotFound, args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resumed %s\n", args[0])
			return nil
		},
	}
}

func (c *cli) createCmd() *cobra.Command {
	var (
		description string
		meta        []string
	)
	cmd := &cobra.Command{
		Use:   "create <job-id>",
		Short: "Register a job in the queued state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			metadata, err := parseMeta(meta)
			if err != nil {
				return err
			}
			params := models.CreateParams{Description: description, Metadata: metadata}
			if err := c.store.CreateJob(cmd.Context(), args[0], params); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "human readable description")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "metadata entry as key=value (repeatable)")
	return cmd
}

// parseMeta turns key=value pairs into metadata; integer and boolean values keep their type.
func parseMeta(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --meta %q, want key=value", pair)
		}
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			out[key] = n
		} else if b, err := strconv.ParseBool(value); err == nil {
			out[key] = b
		} else {
			out[key] = value
		}
	}
	return out, nil
}

func (c *cli) simulateCmd() *cobra.Command {
	var (
		steps int
		delay time.Duration
		fail  bool
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the simulate workload inline and print its progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			jobID := uuid.NewString()
			job, err := jobstore.Initialise(ctx, c.store, jobID, models.CreateParams{Description: "simulate"})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s\n", jobID)
			if err := job.SetStatus(ctx, models.StatusRunning); err != nil {
				return err
			}

			payload := map[string]any{"steps": steps, "duration_ms": int(delay / time.Millisecond), "should_fail": fail}
			runErr := worker.Simulate(ctx, job, payload)
			if runErr != nil {
				if err := job.Fail(ctx, runErr); err != nil {
					return err
				}
			} else if err := job.SetStatus(ctx, models.StatusCompleted); err != nil {
				return err
			}

			snap, _, err := c.store.GetStatus(ctx, jobID)
			if err != nil {
				return err
			}
			for _, line := range snap.Log {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status %s\n", snap.Status)
			return runErr
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 10, "number of steps")
	cmd.Flags().DurationVar(&delay, "delay", 0, "sleep per step")
	cmd.Flags().BoolVar(&fail, "fail", false, "fail half way through")
	return cmd
}
