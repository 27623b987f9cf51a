package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"convertq/internal/preflight"
	"convertq/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the queue contents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withManager(cmd.Context(), func(m *queue.Manager) error {
				out := cmd.OutOrStdout()
				jobs := m.SortedFiles()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				colorize := shouldColorize(out)
				fmt.Fprintln(out, renderJobTable(jobs, colorize))
				fmt.Fprintln(out, renderStatsLine(m.Stats()))
				return nil
			})
		},
	}
}

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify binaries, directories, and disk space",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			results := preflight.RunAll(cfg)
			for _, result := range results {
				fmt.Fprintln(out, renderCheckLine(result.Name, result.Passed, result.Detail, colorize))
			}
			if !preflight.AllPassed(results) {
				return fmt.Errorf("preflight checks failed")
			}
			fmt.Fprintln(out, "All checks passed")
			return nil
		},
	}
}
