package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"convertq/internal/queue"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	var flags settingsFlags

	cmd := &cobra.Command{
		Use:   "add <file> [file...]",
		Short: "Add files to the conversion queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, settings, err := flags.settings()
			if err != nil {
				return err
			}
			return ctx.withManager(cmd.Context(), func(m *queue.Manager) error {
				outcome := m.AddFiles(cmd.Context(), args, format, settings)
				reportOutcome(cmd, outcome)
				if len(outcome.Added) == 0 {
					return fmt.Errorf("no files were queued")
				}
				return nil
			})
		},
	}

	flags.register(cmd)
	return cmd
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	var retryFailed bool

	cmd := &cobra.Command{
		Use:   "retry [id...]",
		Short: "Return finished jobs to the pending state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !retryFailed {
				return fmt.Errorf("specify job ids or --failed")
			}
			return ctx.withManager(cmd.Context(), func(m *queue.Manager) error {
				ids := make([]string, 0, len(args))
				for _, arg := range args {
					id, err := resolveJobID(m, arg)
					if err != nil {
						return err
					}
					ids = append(ids, id)
				}
				if retryFailed {
					for _, job := range m.SortedFiles() {
						if job.Status == queue.StatusFailed {
							ids = append(ids, job.ID)
						}
					}
				}
				retried := 0
				for _, id := range ids {
					if err := m.RetryFile(id); err != nil {
						return fmt.Errorf("retry %s: %w", shortID(id), err)
					}
					retried++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Returned %d jobs to pending\n", retried)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&retryFailed, "failed", false, "Retry every failed job")
	return cmd
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id> [id...]",
		Short: "Remove jobs from the queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withManager(cmd.Context(), func(m *queue.Manager) error {
				for _, arg := range args {
					id, err := resolveJobID(m, arg)
					if err != nil {
						return err
					}
					if err := m.RemoveFile(cmd.Context(), id); err != nil {
						return fmt.Errorf("remove %s: %w", shortID(id), err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", shortID(id))
				}
				return nil
			})
		},
	}
}

func newClearCommand(ctx *commandContext) *cobra.Command {
	var clearCompleted bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove queued jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withManager(cmd.Context(), func(m *queue.Manager) error {
				out := cmd.OutOrStdout()
				if clearCompleted {
					removed := m.ClearCompleted()
					fmt.Fprintf(out, "Cleared %d completed jobs\n", removed)
					return nil
				}
				removed := m.ClearAll(cmd.Context())
				fmt.Fprintf(out, "Cleared %d jobs\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearCompleted, "completed", false, "Remove only completed jobs")
	return cmd
}

func newOutputDirCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "output-dir [path]",
		Short: "Show or set the remembered output directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withManager(cmd.Context(), func(m *queue.Manager) error {
				out := cmd.OutOrStdout()
				if len(args) == 0 {
					dir := m.OutputDir()
					if dir == "" {
						fmt.Fprintln(out, "No output directory set")
						return nil
					}
					fmt.Fprintln(out, dir)
					return nil
				}
				dir := strings.TrimSpace(args[0])
				if dir == "" {
					return fmt.Errorf("output directory must not be empty")
				}
				m.SetOutputDir(dir)
				fmt.Fprintf(out, "Output directory set to %s\n", m.OutputDir())
				return nil
			})
		},
	}
}
