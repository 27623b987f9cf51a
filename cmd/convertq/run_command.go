package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"convertq/internal/preflight"
	"convertq/internal/queue"
)

const runPollInterval = 500 * time.Millisecond

func newRunCommand(ctx *commandContext) *cobra.Command {
	var flags settingsFlags
	var outputDir string
	var skipChecks bool

	cmd := &cobra.Command{
		Use:   "run [file...]",
		Short: "Convert queued files and wait for the queue to drain",
		Long: "Run adds any files given on the command line, starts every pending job, " +
			"and blocks until all conversions finish. Interrupting the run cancels " +
			"active conversions and leaves the rest pending.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			if !skipChecks {
				results := preflight.RunAll(cfg)
				if !preflight.AllPassed(results) {
					for _, result := range results {
						if !result.Passed {
							fmt.Fprintln(out, renderCheckLine(result.Name, result.Passed, result.Detail, colorize))
						}
					}
					return fmt.Errorf("preflight checks failed; run `convertq check` for details")
				}
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return ctx.withManager(runCtx, func(m *queue.Manager) error {
				if dir := strings.TrimSpace(outputDir); dir != "" {
					m.SetOutputDir(dir)
				}
				if m.OutputDir() == "" {
					return fmt.Errorf("no output directory; pass --output-dir or set paths.output_dir in the config")
				}

				if len(args) > 0 {
					format, settings, err := flags.settings()
					if err != nil {
						return err
					}
					outcome := m.AddFiles(runCtx, args, format, settings)
					reportOutcome(cmd, outcome)
				}

				if m.Stats().Pending == 0 {
					fmt.Fprintln(out, "Nothing to convert")
					return nil
				}

				m.StartAll(runCtx)
				return waitForDrain(runCtx, cmd, m, colorize)
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Directory for converted files")
	cmd.Flags().BoolVar(&skipChecks, "skip-checks", false, "Skip preflight checks")
	return cmd
}

// waitForDrain pumps pending jobs into freed slots and blocks until nothing
// is pending or processing. Cancellation drains active conversions before
// returning.
func waitForDrain(ctx context.Context, cmd *cobra.Command, m *queue.Manager, colorize bool) error {
	out := cmd.OutOrStdout()
	ticker := time.NewTicker(runPollInterval)
	defer ticker.Stop()

	var lastLine string

	for {
		select {
		case <-ctx.Done():
			if colorize && lastLine != "" {
				fmt.Fprintln(out)
			}
			fmt.Fprintln(out, "Interrupted; cancelling active conversions")
			m.CancelAll(context.Background())
			return ctx.Err()
		case <-ticker.C:
		}

		stats := m.Stats()
		if stats.Pending > 0 {
			if m.StartAll(ctx) == 0 && stats.Processing == 0 {
				// Every remaining pending job refused to start.
				if colorize && lastLine != "" {
					fmt.Fprintln(out)
					lastLine = ""
				}
				reportUnstartable(cmd, m)
				break
			}
		}

		stats = m.Stats()
		if stats.Pending == 0 && stats.Processing == 0 {
			if colorize && lastLine != "" {
				fmt.Fprintln(out)
			}
			break
		}

		if colorize {
			line := progressLine(m)
			if line != lastLine {
				fmt.Fprintf(out, "\r\x1b[K%s", line)
				lastLine = line
			}
		}
	}

	jobs := m.SortedFiles()
	fmt.Fprintln(out, renderJobTable(jobs, colorize))
	stats := m.Stats()
	fmt.Fprintln(out, renderStatsLine(stats))
	if stats.Failed > 0 {
		return fmt.Errorf("%d conversions failed", stats.Failed)
	}
	return nil
}

func progressLine(m *queue.Manager) string {
	var active []string
	for _, job := range m.SortedFiles() {
		if job.Status != queue.StatusProcessing {
			continue
		}
		active = append(active, fmt.Sprintf("%s %s", job.DisplayName, formatPercent(job)))
	}
	stats := m.Stats()
	summary := fmt.Sprintf("%d/%d done", stats.Completed+stats.Failed+stats.Cancelled, stats.Total)
	if len(active) == 0 {
		return summary
	}
	return summary + " | " + strings.Join(active, " | ")
}

func reportUnstartable(cmd *cobra.Command, m *queue.Manager) {
	out := cmd.OutOrStdout()
	for _, job := range m.SortedFiles() {
		if job.Status == queue.StatusPending {
			fmt.Fprintf(out, "Cannot start %s (%s)\n", job.DisplayName, shortID(job.ID))
		}
	}
}
