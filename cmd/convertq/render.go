package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"convertq/internal/queue"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiCyan   = "\x1b[36m"
)

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func statusColor(status queue.Status) string {
	switch status {
	case queue.StatusProcessing:
		return ansiCyan
	case queue.StatusCompleted:
		return ansiGreen
	case queue.StatusFailed:
		return ansiRed
	case queue.StatusCancelled:
		return ansiYellow
	default:
		return ""
	}
}

func renderStatus(status queue.Status, colorize bool) string {
	label := string(status)
	if !colorize {
		return label
	}
	color := statusColor(status)
	if color == "" {
		return label
	}
	return color + label + ansiReset
}

func renderCheckLine(name string, passed bool, detail string, colorize bool) string {
	state := "OK"
	color := ansiGreen
	if !passed {
		state = "FAIL"
		color = ansiRed
	}
	line := fmt.Sprintf("  %-24s [%s]", name+":", state)
	if detail != "" {
		line += " " + detail
	}
	if colorize {
		return color + line + ansiReset
	}
	return line
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatPercent(job queue.Job) string {
	if job.Progress == nil {
		if job.Status == queue.StatusCompleted {
			return "100%"
		}
		return ""
	}
	return fmt.Sprintf("%.0f%%", job.Progress.Percent)
}

func formatETA(job queue.Job) string {
	if job.Progress == nil || job.Progress.ETASeconds <= 0 {
		return ""
	}
	return (time.Duration(job.Progress.ETASeconds) * time.Second).String()
}

func jobRows(jobs []queue.Job, colorize bool) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		detail := job.ErrorMessage
		if detail == "" {
			detail = formatETA(job)
		}
		rows = append(rows, []string{
			shortID(job.ID),
			job.DisplayName,
			strings.ToUpper(job.OutputFormat),
			renderStatus(job.Status, colorize),
			formatPercent(job),
			detail,
		})
	}
	return rows
}

func renderJobTable(jobs []queue.Job, colorize bool) string {
	return renderTable(
		[]string{"ID", "Name", "Format", "Status", "Progress", "Detail"},
		jobRows(jobs, colorize),
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}

func renderStatsLine(stats queue.Stats) string {
	return fmt.Sprintf("%d total: %d pending, %d processing, %d completed, %d failed, %d cancelled",
		stats.Total, stats.Pending, stats.Processing, stats.Completed, stats.Failed, stats.Cancelled)
}
