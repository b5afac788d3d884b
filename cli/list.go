package cli

// This file contains the list command for displaying previous runs of a suite.

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/urfave/cli/v2"

	"github.com/suitesched/suitesched/config"
	"github.com/suitesched/suitesched/history"
)

func (a *App) list(ctx *cli.Context) error {
	suiteID := ctx.String("suite")
	limit := ctx.Int("limit")

	conf, err := config.Load(ctx.String("config"))
	if err != nil {
		return fmt.Errorf("configuration loading failed: %w", err)
	}

	_, suites := conf.ToInternal(nil)
	var suite *config.Suite
	for i := range suites {
		if suites[i].ID == suiteID {
			suite = &suites[i]
		}
	}
	if suite == nil {
		return fmt.Errorf("suite %q is not configured", suiteID)
	}

	runs, err := history.LoadRuns(a.logger, suite.WorkingDirectory)
	if err != nil {
		return fmt.Errorf("failed to load runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Printf("No runs found for suite %s\n", suiteID)
		fmt.Printf("Runs are saved to %s/<timestamp>/\n", suite.WorkingDirectory)
		return nil
	}

	// Apply limit
	displayRuns := runs
	if limit > 0 && limit < len(displayRuns) {
		displayRuns = displayRuns[:limit]
	}

	fmt.Print(formatRuns(fmt.Sprintf("Runs of %s (%d total)", suiteID, len(runs)), displayRuns, time.Now()))
	fmt.Println("\nView console output: cat <path>/<attempt>.stdout.txt")
	fmt.Println("View merged log: open <path>/rebot.html")

	return nil
}

// formatRuns renders runs as a table. Ages are relative to now.
func formatRuns(title string, runs []history.Run, now time.Time) string {
	var buf bytes.Buffer

	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.SetTitle(title)
	t.AppendHeader(table.Row{"", "Timestamp", "Attempts", "Outputs", "Size", "Last write", "Path"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Attempts", Align: text.AlignRight},
		{Name: "Size", Align: text.AlignRight},
		{Name: "Path", WidthMax: 120, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, run := range runs {
		// Determine status indicator
		status := "✓"
		if !run.Merged {
			status = "✗"
		}

		lastWrite := "-"
		if !run.ModTime.IsZero() {
			lastWrite = humanize.RelTime(run.ModTime, now, "ago", "from now")
		}

		t.AppendRow(table.Row{
			status,
			run.Timestamp,
			len(run.Outputs),
			strings.Join(run.Outputs, " "),
			humanize.Bytes(uint64(run.Size)),
			lastWrite,
			run.Path,
		})
	}

	t.SetStyle(table.StyleLight)
	t.Render()
	return buf.String()
}
