package cli

// This file contains the report command for displaying published suite reports.

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/urfave/cli/v2"

	"github.com/suitesched/suitesched/config"
	"github.com/suitesched/suitesched/history"
	"github.com/suitesched/suitesched/termination"
)

func (a *App) report(ctx *cli.Context) error {
	conf, err := config.Load(ctx.String("config"))
	if err != nil {
		return fmt.Errorf("configuration loading failed: %w", err)
	}

	flag := termination.Start(a.logger)
	global, _ := conf.ToInternal(flag)
	dir := global.SuitesResultsDirectory()
	suiteID := ctx.String("suite")

	reports, err := history.LoadReports(a.logger, dir, global.ResultsDirectoryLocker)
	if err != nil {
		return a.finish(err)
	}
	reports = filterReports(reports, suiteID)

	if len(reports) == 0 && !ctx.Bool("follow") {
		fmt.Printf("No reports found in %s\n", dir)
		return nil
	}
	for _, report := range reports {
		printReport(os.Stdout, report)
	}

	if !ctx.Bool("follow") {
		return nil
	}
	return a.finish(a.follow(global, suiteID, flag))
}

// follow prints every suite report published to the results directory until
// the flag is raised.
func (a *App) follow(global config.GlobalConfig, suiteID string, flag *termination.Flag) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := global.SuitesResultsDirectory()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	a.logger.Info().Str("path", dir).Msg("Waiting for new reports")

	for {
		select {
		case <-flag.Done():
			return termination.ErrTerminated
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn().Err(err).Msg("Watcher error")
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isPublished(event) {
				continue
			}
			report, err := history.LoadReport(event.Name, global.ResultsDirectoryLocker)
			if err != nil {
				a.logger.Warn().Err(err).Str("path", event.Name).Msg("Failed to load suite report")
				continue
			}
			if len(filterReports([]history.Report{report}, suiteID)) == 0 {
				continue
			}
			printReport(os.Stdout, report)
		}
	}
}

// isPublished reports whether event marks a results file being put in place.
// Results are renamed into the directory, which shows up as a create.
func isPublished(event fsnotify.Event) bool {
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write)
}

func filterReports(reports []history.Report, suiteID string) []history.Report {
	if suiteID == "" {
		return reports
	}
	var filtered []history.Report
	for _, report := range reports {
		if report.Report.SuiteID == suiteID {
			filtered = append(filtered, report)
		}
	}
	return filtered
}

func printReport(w io.Writer, report history.Report) {
	r := report.Report

	// Determine status indicator
	status := "✓"
	if !r.Passed() {
		status = "✗"
	}

	host := report.Host.Piggyback
	if host == "" {
		host = "local"
	}

	fmt.Fprintf(w, "%s  %s  %s  host=%s  attempts=%d/%d\n", status, r.SuiteID, r.Timestamp, host, len(r.Attempts), r.Config.NAttemptsMax)
	for _, attempt := range r.Attempts {
		fmt.Fprintf(w, "   #%d  %-18s  %6.1fs", attempt.Index, attempt.Outcome, attempt.Runtime)
		if attempt.Error != "" {
			fmt.Fprintf(w, "  %s", attempt.Error)
		}
		fmt.Fprintln(w)
	}
	switch {
	case r.Rebot == nil:
		fmt.Fprintln(w, "   rebot: not run")
	case r.Rebot.Error != "":
		fmt.Fprintf(w, "   rebot: %s\n", r.Rebot.Error)
	default:
		fmt.Fprintf(w, "   rebot: passed=%t\n", r.Rebot.Result.Passed)
	}
	fmt.Fprintf(w, "   %s\n\n", report.Path)
}
