package history

// This file contains shared utilities for the reader side: enumerating past
// runs of a suite and loading published reports.

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/suitesched/suitesched/lock"
	"github.com/suitesched/suitesched/model"
	"github.com/suitesched/suitesched/section"
)

// Run is one output directory of a suite.
type Run struct {
	// Timestamp the run directory is named after
	Timestamp string
	// Full path of the run directory
	Path string
	// Robot output files of the attempts, in attempt order
	Outputs []string
	// Whether the merge step produced an output
	Merged bool
	// Total size of all files in the run directory
	Size int64
	// Modification time of the newest file in the run directory
	ModTime time.Time
}

// LoadRuns returns the runs below a suite working directory, newest first.
func LoadRuns(logger zerolog.Logger, workingDirectory string) ([]Run, error) {
	entries, err := os.ReadDir(workingDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite working directory %s: %w", workingDirectory, err)
	}

	var runs []Run
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		run, err := loadRun(filepath.Join(workingDirectory, entry.Name()))
		if err != nil {
			logger.Warn().Err(err).Str("path", entry.Name()).Msg("Failed to inspect run directory")
			continue
		}
		runs = append(runs, run)
	}

	// Timestamps are fixed width, so lexical order is chronological.
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Timestamp > runs[j].Timestamp
	})
	return runs, nil
}

func loadRun(path string) (Run, error) {
	run := Run{
		Timestamp: filepath.Base(path),
		Path:      path,
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return run, err
	}
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return run, err
		}
		run.Size += info.Size()
		if info.ModTime().After(run.ModTime) {
			run.ModTime = info.ModTime()
		}

		name := entry.Name()
		switch {
		case name == "rebot.xml":
			run.Merged = true
		case strings.HasSuffix(name, ".xml"):
			run.Outputs = append(run.Outputs, name)
		}
	}
	sort.Slice(run.Outputs, func(i, j int) bool {
		return attemptNumber(run.Outputs[i]) < attemptNumber(run.Outputs[j])
	})
	return run, nil
}

func attemptNumber(name string) int {
	var n int
	fmt.Sscanf(strings.TrimSuffix(name, ".xml"), "%d", &n)
	return n
}

// Report is a published suite report together with the host it belongs to.
type Report struct {
	Host   model.Host
	Report model.SuiteExecutionReport
	Path   string
}

// LoadReports reads every suite results file in dir, each under a read lock.
// Files that fail to parse are logged and skipped.
func LoadReports(logger zerolog.Logger, dir string, locker lock.Locker) ([]Report, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list results in %s: %w", dir, err)
	}
	sort.Strings(paths)

	var reports []Report
	for _, path := range paths {
		report, err := LoadReport(path, locker)
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Failed to load suite report")
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// LoadReport reads a single suite results file under a read lock.
func LoadReport(path string, locker lock.Locker) (Report, error) {
	sec, err := section.Read(path, locker)
	if err != nil {
		return Report{}, err
	}
	if sec.Name != section.SuiteExecutionReport {
		return Report{}, fmt.Errorf("%s holds a %s section", path, sec.Name)
	}

	report := Report{Host: sec.Host, Path: path}
	if err := sec.Decode(&report.Report); err != nil {
		return Report{}, err
	}
	return report, nil
}
