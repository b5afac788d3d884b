package scheduling

// This file contains the suite execution engine: one run of a suite, from
// creating its output directory to publishing its report.

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/suitesched/suitesched/attempt"
	"github.com/suitesched/suitesched/config"
	"github.com/suitesched/suitesched/metrics"
	"github.com/suitesched/suitesched/model"
	"github.com/suitesched/suitesched/section"
	"github.com/suitesched/suitesched/termination"
)

// TimestampFormat names run directories and report timestamps. It is fixed
// width so that lexical order matches chronological order.
const TimestampFormat = "2006-01-02T15.04.05.000000000"

// ErrReportingFailed marks runs whose attempts completed but whose report
// could not be published.
var ErrReportingFailed = errors.New("reporting suite results failed")

// AttemptsFunc runs the attempts of one suite run and merges their outputs.
type AttemptsFunc func(logger zerolog.Logger, req attempt.Request) ([]model.AttemptReport, *model.RebotOutcome, error)

// Runner executes single suite runs.
type Runner struct {
	logger   zerolog.Logger
	attempts AttemptsFunc
	now      func() time.Time
}

// NewRunner returns a Runner that executes attempts with attempt.RunWithRebot.
func NewRunner(logger zerolog.Logger) *Runner {
	return &Runner{
		logger:   logger,
		attempts: attempt.RunWithRebot,
		now:      time.Now,
	}
}

// RunSuite runs suite once and writes its report to the suite's results
// file. Errors wrapping termination.ErrTerminated mean the run was abandoned
// without writing a report; errors wrapping ErrReportingFailed mean the
// attempts ran but their report was not published.
func (r *Runner) RunSuite(suite *config.Suite) error {
	logger := r.logger.With().Str("suite", suite.ID).Logger()
	logger.Info().Msg("Running suite")

	report, err := r.produceSuiteResults(logger, suite)
	if err != nil {
		return err
	}

	if err := section.Write(suite.ResultsFile, suite.Host, suite.ResultsDirectoryLocker, section.SuiteExecutionReport, report); err != nil {
		return fmt.Errorf("%w: %w", ErrReportingFailed, err)
	}
	metrics.RecordReport(report)

	logger.Info().
		Int("attempts", len(report.Attempts)).
		Bool("passed", report.Passed()).
		Msg("Suite finished")
	return nil
}

func (r *Runner) produceSuiteResults(logger zerolog.Logger, suite *config.Suite) (*model.SuiteExecutionReport, error) {
	timestamp := r.now().UTC().Format(TimestampFormat)
	outputDirectory := filepath.Join(suite.WorkingDirectory, timestamp)

	if err := os.MkdirAll(outputDirectory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for suite run: %s: %w", outputDirectory, err)
	}
	logger.Debug().Str("output_directory", outputDirectory).Msg("Created output directory")

	attempts, rebot, err := r.attempts(logger, attempt.Request{
		Robot:           suite.Robot,
		SuiteID:         suite.ID,
		Environment:     suite.Environment,
		Session:         suite.Session,
		Timeout:         suite.Timeout,
		Flag:            suite.TerminationFlag,
		OutputDirectory: outputDirectory,
	})
	if err != nil {
		if errors.Is(err, termination.ErrTerminated) {
			return nil, fmt.Errorf("received termination signal while running suite: %w", err)
		}
		return nil, fmt.Errorf("failed to run attempts of suite %s: %w", suite.ID, err)
	}
	if len(attempts) == 0 || len(attempts) > suite.Robot.NAttemptsMax {
		return nil, fmt.Errorf("suite %s produced %d attempts, expected between 1 and %d",
			suite.ID, len(attempts), suite.Robot.NAttemptsMax)
	}

	return &model.SuiteExecutionReport{
		SuiteID:   suite.ID,
		Timestamp: timestamp,
		Attempts:  attempts,
		Rebot:     rebot,
		Config:    suite.AttemptsConfig(),
	}, nil
}
