package scheduling

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/suitesched/suitesched/config"
	"github.com/suitesched/suitesched/metrics"
	"github.com/suitesched/suitesched/termination"
)

// SuiteRunner runs a suite once.
type SuiteRunner interface {
	RunSuite(suite *config.Suite) error
}

// Scheduler runs every suite at its execution interval until the
// termination flag is raised.
type Scheduler struct {
	logger zerolog.Logger
	runner SuiteRunner
	flag   *termination.Flag
}

func NewScheduler(logger zerolog.Logger, runner SuiteRunner, flag *termination.Flag) *Scheduler {
	return &Scheduler{
		logger: logger,
		runner: runner,
		flag:   flag,
	}
}

// Run blocks until the flag is raised and all in-flight runs have unwound.
// It always returns an error wrapping termination.ErrTerminated.
func (s *Scheduler) Run(suites []config.Suite) error {
	var g errgroup.Group
	for i := range suites {
		suite := &suites[i]
		g.Go(func() error {
			s.loop(suite)
			return nil
		})
	}
	_ = g.Wait()

	return fmt.Errorf("suite scheduling stopped: %w", termination.ErrTerminated)
}

// loop runs suite immediately and then on every tick. Ticks that elapse
// while a run is still in progress are dropped.
func (s *Scheduler) loop(suite *config.Suite) {
	logger := s.logger.With().Str("suite", suite.ID).Logger()
	logger.Info().Dur("interval", suite.ExecutionInterval).Msg("Scheduling suite")

	ticker := time.NewTicker(suite.ExecutionInterval)
	defer ticker.Stop()

	for {
		if s.flag.IsRaised() {
			break
		}
		s.runOnce(logger, suite)

		// A tick buffered during an overlong run is stale.
		select {
		case <-ticker.C:
			logger.Warn().Dur("interval", suite.ExecutionInterval).Msg("Suite run exceeded its interval, skipping tick")
		default:
		}

		select {
		case <-ticker.C:
		case <-s.flag.Done():
		}
	}
	logger.Info().Msg("Stopped scheduling suite")
}

func (s *Scheduler) runOnce(logger zerolog.Logger, suite *config.Suite) {
	err := s.runner.RunSuite(suite)
	switch {
	case err == nil:
		metrics.RecordRun(suite.ID, metrics.RunPublished)
	case errors.Is(err, termination.ErrTerminated):
		metrics.RecordRun(suite.ID, metrics.RunTerminated)
		logger.Info().Msg("Suite run interrupted by termination signal")
	case errors.Is(err, ErrReportingFailed):
		metrics.RecordRun(suite.ID, metrics.RunReportingFailed)
		logger.Error().Err(err).Msg("Suite ran but its results could not be published")
	default:
		metrics.RecordRun(suite.ID, metrics.RunFailed)
		logger.Error().Err(err).Msg("Suite run failed")
	}
}
