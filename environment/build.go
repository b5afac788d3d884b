package environment

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/suitesched/suitesched/model"
	"github.com/suitesched/suitesched/termination"
)

// Target pairs a suite with the environment it runs in.
type Target struct {
	SuiteID     string
	Environment Environment
}

// BuildAll builds every distinct environment once and returns the build
// status per suite. Build failures are recorded, not returned; only a raised
// termination flag aborts the loop.
func BuildAll(logger zerolog.Logger, targets []Target, flag *termination.Flag) (model.EnvironmentBuildStates, error) {
	states := make(model.EnvironmentBuildStates, len(targets))
	built := make(map[string]model.EnvironmentBuildStatus)

	for _, target := range targets {
		log := logger.With().Str("suite", target.SuiteID).Logger()
		if flag.IsRaised() {
			states[target.SuiteID] = model.EnvironmentBuildTerminated
			continue
		}

		key := target.Environment.Key()
		if status, ok := built[key]; ok {
			log.Debug().Str("environment", describe(target.Environment)).Msg("Reusing environment build")
			states[target.SuiteID] = status
			continue
		}

		status, err := target.Environment.Build(log, flag)
		if err != nil {
			if errors.Is(err, termination.ErrTerminated) {
				status = model.EnvironmentBuildTerminated
			} else {
				log.Error().Err(err).Str("environment", describe(target.Environment)).Msg("Environment build failed")
				status = model.EnvironmentBuildFailure
			}
		}
		built[key] = status
		states[target.SuiteID] = status
	}

	if flag.IsRaised() {
		return states, fmt.Errorf("environment building interrupted: %w", termination.ErrTerminated)
	}
	return states, nil
}
