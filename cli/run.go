package cli

// This file contains the run and once commands, which drive suites through
// setup, environment building and execution.

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/suitesched/suitesched/config"
	"github.com/suitesched/suitesched/environment"
	"github.com/suitesched/suitesched/metrics"
	"github.com/suitesched/suitesched/model"
	"github.com/suitesched/suitesched/scheduling"
	"github.com/suitesched/suitesched/section"
	"github.com/suitesched/suitesched/setup"
	"github.com/suitesched/suitesched/termination"
)

func (a *App) prepare(ctx *cli.Context) (config.GlobalConfig, []config.Suite, *termination.Flag, error) {
	conf, err := config.Load(ctx.String("config"))
	if err != nil {
		return config.GlobalConfig{}, nil, nil, fmt.Errorf("configuration loading failed: %w", err)
	}
	a.logger.Debug().Int("suites", len(conf.Suites)).Msg("Configuration loaded")

	flag := termination.Start(a.logger)
	global, suites := conf.ToInternal(flag)

	if err := setup.Setup(a.logger, global, suites); err != nil {
		return global, nil, flag, fmt.Errorf("setup failed: %w", err)
	}
	return global, suites, flag, nil
}

func (a *App) run(ctx *cli.Context) error {
	global, suites, flag, err := a.prepare(ctx)
	if err != nil {
		return err
	}

	suites, err = a.buildEnvironments(global, suites)
	if err != nil {
		return a.finish(err)
	}

	if addr := ctx.String("metrics-addr"); addr != "" {
		server := metrics.NewServer(a.logger, addr)
		server.Start()
		defer func() {
			if err := server.Stop(); err != nil {
				a.logger.Warn().Err(err).Msg("Failed to stop metrics server")
			}
		}()
	}

	a.logger.Info().Int("suites", len(suites)).Msg("Starting suite scheduling")
	scheduler := scheduling.NewScheduler(a.logger, scheduling.NewRunner(a.logger), flag)
	return a.finish(scheduler.Run(suites))
}

func (a *App) once(ctx *cli.Context) error {
	suiteID := ctx.String("suite")
	global, suites, _, err := a.prepare(ctx)
	if err != nil {
		return err
	}

	var selected []config.Suite
	for _, suite := range suites {
		if suite.ID == suiteID {
			selected = append(selected, suite)
		}
	}
	if len(selected) == 0 {
		return fmt.Errorf("suite %q is not configured", suiteID)
	}

	selected, err = a.buildEnvironments(global, selected)
	if err != nil {
		return a.finish(err)
	}
	return a.finish(scheduling.NewRunner(a.logger).RunSuite(&selected[0]))
}

// buildEnvironments builds the environments of suites, publishes the build
// states and returns the suites whose environment is usable.
func (a *App) buildEnvironments(global config.GlobalConfig, suites []config.Suite) ([]config.Suite, error) {
	a.logger.Info().Msg("Starting environment building")

	targets := make([]environment.Target, 0, len(suites))
	for _, suite := range suites {
		targets = append(targets, environment.Target{SuiteID: suite.ID, Environment: suite.Environment})
	}

	states, err := environment.BuildAll(a.logger, targets, global.TerminationFlag)
	if err != nil {
		return nil, err
	}
	metrics.RecordEnvironmentBuilds(states)

	if err := section.Write(
		global.EnvironmentBuildStatesFile(),
		model.Host{},
		global.ResultsDirectoryLocker,
		section.EnvironmentBuildStates,
		states,
	); err != nil {
		return nil, fmt.Errorf("reporting environment build states failed: %w", err)
	}

	var usable []config.Suite
	for _, suite := range suites {
		if environment.Usable(states[suite.ID]) {
			usable = append(usable, suite)
			continue
		}
		a.logger.Warn().
			Str("suite", suite.ID).
			Str("status", string(states[suite.ID])).
			Msg("Dropping suite, environment not usable")
	}
	a.logger.Info().Int("usable", len(usable)).Msg("Environment building finished")

	if len(usable) == 0 {
		return nil, errors.New("no suite has a usable environment")
	}
	return usable, nil
}
