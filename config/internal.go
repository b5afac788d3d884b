package config

import (
	"path/filepath"
	"sort"
	"time"

	"github.com/suitesched/suitesched/attempt"
	"github.com/suitesched/suitesched/environment"
	"github.com/suitesched/suitesched/lock"
	"github.com/suitesched/suitesched/model"
	"github.com/suitesched/suitesched/session"
	"github.com/suitesched/suitesched/termination"
)

const rccController = "suitesched"

// GlobalConfig holds the settings shared by all suites.
type GlobalConfig struct {
	WorkingDirectory       string
	ResultsDirectory       string
	ResultsDirectoryLocker lock.Locker
	TerminationFlag        *termination.Flag
}

// LockFile is the backing file of the results-directory lock.
func (g GlobalConfig) LockFile() string {
	return LockFile(g.ResultsDirectory)
}

// SuitesResultsDirectory holds one results file per suite.
func (g GlobalConfig) SuitesResultsDirectory() string {
	return filepath.Join(g.ResultsDirectory, "suites")
}

// EnvironmentBuildStatesFile is where environment build results are published.
func (g GlobalConfig) EnvironmentBuildStatesFile() string {
	return filepath.Join(g.ResultsDirectory, "environment_build_states.json")
}

// LockFile returns the lock backing file of the given results directory.
func LockFile(resultsDirectory string) string {
	return filepath.Join(resultsDirectory, ".lock")
}

// Suite is a fully resolved suite, ready to be scheduled.
type Suite struct {
	ID                     string
	WorkingDirectory       string
	ResultsFile            string
	ExecutionInterval      time.Duration
	Timeout                time.Duration
	Robot                  attempt.Robot
	Environment            environment.Environment
	Session                session.Session
	Host                   model.Host
	ResultsDirectoryLocker lock.Locker
	TerminationFlag        *termination.Flag
}

// AttemptsConfig returns the scheduling policy recorded in reports.
func (s *Suite) AttemptsConfig() model.AttemptsConfig {
	return model.AttemptsConfig{
		Interval:     uint64(s.ExecutionInterval / time.Second),
		Timeout:      uint64(s.Timeout / time.Second),
		NAttemptsMax: s.Robot.NAttemptsMax,
	}
}

// ToInternal resolves c into the global config and the suites sorted by ID.
// All suites share one results-directory Locker tied to flag.
func (c *Config) ToInternal(flag *termination.Flag) (GlobalConfig, []Suite) {
	global := GlobalConfig{
		WorkingDirectory:       c.WorkingDirectory,
		ResultsDirectory:       c.ResultsDirectory,
		ResultsDirectoryLocker: lock.NewLocker(LockFile(c.ResultsDirectory), flag),
		TerminationFlag:        flag,
	}

	suites := make([]Suite, 0, len(c.Suites))
	for _, id := range sortedIDs(c.Suites) {
		s := c.Suites[id]
		strategy := s.Robot.RetryStrategy
		if strategy == "" {
			strategy = attempt.RetryComplete
		}
		suites = append(suites, Suite{
			ID:                id,
			WorkingDirectory:  filepath.Join(c.WorkingDirectory, "suites", id),
			ResultsFile:       filepath.Join(global.SuitesResultsDirectory(), id+".json"),
			ExecutionInterval: time.Duration(s.Execution.ExecutionIntervalSeconds) * time.Second,
			Timeout:           time.Duration(s.Execution.TimeoutSeconds) * time.Second,
			Robot: attempt.Robot{
				Target:          s.Robot.RobotTarget,
				CommandLineArgs: s.Robot.CommandLineArgs,
				NAttemptsMax:    s.Robot.NAttemptsMax,
				RetryStrategy:   strategy,
				RobotExecutable: s.Robot.RobotExecutable,
				RebotExecutable: s.Robot.RebotExecutable,
			},
			Environment:            c.environment(id, s.Environment),
			Session:                s.Session,
			Host:                   s.Host,
			ResultsDirectoryLocker: global.ResultsDirectoryLocker,
			TerminationFlag:        flag,
		})
	}
	return global, suites
}

func (c *Config) environment(id string, e EnvironmentConfig) environment.Environment {
	if e.Type != EnvironmentRcc {
		return environment.System{}
	}
	return environment.Rcc{
		Binary:       c.RccBinaryPath,
		RobotYAML:    e.RobotYAMLPath,
		Controller:   rccController,
		Space:        id,
		BuildTimeout: time.Duration(e.BuildTimeoutSeconds) * time.Second,
	}
}

func sortedIDs(suites map[string]SuiteConfig) []string {
	ids := make([]string, 0, len(suites))
	for id := range suites {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
