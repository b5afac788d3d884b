// Package environment describes the Python environment a suite runs in and
// prepares those environments before scheduling starts.
package environment

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/suitesched/suitesched/model"
	"github.com/suitesched/suitesched/supervisor"
	"github.com/suitesched/suitesched/termination"
)

// Environment wraps suite commands so they run inside the right interpreter.
type Environment interface {
	// WrapCommand returns the command line that runs args in the environment.
	WrapCommand(args []string) []string
	// Build prepares the environment. Environments that need no preparation
	// return EnvironmentBuildNotNeeded.
	Build(logger zerolog.Logger, flag *termination.Flag) (model.EnvironmentBuildStatus, error)
	// Key identifies environments that can share a single build.
	Key() string
	// AttemptFailed reports whether a wrapped command that exited with
	// exitCode failed in the environment itself rather than in robot.
	AttemptFailed(exitCode int, producedOutput bool) bool
}

// System runs commands with whatever robot installation is on the PATH.
type System struct{}

func (System) WrapCommand(args []string) []string {
	return args
}

func (System) Build(zerolog.Logger, *termination.Flag) (model.EnvironmentBuildStatus, error) {
	return model.EnvironmentBuildNotNeeded, nil
}

func (System) Key() string {
	return "system"
}

func (System) AttemptFailed(int, bool) bool {
	return false
}

// Rcc runs commands inside an RCC holotree environment described by a robot.yaml.
type Rcc struct {
	Binary       string
	RobotYAML    string
	Controller   string
	Space        string
	BuildTimeout time.Duration
}

func (r Rcc) commonArgs() []string {
	return []string{
		"--robot", r.RobotYAML,
		"--controller", r.Controller,
		"--space", r.Space,
	}
}

func (r Rcc) WrapCommand(args []string) []string {
	wrapped := []string{r.Binary, "task", "script"}
	wrapped = append(wrapped, r.commonArgs()...)
	wrapped = append(wrapped, "--")
	return append(wrapped, args...)
}

// Build resolves the holotree so that the first attempt does not pay for it.
func (r Rcc) Build(logger zerolog.Logger, flag *termination.Flag) (model.EnvironmentBuildStatus, error) {
	args := []string{"holotree", "variables", "--json"}
	args = append(args, r.commonArgs()...)
	cmd := exec.Command(r.Binary, args...)

	logger.Info().Str("robot_yaml", r.RobotYAML).Str("space", r.Space).Msg("Building rcc environment")
	outcome, err := supervisor.Run(logger, cmd, r.BuildTimeout, flag)
	if err != nil {
		return "", err
	}
	switch {
	case outcome.TimedOut:
		return model.EnvironmentBuildTimeout, nil
	case outcome.ExitCode != 0:
		logger.Warn().Int("exit_code", outcome.ExitCode).Str("robot_yaml", r.RobotYAML).Msg("Environment build failed")
		return model.EnvironmentBuildFailure, nil
	}
	logger.Info().Dur("duration", outcome.Runtime).Str("robot_yaml", r.RobotYAML).Msg("Environment built")
	return model.EnvironmentBuildSuccess, nil
}

// AttemptFailed attributes an exit code in robot's test failure range that
// came without any robot output to rcc. Robot always writes its output when
// it exits with a test failure count; its own errors use 251 and above.
func (r Rcc) AttemptFailed(exitCode int, producedOutput bool) bool {
	return exitCode > 0 && exitCode <= 250 && !producedOutput
}

func (r Rcc) Key() string {
	return strings.Join([]string{"rcc", r.RobotYAML, r.Controller, r.Space}, "|")
}

// Usable reports whether suites may be scheduled after a build with status s.
func Usable(s model.EnvironmentBuildStatus) bool {
	return s == model.EnvironmentBuildSuccess || s == model.EnvironmentBuildNotNeeded
}

func describe(env Environment) string {
	switch e := env.(type) {
	case System:
		return "system"
	case Rcc:
		return fmt.Sprintf("rcc (%s)", e.RobotYAML)
	default:
		return fmt.Sprintf("%T", env)
	}
}
