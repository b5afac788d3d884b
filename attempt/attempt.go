package attempt

// This file contains the attempt loop: it runs a suite up to the configured
// number of times and merges whatever the attempts produced.

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/suitesched/suitesched/environment"
	"github.com/suitesched/suitesched/model"
	"github.com/suitesched/suitesched/session"
	"github.com/suitesched/suitesched/supervisor"
	"github.com/suitesched/suitesched/termination"
)

// RetryStrategy selects what later attempts re-execute.
type RetryStrategy string

const (
	// RetryComplete re-runs the whole suite on every attempt.
	RetryComplete RetryStrategy = "complete"
	// RetryIncremental re-runs only the tests that failed in the previous attempt.
	RetryIncremental RetryStrategy = "incremental"
)

// Robot configures how a suite is executed.
type Robot struct {
	Target          string
	CommandLineArgs []string
	NAttemptsMax    int
	RetryStrategy   RetryStrategy
	// Executables, looked up on PATH when not absolute
	RobotExecutable string
	RebotExecutable string
}

// Request holds everything a single run of attempts needs.
type Request struct {
	Robot           Robot
	SuiteID         string
	Environment     environment.Environment
	Session         session.Session
	Timeout         time.Duration
	Flag            *termination.Flag
	OutputDirectory string
}

// RunWithRebot executes up to Robot.NAttemptsMax attempts, stopping at the
// first attempt in which all tests passed, and merges the produced outputs.
// It returns an error wrapping termination.ErrTerminated if the flag was
// raised before or during an attempt.
func RunWithRebot(logger zerolog.Logger, req Request) ([]model.AttemptReport, *model.RebotOutcome, error) {
	if req.Robot.NAttemptsMax < 1 {
		return nil, nil, fmt.Errorf("suite %s: at least one attempt is required, got %d", req.SuiteID, req.Robot.NAttemptsMax)
	}

	var reports []model.AttemptReport
	var outputs []string
	previousOutput := ""

	for index := 1; index <= req.Robot.NAttemptsMax; index++ {
		if req.Flag != nil && req.Flag.IsRaised() {
			return nil, nil, termination.ErrTerminated
		}

		log := logger.With().Int("attempt", index).Logger()
		report, err := runAttempt(log, req, index, previousOutput)
		if err != nil {
			return nil, nil, err
		}
		reports = append(reports, report)
		log.Info().Str("outcome", string(report.Outcome)).Float64("runtime", report.Runtime).Msg("Attempt finished")

		if report.OutputFile != "" {
			outputs = append(outputs, filepath.Join(req.OutputDirectory, report.OutputFile))
			previousOutput = outputs[len(outputs)-1]
		}
		if report.Outcome == model.AttemptOutcomeAllTestsPassed {
			break
		}
	}

	rebot, err := runRebot(logger, req, outputs)
	if err != nil {
		return nil, nil, err
	}
	return reports, rebot, nil
}

func runAttempt(logger zerolog.Logger, req Request, index int, previousOutput string) (model.AttemptReport, error) {
	outputName := strconv.Itoa(index) + ".xml"
	outputPath := filepath.Join(req.OutputDirectory, outputName)

	args := []string{
		executable(req.Robot.RobotExecutable, "robot"),
		"--outputdir", req.OutputDirectory,
		"--output", outputPath,
		"--log", "NONE",
		"--report", "NONE",
	}
	if req.Robot.RetryStrategy == RetryIncremental && previousOutput != "" {
		args = append(args, "--rerunfailed", previousOutput)
	}
	args = append(args, req.Robot.CommandLineArgs...)
	args = append(args, req.Robot.Target)

	report := model.AttemptReport{
		Index:     index,
		StartTime: time.Now().UTC(),
	}

	cmd := command(req.Session.WrapCommand(req.Environment.WrapCommand(args)))
	closeOutput, err := captureOutput(cmd, req.OutputDirectory, strconv.Itoa(index))
	if err != nil {
		return report, err
	}
	outcome, err := supervisor.Run(logger, cmd, req.Timeout, req.Flag)
	closeOutput()
	if err != nil {
		if errors.Is(err, termination.ErrTerminated) {
			return report, err
		}
		report.Outcome = model.AttemptOutcomeOtherError
		report.Error = err.Error()
		report.Runtime = time.Since(report.StartTime).Seconds()
		return report, nil
	}
	report.Runtime = outcome.Runtime.Seconds()

	if outcome.TimedOut {
		report.Outcome = model.AttemptOutcomeTimedOut
		return report, nil
	}

	produced := fileExists(outputPath)
	if produced {
		report.OutputFile = outputName
	}
	if req.Environment.AttemptFailed(outcome.ExitCode, produced) {
		report.Outcome = model.AttemptOutcomeEnvironmentFailure
		return report, nil
	}
	report.Outcome = classify(outcome.ExitCode, produced)
	return report, nil
}

// classify maps a robot exit code to an outcome. Robot returns the number of
// failed tests (capped at 250) and reserves 251 and above for its own errors.
func classify(exitCode int, producedOutput bool) model.AttemptOutcome {
	switch {
	case !producedOutput:
		return model.AttemptOutcomeRobotFailure
	case exitCode == 0:
		return model.AttemptOutcomeAllTestsPassed
	case exitCode > 0 && exitCode <= 250:
		return model.AttemptOutcomeTestFailures
	default:
		return model.AttemptOutcomeRobotFailure
	}
}

func executable(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}

func command(args []string) *exec.Cmd {
	return exec.Command(args[0], args[1:]...)
}

// captureOutput redirects the console output of cmd into
// <dir>/<name>.stdout.txt and <dir>/<name>.stderr.txt.
func captureOutput(cmd *exec.Cmd, dir, name string) (func(), error) {
	stdout, err := os.Create(filepath.Join(dir, name+".stdout.txt"))
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout file: %w", err)
	}
	stderr, err := os.Create(filepath.Join(dir, name+".stderr.txt"))
	if err != nil {
		stdout.Close()
		return nil, fmt.Errorf("failed to create stderr file: %w", err)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return func() {
		stdout.Close()
		stderr.Close()
	}, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
