package attempt

// This file contains the merge step that combines the outputs of all
// attempts of a run into a single result.

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/suitesched/suitesched/model"
	"github.com/suitesched/suitesched/supervisor"
	"github.com/suitesched/suitesched/termination"
)

const (
	rebotOutputName = "rebot.xml"
	rebotLogName    = "rebot.html"
)

func runRebot(logger zerolog.Logger, req Request, outputs []string) (*model.RebotOutcome, error) {
	if len(outputs) == 0 {
		logger.Warn().Msg("No attempt produced an output file, skipping rebot")
		return &model.RebotOutcome{Error: "no data available for rebot"}, nil
	}

	outputPath := filepath.Join(req.OutputDirectory, rebotOutputName)
	logPath := filepath.Join(req.OutputDirectory, rebotLogName)

	args := []string{
		executable(req.Robot.RebotExecutable, "rebot"),
		"--output", outputPath,
		"--log", logPath,
		"--report", "NONE",
	}
	// Later attempts supersede earlier results of the same tests.
	if len(outputs) > 1 {
		args = append(args, "--merge")
	}
	args = append(args, outputs...)

	cmd := command(req.Session.WrapCommand(req.Environment.WrapCommand(args)))
	closeOutput, err := captureOutput(cmd, req.OutputDirectory, "rebot")
	if err != nil {
		return nil, err
	}
	outcome, err := supervisor.Run(logger, cmd, req.Timeout, req.Flag)
	closeOutput()
	if err != nil {
		if errors.Is(err, termination.ErrTerminated) {
			return nil, err
		}
		return &model.RebotOutcome{Error: err.Error()}, nil
	}
	if outcome.TimedOut {
		return &model.RebotOutcome{Error: fmt.Sprintf("rebot timed out after %s", req.Timeout)}, nil
	}
	if outcome.ExitCode < 0 || outcome.ExitCode > 250 {
		return &model.RebotOutcome{Error: fmt.Sprintf("rebot failed with exit code %d", outcome.ExitCode)}, nil
	}

	xml, err := os.ReadFile(outputPath)
	if err != nil {
		return &model.RebotOutcome{Error: fmt.Sprintf("failed to read rebot output: %s", err)}, nil
	}
	html, err := os.ReadFile(logPath)
	if err != nil {
		return &model.RebotOutcome{Error: fmt.Sprintf("failed to read rebot log: %s", err)}, nil
	}

	logger.Debug().Int("exit_code", outcome.ExitCode).Int("outputs", len(outputs)).Msg("Rebot finished")
	return &model.RebotOutcome{
		Result: &model.RebotResult{
			XML:        string(xml),
			HTMLBase64: base64.StdEncoding.EncodeToString(html),
			Timestamp:  time.Now().Unix(),
			Passed:     outcome.ExitCode == 0,
		},
	}, nil
}
