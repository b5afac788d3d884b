package model

import "time"

// AttemptOutcome classifies how a single attempt ended.
type AttemptOutcome string

const (
	AttemptOutcomeAllTestsPassed     AttemptOutcome = "AllTestsPassed"
	AttemptOutcomeTestFailures       AttemptOutcome = "TestFailures"
	AttemptOutcomeRobotFailure       AttemptOutcome = "RobotFailure"
	AttemptOutcomeEnvironmentFailure AttemptOutcome = "EnvironmentFailure"
	AttemptOutcomeTimedOut           AttemptOutcome = "TimedOut"
	AttemptOutcomeOtherError         AttemptOutcome = "OtherError"
)

// AttemptReport describes one bounded-time execution of a suite
type AttemptReport struct {
	// 1-based position of the attempt within its run
	Index int `json:"index"`
	// How the attempt ended
	Outcome AttemptOutcome `json:"outcome"`
	// Wall clock time the attempt was started
	StartTime time.Time `json:"start_time"`
	// Runtime in seconds
	Runtime float64 `json:"runtime"`
	// Robot output file (relative to the run directory), empty if none was produced
	OutputFile string `json:"output_file,omitempty"`
	// Error details for OtherError outcomes
	Error string `json:"error,omitempty"`
}

// RebotResult is the merged result of all attempts of a run.
type RebotResult struct {
	// Merged output XML
	XML string `json:"xml"`
	// Merged HTML log, base64 encoded
	HTMLBase64 string `json:"html_base64"`
	// Unix timestamp at which the merge finished
	Timestamp int64 `json:"timestamp"`
	// Whether all tests passed in the merged result
	Passed bool `json:"passed"`
}

// RebotOutcome holds either a RebotResult or the reason the merge failed.
type RebotOutcome struct {
	Result *RebotResult `json:"result,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// AttemptsConfig is the scheduling policy the attempts of a run were produced under.
type AttemptsConfig struct {
	// Execution interval in seconds
	Interval uint64 `json:"interval"`
	// Per-attempt timeout in seconds
	Timeout uint64 `json:"timeout"`
	// Maximum number of attempts per run
	NAttemptsMax int `json:"n_attempts_max"`
}

// SuiteExecutionReport is published once per suite run.
type SuiteExecutionReport struct {
	SuiteID string `json:"suite_id"`
	// Start of the run, formatted with scheduling.TimestampFormat
	Timestamp string          `json:"timestamp"`
	Attempts  []AttemptReport `json:"attempts"`
	Rebot     *RebotOutcome   `json:"rebot"`
	Config    AttemptsConfig  `json:"config"`
}

// Passed reports whether the merged result of the run passed.
func (r *SuiteExecutionReport) Passed() bool {
	return r.Rebot != nil && r.Rebot.Result != nil && r.Rebot.Result.Passed
}

// Host attributes a report to a host. An empty Piggyback name means the
// host the scheduler runs on.
type Host struct {
	Piggyback string `json:"piggyback,omitempty" yaml:"piggyback"`
}
