package model

// EnvironmentBuildStatus is the result of preparing a suite's environment.
type EnvironmentBuildStatus string

const (
	EnvironmentBuildSuccess    EnvironmentBuildStatus = "Success"
	EnvironmentBuildFailure    EnvironmentBuildStatus = "Failure"
	EnvironmentBuildTimeout    EnvironmentBuildStatus = "Timeout"
	EnvironmentBuildNotNeeded  EnvironmentBuildStatus = "NotNeeded"
	EnvironmentBuildTerminated EnvironmentBuildStatus = "Terminated"
)

// EnvironmentBuildStates maps suite IDs to the status of their environment build.
type EnvironmentBuildStates map[string]EnvironmentBuildStatus
