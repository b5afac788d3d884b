// Package config loads the YAML configuration and turns it into the internal
// representation consumed by the scheduler.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/suitesched/suitesched/attempt"
	"github.com/suitesched/suitesched/model"
	"github.com/suitesched/suitesched/session"
)

// Config is the on-disk configuration.
type Config struct {
	WorkingDirectory string                 `yaml:"working_directory"`
	ResultsDirectory string                 `yaml:"results_directory"`
	RccBinaryPath    string                 `yaml:"rcc_binary_path"`
	Suites           map[string]SuiteConfig `yaml:"suites"`
}

// SuiteConfig configures one suite.
type SuiteConfig struct {
	Robot       RobotConfig       `yaml:"robot"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Environment EnvironmentConfig `yaml:"environment"`
	Session     session.Session   `yaml:"session"`
	Host        model.Host        `yaml:"host"`
}

type RobotConfig struct {
	RobotTarget     string                `yaml:"robot_target"`
	CommandLineArgs []string              `yaml:"command_line_args"`
	NAttemptsMax    int                   `yaml:"n_attempts_max"`
	RetryStrategy   attempt.RetryStrategy `yaml:"retry_strategy"`
	RobotExecutable string                `yaml:"robot_executable"`
	RebotExecutable string                `yaml:"rebot_executable"`
}

type ExecutionConfig struct {
	ExecutionIntervalSeconds uint64 `yaml:"execution_interval_seconds"`
	TimeoutSeconds           uint64 `yaml:"timeout_seconds"`
}

// EnvironmentConfig selects the environment a suite runs in. Type is either
// "system" (the default) or "rcc".
type EnvironmentConfig struct {
	Type                string `yaml:"type"`
	RobotYAMLPath       string `yaml:"robot_yaml_path"`
	BuildTimeoutSeconds uint64 `yaml:"build_timeout_seconds"`
}

const (
	EnvironmentSystem = "system"
	EnvironmentRcc    = "rcc"
)

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var conf Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&conf); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &conf, nil
}

// Validate returns the first problem found in c.
func (c *Config) Validate() error {
	if c.WorkingDirectory == "" {
		return errors.New("working_directory is required")
	}
	if c.ResultsDirectory == "" {
		return errors.New("results_directory is required")
	}
	if len(c.Suites) == 0 {
		return errors.New("at least one suite is required")
	}

	for _, id := range sortedIDs(c.Suites) {
		if err := c.validateSuite(c.Suites[id]); err != nil {
			return fmt.Errorf("suite %s: %w", id, err)
		}
	}
	return nil
}

func (c *Config) validateSuite(s SuiteConfig) error {
	if s.Robot.RobotTarget == "" {
		return errors.New("robot.robot_target is required")
	}
	if s.Robot.NAttemptsMax < 1 {
		return fmt.Errorf("robot.n_attempts_max must be at least 1, got %d", s.Robot.NAttemptsMax)
	}
	switch s.Robot.RetryStrategy {
	case "", attempt.RetryComplete, attempt.RetryIncremental:
	default:
		return fmt.Errorf("unknown robot.retry_strategy %q", s.Robot.RetryStrategy)
	}

	if s.Execution.ExecutionIntervalSeconds == 0 {
		return errors.New("execution.execution_interval_seconds must be positive")
	}
	if s.Execution.TimeoutSeconds == 0 {
		return errors.New("execution.timeout_seconds must be positive")
	}
	if s.Execution.TimeoutSeconds*uint64(s.Robot.NAttemptsMax) > s.Execution.ExecutionIntervalSeconds {
		return fmt.Errorf("%d attempts of %ds do not fit into an execution interval of %ds",
			s.Robot.NAttemptsMax, s.Execution.TimeoutSeconds, s.Execution.ExecutionIntervalSeconds)
	}

	switch s.Environment.Type {
	case "", EnvironmentSystem:
	case EnvironmentRcc:
		if c.RccBinaryPath == "" {
			return errors.New("rcc environment requires rcc_binary_path")
		}
		if s.Environment.RobotYAMLPath == "" {
			return errors.New("rcc environment requires environment.robot_yaml_path")
		}
	default:
		return fmt.Errorf("unknown environment.type %q", s.Environment.Type)
	}
	return nil
}
