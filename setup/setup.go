package setup

// setup.go prepares the directory layout before any suite is scheduled.

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/suitesched/suitesched/config"
)

// Setup creates the working and results directories of global and all
// suites, and the lock file guarding the results directory.
func Setup(logger zerolog.Logger, global config.GlobalConfig, suites []config.Suite) error {
	dirs := []string{
		global.WorkingDirectory,
		global.ResultsDirectory,
		global.SuitesResultsDirectory(),
	}
	for _, suite := range suites {
		dirs = append(dirs, suite.WorkingDirectory)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	lockFile := global.LockFile()
	f, err := os.OpenFile(lockFile, os.O_CREATE|os.O_RDONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create lock file %s: %w", lockFile, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close lock file %s: %w", lockFile, err)
	}

	logger.Debug().
		Str("working_directory", global.WorkingDirectory).
		Str("results_directory", global.ResultsDirectory).
		Int("suites", len(suites)).
		Msg("Directories set up")
	return nil
}
