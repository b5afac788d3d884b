package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/suitesched/suitesched/termination"
)

const AppName = "suitesched"

type App struct {
	logger  zerolog.Logger
	cli     *cli.App
	logFile io.Closer
}

func New() *App {

	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger :=
		log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339Nano,
		})

	app := &App{
		logger: logger,
	}
	app.cli = &cli.App{
		Name:  AppName,
		Usage: "Schedule time-boxed Robot Framework suite runs and publish their results",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose (debug) logging",
			},
			&cli.StringFlag{
				Name:  "log-path",
				Usage: "Additionally write JSON logs to this file",
			},
		},
		Before: app.setupLogging,
		After: func(*cli.Context) error {
			if app.logFile != nil {
				return app.logFile.Close()
			}
			return nil
		},
	}

	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "run",
		Usage:  "Set up directories, build environments and schedule all suites until terminated",
		Action: app.run,
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address, e.g. :9464",
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "once",
		Usage:  "Run a single suite once and publish its report",
		Action: app.once,
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:     "suite",
				Aliases:  []string{"s"},
				Usage:    "ID of the suite to run",
				Required: true,
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "report",
		Usage:  "Print published suite reports",
		Action: app.report,
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:    "suite",
				Aliases: []string{"s"},
				Usage:   "Only print the report of this suite",
			},
			&cli.BoolFlag{
				Name:    "follow",
				Aliases: []string{"f"},
				Usage:   "Keep running and print reports as they are published",
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "list",
		Usage:  "List previous runs of a suite",
		Action: app.list,
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:     "suite",
				Aliases:  []string{"s"},
				Usage:    "ID of the suite",
				Required: true,
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of results (default: 20)",
				Value:   20,
			},
		},
	})
	return app
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "config",
		Aliases:  []string{"c"},
		Usage:    "Path to the YAML configuration file",
		EnvVars:  []string{"SUITESCHED_CONFIG"},
		Required: true,
	}
}

func (a *App) Run(args []string) error {
	return a.cli.Run(args)
}

// SetVersion sets the version information for the CLI application
func (a *App) SetVersion(version, commit, date string) {
	a.cli.Version = version
	if commit != "none" && commit != "" {
		a.cli.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit[:min(8, len(commit))], date)
	}
}

func (a *App) setupLogging(ctx *cli.Context) error {
	if ctx.Bool("verbose") {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	logPath := ctx.String("log-path")
	if logPath == "" {
		return nil
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}
	a.logFile = f
	a.logger = zerolog.New(zerolog.MultiLevelWriter(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339Nano},
		f,
	)).With().Timestamp().Logger()
	a.logger.Info().Str("path", logPath).Msg("Program started and logging set up")
	return nil
}

// finish turns a termination into a clean exit.
func (a *App) finish(err error) error {
	if errors.Is(err, termination.ErrTerminated) {
		a.logger.Info().Msg("Terminated")
		return nil
	}
	return err
}
