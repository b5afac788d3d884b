// Package metrics exposes Prometheus counters about suite runs and
// environment builds.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/suitesched/suitesched/model"
)

const MetricsNamespace = "suitesched"

// Run results recorded by RecordRun.
const (
	RunPublished       = "published"
	RunTerminated      = "terminated"
	RunReportingFailed = "reporting_failed"
	RunFailed          = "failed"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "suite_runs_total",
		Help:      "Count of suite runs by result",
	}, []string{
		"suite",
		"result",
	})

	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "attempts_total",
		Help:      "Count of attempts by outcome",
	}, []string{
		"suite",
		"outcome",
	})

	suitePassed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "suite_passed",
		Help:      "Whether the merged result of the last published run passed",
	}, []string{
		"suite",
	})

	suiteRuntime = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "suite_runtime_seconds",
		Help:      "Summed attempt runtime of the last published run",
	}, []string{
		"suite",
	})

	environmentBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "environment_builds_total",
		Help:      "Count of environment builds by status",
	}, []string{
		"status",
	})
)

// RecordRun counts one finished run of suite.
func RecordRun(suite, result string) {
	runsTotal.WithLabelValues(suite, result).Inc()
}

// RecordReport records the attempts and merged result of a published report.
func RecordReport(report *model.SuiteExecutionReport) {
	var runtime float64
	for _, attempt := range report.Attempts {
		attemptsTotal.WithLabelValues(report.SuiteID, string(attempt.Outcome)).Inc()
		runtime += attempt.Runtime
	}
	passed := 0.0
	if report.Passed() {
		passed = 1
	}
	suitePassed.WithLabelValues(report.SuiteID).Set(passed)
	suiteRuntime.WithLabelValues(report.SuiteID).Set(runtime)
}

// RecordEnvironmentBuilds counts the build status of every suite.
func RecordEnvironmentBuilds(states model.EnvironmentBuildStates) {
	for _, status := range states {
		environmentBuilds.WithLabelValues(string(status)).Inc()
	}
}

// Server serves the default registry on /metrics.
type Server struct {
	logger zerolog.Logger
	server *http.Server
}

func NewServer(logger zerolog.Logger, addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		logger: logger,
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start serves metrics in the background until Stop is called.
func (s *Server) Start() {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Serving metrics")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
