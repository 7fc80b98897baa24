// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/ilm-core/pkg/logger"
	"github.com/united-manufacturing-hub/ilm-core/pkg/sentry"
)

const (
	// Component Labels.
	ComponentControlLoop = "control_loop"
	// Manager.
	ComponentBaseFSMManager = "base_fsm_manager"
	ComponentIndexManager   = "index_manager"
	// Instances.
	ComponentBaseFSMInstance = "base_fsm_instance"
	ComponentIndexInstance   = "index_instance"
	// Services.
	ComponentRecovery       = "recovery"
	ComponentClusterMonitor = "cluster_monitor"
	ComponentConfigStore    = "config_store"
	ComponentHistory        = "history"
	ComponentOpsServer      = "ops_server"
)

var (
	// Namespace and subsystem for all metrics.
	namespace = "ilm"
	subsystem = "core"

	// Error counters.
	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component", "instance"},
	)

	// Reconcile timing.
	reconcileTime = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconcile_duration_milliseconds",
			Help:      "Time taken to reconcile (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01, // 50th percentile with 1% error
				0.9:  0.01, // 90th percentile with 1% error
				0.95: 0.01, // 95th percentile with 1% error
				0.99: 0.01, // 99th percentile with 1% error
			},
		},
		[]string{"component", "instance"},
	)

	// Starvation timer.
	starvationSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconcile_starved_total_seconds",
			Help:      "Total seconds the reconcile loop was starved",
		},
	)

	// Managed index state metrics.
	indexCurrentState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "index_current_state",
			Help:      "Current state of the managed index (0=Stopped, 1=ActionPending, 2=StepRunning, 3=StepCompleted, 4=StepFailed, 5=ActionCompleted, 6=ActionFailed, -1=Unknown)",
		},
		[]string{"component", "instance"},
	)

	indexDesiredState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "index_desired_state",
			Help:      "Desired state of the managed index (0=Stopped, 1=ActionPending, 2=StepRunning, 3=StepCompleted, 4=StepFailed, 5=ActionCompleted, 6=ActionFailed, -1=Unknown)",
		},
		[]string{"component", "instance"},
	)

	// Recovery pipeline metrics.
	recoveryRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "recovery_runs_total",
			Help:      "Total number of recovery pipeline runs by outcome",
		},
		[]string{"outcome"},
	)

	recoveryUpdated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "recovery_indices_updated_total",
			Help:      "Total number of indices successfully re-armed by the recovery pipeline",
		},
	)

	recoveryFailedIndices = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "recovery_indices_failed_total",
			Help:      "Total number of indices excluded from recovery by classification reason",
		},
		[]string{"reason"},
	)

	recoveryDuration = promauto.NewSummary(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "recovery_run_duration_milliseconds",
			Help:      "Duration of one recovery pipeline run (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.99: 0.01,
			},
		},
	)
)

// SetupMetricsEndpoint starts an HTTP server to expose metrics
// This should be called once at application startup.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeFatal, logger.For("metrics"))
		}
	}()

	return server
}

// printDetailedStackTrace prints a detailed stack trace with more information.
func printDetailedStackTrace() {
	// Get stack trace for all goroutines with a large buffer
	buf := make([]byte, 1024*1024) // Allocate 1MB buffer
	n := runtime.Stack(buf, true)

	// Print the full stack trace
	logger.For("stacktrace").Debugf("=== DETAILED STACK TRACE ===\n%s", string(buf[:n]))
}

// IncErrorCountAndLog increments the error counter for a component and logs a debug message if a logger is provided.
func IncErrorCountAndLog(component, instance string, err error, logger *zap.SugaredLogger) {
	IncErrorCount(component, instance)

	if logger != nil {
		// Display detailed stacktrace
		printDetailedStackTrace()
		logger.Debugf("Component %s instance %s reconciliation failed: %v", component, instance, err)
	}
}

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Inc()
}

// InitErrorCounter initializes the error counter for a component.
func InitErrorCounter(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Add(0)
}

// ObserveReconcileTime records the time taken for a reconciliation.
func ObserveReconcileTime(component, instance string, duration time.Duration) {
	reconcileTime.WithLabelValues(component, instance).Observe(float64(duration.Milliseconds()))
}

// AddStarvationTime increases the starvation counter by the specified seconds.
func AddStarvationTime(seconds float64) {
	starvationSeconds.Add(seconds)
}

// UpdateIndexState updates the current and desired state metrics for a managed index.
func UpdateIndexState(component, instance string, currentState, desiredState string) {
	// Convert state strings to numeric values
	currentValue := getStateValue(currentState)
	desiredValue := getStateValue(desiredState)

	// Update the metrics
	indexCurrentState.WithLabelValues(component, instance).Set(currentValue)
	indexDesiredState.WithLabelValues(component, instance).Set(desiredValue)
}

// getStateValue converts a state string to a numeric value for the metric.
func getStateValue(state string) float64 {
	switch state {
	case "stopped":
		return 0
	case "action_pending":
		return 1
	case "step_running":
		return 2
	case "step_completed":
		return 3
	case "step_failed":
		return 4
	case "action_completed":
		return 5
	case "action_failed":
		return 6
	default:
		return -1 // Unknown state
	}
}

// ObserveRecoveryRun records the outcome of one recovery pipeline run.
// Outcome is "completed", "blocked" or "failed"; failure reasons count the
// excluded indices by classification.
func ObserveRecoveryRun(outcome string, updated int, failedReasons map[string]int, duration time.Duration) {
	recoveryRuns.WithLabelValues(outcome).Inc()
	recoveryUpdated.Add(float64(updated))
	recoveryDuration.Observe(float64(duration.Milliseconds()))

	for reason, count := range failedReasons {
		recoveryFailedIndices.WithLabelValues(reason).Add(float64(count))
	}
}
