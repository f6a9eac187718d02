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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/task-launcher/pkg/logger"
	"github.com/united-manufacturing-hub/task-launcher/pkg/sentry"
)

const (
	// Component labels.
	ComponentLauncher = "launcher"
	ComponentExecutor = "executor"
	ComponentCloudApp = "cloudapp"
	ComponentAPI      = "api"
)

var (
	namespace = "task_launcher"

	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component", "instance"},
	)

	stateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "machine",
			Name:      "state_transitions_total",
			Help:      "Total number of state transitions by source and destination state",
		},
		[]string{"machine", "from", "to"},
	)

	currentState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "machine",
			Name:      "current_state",
			Help:      "1 for the state the machine is currently in, 0 otherwise",
		},
		[]string{"machine", "state"},
	)

	deploymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "machine",
			Name:      "deployments_total",
			Help:      "Total number of finished deployments by result",
		},
		[]string{"machine", "result"},
	)

	mailboxDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "machine",
			Name:      "mailbox_depth",
			Help:      "Number of events waiting to be evaluated, including deferred ones",
		},
		[]string{"machine"},
	)

	listenerPanicsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "machine",
			Name:      "listener_panics_total",
			Help:      "Total number of recovered panics raised by listeners",
		},
		[]string{"machine"},
	)

	remoteCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cloudapp",
			Name:      "calls_total",
			Help:      "Total number of capability calls by operation and status",
		},
		[]string{"operation", "status"},
	)

	remoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cloudapp",
			Name:      "call_duration_seconds",
			Help:      "Duration of capability calls in seconds",
		},
		[]string{"operation"},
	)

	actionQueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "action_queued_total",
			Help:      "Total number of actions queued",
		},
		[]string{"pool", "action"},
	)

	actionExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "action_execution_duration_seconds",
			Help:      "Duration of action execution in seconds",
		},
		[]string{"pool", "action", "status"},
	)

	actionTimeoutTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "action_timeout_total",
			Help:      "Total number of action timeouts",
		},
		[]string{"pool", "action"},
	)

	workerPoolUtilization = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "worker_pool_utilization",
			Help:      "Worker pool utilization (0.0 to 1.0)",
		},
		[]string{"pool"},
	)

	workerPoolQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "worker_pool_queue_size",
			Help:      "Current size of the worker pool queue",
		},
		[]string{"pool"},
	)
)

// InitErrorCounter makes the error series of an instance visible before the first error.
func InitErrorCounter(component, instance string) {
	errorCounter.WithLabelValues(component, instance)
}

// IncErrorCountAndLog increments the error counter and logs at debug level if a logger is given.
func IncErrorCountAndLog(component, instance string, err error, log *zap.SugaredLogger) {
	errorCounter.WithLabelValues(component, instance).Inc()

	if log != nil {
		log.Debugf("error in %s/%s: %v", component, instance, err)
	}
}

func RecordStateTransition(machine, from, to string) {
	stateTransitionsTotal.WithLabelValues(machine, from, to).Inc()

	if from != "" {
		currentState.WithLabelValues(machine, from).Set(0)
	}

	currentState.WithLabelValues(machine, to).Set(1)
}

func RecordDeployment(machine, result string) {
	deploymentsTotal.WithLabelValues(machine, result).Inc()
}

func SetMailboxDepth(machine string, depth int) {
	mailboxDepth.WithLabelValues(machine).Set(float64(depth))
}

func RecordListenerPanic(machine string) {
	listenerPanicsTotal.WithLabelValues(machine).Inc()
}

func RecordRemoteCall(operation, status string, duration time.Duration) {
	remoteCallsTotal.WithLabelValues(operation, status).Inc()
	remoteCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func RecordActionQueued(pool, action string) {
	actionQueuedTotal.WithLabelValues(pool, action).Inc()
}

func RecordActionExecutionDuration(pool, action, status string, duration time.Duration) {
	actionExecutionDuration.WithLabelValues(pool, action, status).Observe(duration.Seconds())
}

func RecordActionTimeout(pool, action string) {
	actionTimeoutTotal.WithLabelValues(pool, action).Inc()
}

func RecordWorkerPoolUtilization(pool string, utilization float64) {
	workerPoolUtilization.WithLabelValues(pool).Set(utilization)
}

func RecordWorkerPoolQueueSize(pool string, size int) {
	workerPoolQueueSize.WithLabelValues(pool).Set(float64(size))
}

// SetupMetricsEndpoint serves /metrics on addr in the background.
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
			sentry.ReportIssue(err, sentry.IssueTypeError, logger.For(logger.ComponentMetrics))
		}
	}()

	return server
}
