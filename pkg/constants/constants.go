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

package constants

import "time"

const (
	// DefaultAppVersion is the version reported by builds without ldflags.
	// Sentry stays disabled for this version.
	DefaultAppVersion = "0.0.0-dev"

	DefaultDevelopmentEnvironment = "development"
	DefaultProductionEnvironment  = "production"
)

const (
	// DefaultConfigPath is where the launcher looks for its config file if CONFIG_FILE is unset.
	DefaultConfigPath = "/data/config.yaml"

	DefaultMachineID = "task-launcher"
	DefaultAppType   = "TASK"

	DefaultMetricsPort = 8080
	DefaultAPIPort     = 8081
)

const (
	// DefaultExecutorWorkers is the size of the action worker pool.
	// Correctness holds with a single worker.
	DefaultExecutorWorkers = 1

	// DefaultActionTimeout bounds a single remote action (list, push, submit, poll, kill).
	DefaultActionTimeout = 30 * time.Second

	// DefaultPollInterval is the pause between two readiness checks of a submitted instance.
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultPollAttempts is how often the instance list is checked before a deployment fails.
	DefaultPollAttempts = 10
)

const (
	DefaultRetryMaxRetries      = 3
	DefaultRetryInitialInterval = 100 * time.Millisecond
	DefaultRetryMaxInterval     = 2 * time.Second
)

// ExpectedMaxP95ExecutionTimePerEvent is the minimum time a context must have left
// before a transition is attempted on it.
const ExpectedMaxP95ExecutionTimePerEvent = 5 * time.Millisecond

// ApplicationNamePrefix prefixes instance names created for a pushed application package.
const ApplicationNamePrefix = "task-launcher-app_"
