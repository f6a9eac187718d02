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

package config

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/task-launcher/pkg/constants"
	"github.com/united-manufacturing-hub/task-launcher/pkg/env"
	"github.com/united-manufacturing-hub/task-launcher/pkg/sentry"
)

// Path returns CONFIG_FILE or the default config location.
func Path() string {
	path, _ := env.GetAsString("CONFIG_FILE", false, constants.DefaultConfigPath)

	return path
}

// LoadConfigWithEnvOverrides loads the config file and applies environment variable overrides.
//
// Order of precedence (highest to lowest):
// 1. Environment variables (LAUNCHER_*, EXECUTOR_*, RETRY_*, API_*, METRICS_PORT)
// 2. Config file values
// 3. Default values
//
// A malformed variable is reported as a warning and leaves the lower layer in place.
// The result is validated.
func LoadConfigWithEnvOverrides(path string, log *zap.SugaredLogger) (FullConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return FullConfig{}, err
	}

	warn := func(err error) {
		if err != nil {
			sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Ignoring environment override: %v", err)
		}
	}

	cfg.Launcher.MachineID, err = env.GetAsString("LAUNCHER_MACHINE_ID", false, cfg.Launcher.MachineID)
	warn(err)

	cfg.Launcher.AppType, err = env.GetAsString("LAUNCHER_APP_TYPE", false, cfg.Launcher.AppType)
	warn(err)

	cfg.Launcher.PollInterval, err = env.GetAsDuration("LAUNCHER_POLL_INTERVAL", false, cfg.Launcher.PollInterval)
	warn(err)

	cfg.Launcher.PollAttempts, err = env.GetAsInt("LAUNCHER_POLL_ATTEMPTS", false, cfg.Launcher.PollAttempts)
	warn(err)

	cfg.Executor.Workers, err = env.GetAsInt("EXECUTOR_WORKERS", false, cfg.Executor.Workers)
	warn(err)

	cfg.Executor.ActionTimeout, err = env.GetAsDuration("EXECUTOR_ACTION_TIMEOUT", false, cfg.Executor.ActionTimeout)
	warn(err)

	maxRetries, err := env.GetAsInt("RETRY_MAX_RETRIES", false, int(cfg.Retry.MaxRetries))
	warn(err)

	if maxRetries >= 0 {
		cfg.Retry.MaxRetries = uint64(maxRetries)
	}

	cfg.API.Port, err = env.GetAsInt("API_PORT", false, cfg.API.Port)
	warn(err)

	cfg.API.Enabled, err = env.GetAsBool("API_ENABLED", false, cfg.API.Enabled)
	warn(err)

	cfg.Agent.MetricsPort, err = env.GetAsInt("METRICS_PORT", false, cfg.Agent.MetricsPort)
	warn(err)

	if err := cfg.Validate(); err != nil {
		return FullConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
