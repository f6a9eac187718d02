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
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tiendc/go-deepcopy"
	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/task-launcher/pkg/cloudapp"
	"github.com/united-manufacturing-hub/task-launcher/pkg/constants"
	"github.com/united-manufacturing-hub/task-launcher/pkg/launcher"
)

type FullConfig struct {
	Agent    AgentConfig    `yaml:"agent"`
	Launcher LauncherConfig `yaml:"launcher"`
	Executor ExecutorConfig `yaml:"executor"`
	Retry    RetryConfig    `yaml:"retry"`
	API      APIConfig      `yaml:"api"`
}

type AgentConfig struct {
	MetricsPort int `yaml:"metricsPort"` // Port to expose metrics on
}

type LauncherConfig struct {
	MachineID    string        `yaml:"machineId"`
	AppType      string        `yaml:"appType"` // TASK or STREAM
	PollInterval time.Duration `yaml:"pollInterval"`
	PollAttempts int           `yaml:"pollAttempts"`
}

type ExecutorConfig struct {
	Workers       int           `yaml:"workers"`
	ActionTimeout time.Duration `yaml:"actionTimeout"`
	// Timeouts overrides ActionTimeout per action name, e.g. push_application.
	Timeouts map[string]time.Duration `yaml:"timeouts,omitempty"`
}

// RetryConfig applies to idempotent capability calls only.
type RetryConfig struct {
	MaxRetries      uint64        `yaml:"maxRetries"`
	InitialInterval time.Duration `yaml:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
}

type APIConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

func Defaults() FullConfig {
	return FullConfig{
		Agent: AgentConfig{
			MetricsPort: constants.DefaultMetricsPort,
		},
		Launcher: LauncherConfig{
			MachineID:    constants.DefaultMachineID,
			AppType:      constants.DefaultAppType,
			PollInterval: constants.DefaultPollInterval,
			PollAttempts: constants.DefaultPollAttempts,
		},
		Executor: ExecutorConfig{
			Workers:       constants.DefaultExecutorWorkers,
			ActionTimeout: constants.DefaultActionTimeout,
		},
		Retry: RetryConfig{
			MaxRetries:      constants.DefaultRetryMaxRetries,
			InitialInterval: constants.DefaultRetryInitialInterval,
			MaxInterval:     constants.DefaultRetryMaxInterval,
		},
		API: APIConfig{
			Enabled: true,
			Port:    constants.DefaultAPIPort,
		},
	}
}

// Load reads path on top of the defaults. A missing or empty file yields the defaults.
func Load(path string) (FullConfig, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return FullConfig{}, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return FullConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Clone creates a deep copy of FullConfig
func (c FullConfig) Clone() FullConfig {
	var clone FullConfig
	_ = deepcopy.Copy(&clone, &c)

	return clone
}

func (c FullConfig) Validate() error {
	var errs []error

	if c.Launcher.MachineID == "" {
		errs = append(errs, errors.New("launcher.machineId must not be empty"))
	}

	if _, err := cloudapp.ParseAppType(c.Launcher.AppType); err != nil {
		errs = append(errs, fmt.Errorf("launcher.appType: %w", err))
	}

	if c.Launcher.PollAttempts < 1 {
		errs = append(errs, fmt.Errorf("launcher.pollAttempts must be at least 1, got %d", c.Launcher.PollAttempts))
	}

	if c.Launcher.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("launcher.pollInterval must not be negative, got %s", c.Launcher.PollInterval))
	}

	if c.Executor.Workers < 1 {
		errs = append(errs, fmt.Errorf("executor.workers must be at least 1, got %d", c.Executor.Workers))
	}

	if c.Executor.ActionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("executor.actionTimeout must be positive, got %s", c.Executor.ActionTimeout))
	}

	if timeout := c.pollTimeout(); timeout > 0 {
		if budget := time.Duration(c.Launcher.PollAttempts) * c.Launcher.PollInterval; budget >= timeout {
			errs = append(errs, fmt.Errorf("launcher poll budget %s (%d x %s) must be below the %s timeout %s",
				budget, c.Launcher.PollAttempts, c.Launcher.PollInterval, cloudapp.OpListInstances, timeout))
		}
	}

	if c.Retry.InitialInterval <= 0 || c.Retry.MaxInterval < c.Retry.InitialInterval {
		errs = append(errs, fmt.Errorf("retry intervals invalid: initial %s, max %s", c.Retry.InitialInterval, c.Retry.MaxInterval))
	}

	for name, port := range map[string]int{"agent.metricsPort": c.Agent.MetricsPort, "api.port": c.API.Port} {
		if port < 1 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s out of range: %d", name, port))
		}
	}

	if c.API.Enabled && c.API.Port == c.Agent.MetricsPort {
		errs = append(errs, fmt.Errorf("api.port and agent.metricsPort must differ, both are %d", c.API.Port))
	}

	return errors.Join(errs...)
}

// pollTimeout is the executor timeout that bounds the whole readiness poll.
func (c FullConfig) pollTimeout() time.Duration {
	if timeout, ok := c.Executor.Timeouts[cloudapp.OpListInstances]; ok {
		return timeout
	}

	return c.Executor.ActionTimeout
}

// MachineConfig converts the launcher section. Call Validate first.
func (c FullConfig) MachineConfig() launcher.Config {
	kind, _ := cloudapp.ParseAppType(c.Launcher.AppType)

	return launcher.Config{
		MachineID:    c.Launcher.MachineID,
		AppType:      kind,
		PollInterval: c.Launcher.PollInterval,
		PollAttempts: c.Launcher.PollAttempts,
	}
}

func (c FullConfig) RetryPolicy() cloudapp.RetryPolicy {
	return cloudapp.RetryPolicy{
		MaxRetries:      c.Retry.MaxRetries,
		InitialInterval: c.Retry.InitialInterval,
		MaxInterval:     c.Retry.MaxInterval,
	}
}
