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

package main

import (
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/task-launcher/pkg/launcher"
)

// loggingListener writes launcher notifications to the log.
type loggingListener struct {
	launcher.NopListener

	log *zap.SugaredLogger
}

func newLoggingListener(log *zap.SugaredLogger) *loggingListener {
	return &loggingListener{log: log}
}

func (l *loggingListener) OnStarted(machineID string) {
	l.log.Infow("Launcher ready", "machine_id", machineID)
}

func (l *loggingListener) OnStateChanged(change launcher.StateChange) {
	l.log.Debugw("Launcher state changed",
		"machine_id", change.MachineID,
		"from", change.From,
		"to", change.To,
		"event", change.Event,
		"count", change.Count)
}

func (l *loggingListener) OnDeploymentCompleted(result launcher.DeploymentResult) {
	l.log.Infow("Request completed",
		"request_id", result.RequestID,
		"type", result.Type,
		"app_version", result.AppVersion,
		"application_id", result.ApplicationID,
		"pushed", result.Pushed,
		"killed", result.Killed,
		"duration", result.Duration)
}

func (l *loggingListener) OnDeploymentFailed(failure launcher.DeploymentFailure) {
	l.log.Warnw("Request failed",
		"request_id", failure.RequestID,
		"type", failure.Type,
		"app_version", failure.AppVersion,
		"state", failure.State,
		"error", failure.Err)
}
