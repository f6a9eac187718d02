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

package launcher

import (
	"fmt"
	"time"
)

// StateChange is emitted once per transition, in transition order.
type StateChange struct {
	MachineID string
	From      string
	To        string
	Event     string
	// Count is the number of transitions since Start, including this one.
	Count int64
	Time  time.Time
}

// DeploymentResult describes a request that reached deployed or undeployed.
type DeploymentResult struct {
	RequestID  string
	Type       EventType
	AppVersion string
	// ApplicationID is the submitted instance of a DEPLOY.
	ApplicationID string
	// Pushed is true if the DEPLOY had to push the application package.
	Pushed bool
	// Killed lists the instances an UNDEPLOY stopped.
	Killed   []string
	Duration time.Duration
}

// DeploymentFailure describes a request that ended in failed.
type DeploymentFailure struct {
	RequestID  string
	Type       EventType
	AppVersion string
	// State is the state in which the action failed.
	State string
	Err   error
}

// Listener receives notifications synchronously on the evaluator goroutine.
// A listener that blocks stalls the machine. Panics are recovered. A listener
// may call Stop; the call does not wait for the evaluator to exit.
type Listener interface {
	OnStarted(machineID string)
	OnStateChanged(change StateChange)
	OnDeploymentCompleted(result DeploymentResult)
	OnDeploymentFailed(failure DeploymentFailure)
}

// NopListener can be embedded to implement only part of Listener.
type NopListener struct{}

func (NopListener) OnStarted(string)                       {}
func (NopListener) OnStateChanged(StateChange)             {}
func (NopListener) OnDeploymentCompleted(DeploymentResult) {}
func (NopListener) OnDeploymentFailed(DeploymentFailure)   {}

// ListenerFunc adapts a state change callback to Listener.
type ListenerFunc func(change StateChange)

func (f ListenerFunc) OnStarted(string)                       {}
func (f ListenerFunc) OnStateChanged(change StateChange)      { f(change) }
func (f ListenerFunc) OnDeploymentCompleted(DeploymentResult) {}
func (f ListenerFunc) OnDeploymentFailed(DeploymentFailure)   {}

func (m *Machine) listenerSnapshot() []Listener {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Listener(nil), m.listeners...)
}

// notify calls fn for every listener. A panicking listener is logged and skipped.
func (m *Machine) notify(kind string, fn func(l Listener)) {
	m.notifying.Store(true)
	defer m.notifying.Store(false)

	for _, l := range m.listenerSnapshot() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.recordListenerPanic(kind, fmt.Errorf("listener panicked on %s: %v", kind, r))
				}
			}()

			fn(l)
		}()
	}
}
