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
	"github.com/looplab/fsm"
)

// States of a task launch machine. Every state other than ready belongs to
// exactly one in-flight request and always leads back to ready.
const (
	StateReady = "ready"

	StateCheckApp     = "check_app"
	StatePushApp      = "push_app"
	StateSubmitApp    = "submit_app"
	StatePollInstance = "poll_instance"
	StateDeployed     = "deployed"

	StateKillApp    = "kill_app"
	StateUndeployed = "undeployed"

	StateFailed = "failed"
)

// Events. DEPLOY and UNDEPLOY come from callers, the rest are fired by the
// machine itself when an action completes.
const (
	EventDeploy   = "DEPLOY"
	EventUndeploy = "UNDEPLOY"

	EventAppMissing    = "app_missing"
	EventAppPresent    = "app_present"
	EventPushDone      = "push_done"
	EventSubmitDone    = "submit_done"
	EventInstanceReady = "instance_ready"
	EventKillDone      = "kill_done"
	EventError         = "error"
	EventFinish        = "finish"
)

// IsInFlight reports whether state has a remote action outstanding.
func IsInFlight(state string) bool {
	switch state {
	case StateCheckApp, StatePushApp, StateSubmitApp, StatePollInstance, StateKillApp:
		return true
	}

	return false
}

// IsDeploying reports whether state is part of a DEPLOY chain.
func IsDeploying(state string) bool {
	switch state {
	case StateCheckApp, StatePushApp, StateSubmitApp, StatePollInstance, StateDeployed:
		return true
	}

	return false
}

func transitions() []fsm.EventDesc {
	return []fsm.EventDesc{
		{Name: EventDeploy, Src: []string{StateReady}, Dst: StateCheckApp},
		{Name: EventAppMissing, Src: []string{StateCheckApp}, Dst: StatePushApp},
		{Name: EventAppPresent, Src: []string{StateCheckApp}, Dst: StateSubmitApp},
		{Name: EventPushDone, Src: []string{StatePushApp}, Dst: StateSubmitApp},
		{Name: EventSubmitDone, Src: []string{StateSubmitApp}, Dst: StatePollInstance},
		{Name: EventInstanceReady, Src: []string{StatePollInstance}, Dst: StateDeployed},

		{Name: EventUndeploy, Src: []string{StateReady}, Dst: StateKillApp},
		{Name: EventKillDone, Src: []string{StateKillApp}, Dst: StateUndeployed},

		{Name: EventError, Src: []string{StateCheckApp, StatePushApp, StateSubmitApp, StatePollInstance, StateKillApp}, Dst: StateFailed},
		{Name: EventFinish, Src: []string{StateDeployed, StateUndeployed, StateFailed}, Dst: StateReady},
	}
}
