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
	"time"
)

// launchRecord is the evaluator's view of the request it is working on.
// It lives from acceptance in ready until the machine is back in ready.
type launchRecord struct {
	requestID string
	eventType EventType
	request   Request
	accepted  time.Time

	// deploy
	pushed        bool
	applicationID string

	// undeploy
	killTargets []string
	killed      []string

	err      error
	failedIn string
}

func newLaunchRecord(requestID string, event Event) *launchRecord {
	return &launchRecord{
		requestID: requestID,
		eventType: event.Type,
		request:   event.Request,
		accepted:  time.Now(),
	}
}
