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
	"sync"
	"time"

	"github.com/united-manufacturing-hub/task-launcher/internal/latch"
)

// RecordingListener keeps every notification and lets callers block until a
// number of them has arrived.
type RecordingListener struct {
	mu        sync.Mutex
	changes   []StateChange
	completed []DeploymentResult
	failures  []DeploymentFailure

	startedCount    latch.Counter
	transitionCount latch.Counter
	completedCount  latch.Counter
	failedCount     latch.Counter
}

var _ Listener = (*RecordingListener)(nil)

func NewRecordingListener() *RecordingListener {
	return &RecordingListener{}
}

func (r *RecordingListener) OnStarted(string) {
	r.startedCount.Inc()
}

func (r *RecordingListener) OnStateChanged(change StateChange) {
	r.mu.Lock()
	r.changes = append(r.changes, change)
	r.mu.Unlock()

	r.transitionCount.Inc()
}

func (r *RecordingListener) OnDeploymentCompleted(result DeploymentResult) {
	r.mu.Lock()
	r.completed = append(r.completed, result)
	r.mu.Unlock()

	r.completedCount.Inc()
}

func (r *RecordingListener) OnDeploymentFailed(failure DeploymentFailure) {
	r.mu.Lock()
	r.failures = append(r.failures, failure)
	r.mu.Unlock()

	r.failedCount.Inc()
}

func (r *RecordingListener) WaitStarted(timeout time.Duration) bool {
	return r.startedCount.WaitFor(1, timeout)
}

func (r *RecordingListener) WaitTransitions(n int, timeout time.Duration) bool {
	return r.transitionCount.WaitFor(n, timeout)
}

func (r *RecordingListener) WaitCompleted(n int, timeout time.Duration) bool {
	return r.completedCount.WaitFor(n, timeout)
}

func (r *RecordingListener) WaitFailed(n int, timeout time.Duration) bool {
	return r.failedCount.WaitFor(n, timeout)
}

func (r *RecordingListener) StartedCount() int    { return r.startedCount.Value() }
func (r *RecordingListener) TransitionCount() int { return r.transitionCount.Value() }

func (r *RecordingListener) Changes() []StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]StateChange(nil), r.changes...)
}

// States returns the target state of every recorded transition.
func (r *RecordingListener) States() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make([]string, 0, len(r.changes))
	for _, c := range r.changes {
		states = append(states, c.To)
	}

	return states
}

func (r *RecordingListener) Completed() []DeploymentResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]DeploymentResult(nil), r.completed...)
}

func (r *RecordingListener) Failures() []DeploymentFailure {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]DeploymentFailure(nil), r.failures...)
}

// Reset clears everything except the started count.
func (r *RecordingListener) Reset() {
	r.mu.Lock()
	r.changes = nil
	r.completed = nil
	r.failures = nil
	r.mu.Unlock()

	r.transitionCount.Reset()
	r.completedCount.Reset()
	r.failedCount.Reset()
}
