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

package cloudapp

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/task-launcher/internal/latch"
)

// SubmitCall records the arguments of one SubmitApplication call.
type SubmitCall struct {
	Version string
	Kind    AppType
	RunArgs []string
}

// MockService is a recording Service for tests. State is kept in an embedded
// MemoryService; every call is counted per operation and callers can block
// until a count is reached. Delays and errors can be injected per operation.
type MockService struct {
	*MemoryService

	mu        sync.Mutex
	delay     time.Duration
	errs      map[string]error
	counters  map[string]*latch.Counter
	pushed    []string
	submitted []SubmitCall
	killed    []string

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

var _ Service = (*MockService)(nil)

func NewMockService() *MockService {
	return &MockService{
		MemoryService: NewMemoryService(zap.NewNop().Sugar()),
		errs:          make(map[string]error),
		counters:      make(map[string]*latch.Counter),
	}
}

// WithDelay makes every call block for delay before it is served.
func (m *MockService) WithDelay(delay time.Duration) *MockService {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = delay

	return m
}

// WithError makes every call of operation fail with err until ClearError.
func (m *MockService) WithError(operation string, err error) *MockService {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[operation] = err

	return m
}

func (m *MockService) ClearError(operation string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.errs, operation)
}

func (m *MockService) counter(operation string) *latch.Counter {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[operation]
	if !ok {
		c = &latch.Counter{}
		m.counters[operation] = c
	}

	return c
}

// CallCount returns how often operation was called.
func (m *MockService) CallCount(operation string) int {
	return m.counter(operation).Value()
}

// WaitForCalls blocks until operation was called at least n times or timeout elapses.
func (m *MockService) WaitForCalls(operation string, n int, timeout time.Duration) bool {
	return m.counter(operation).WaitFor(n, timeout)
}

// MaxConcurrentCalls is the highest number of calls that were in flight at the same time.
func (m *MockService) MaxConcurrentCalls() int {
	return int(m.maxInflight.Load())
}

func (m *MockService) PushCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.pushed...)
}

func (m *MockService) SubmitCalls() []SubmitCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]SubmitCall(nil), m.submitted...)
}

func (m *MockService) KillCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.killed...)
}

// call wraps one capability call: concurrency tracking, delay, injected error, counting.
func (m *MockService) call(ctx context.Context, operation string, fn func() error) error {
	n := m.inflight.Add(1)
	for {
		peak := m.maxInflight.Load()
		if n <= peak || m.maxInflight.CompareAndSwap(peak, n) {
			break
		}
	}

	defer func() {
		m.inflight.Add(-1)
		m.counter(operation).Inc()
	}()

	m.mu.Lock()
	delay := m.delay
	err := m.errs[operation]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err != nil {
		return err
	}

	return fn()
}

func (m *MockService) ListApplications(ctx context.Context, kind AppType) (infos []AppInfo, err error) {
	err = m.call(ctx, OpListApplications, func() (err error) {
		infos, err = m.MemoryService.ListApplications(ctx, kind)
		return err
	})

	return infos, err
}

func (m *MockService) ListInstances(ctx context.Context, kind AppType) (infos []InstanceInfo, err error) {
	err = m.call(ctx, OpListInstances, func() (err error) {
		infos, err = m.MemoryService.ListInstances(ctx, kind)
		return err
	})

	return infos, err
}

func (m *MockService) PushApplication(ctx context.Context, version string, kind AppType) error {
	m.mu.Lock()
	m.pushed = append(m.pushed, version)
	m.mu.Unlock()

	return m.call(ctx, OpPushApplication, func() error {
		return m.MemoryService.PushApplication(ctx, version, kind)
	})
}

func (m *MockService) SubmitApplication(ctx context.Context, version string, kind AppType, runArgs []string) (id string, err error) {
	m.mu.Lock()
	m.submitted = append(m.submitted, SubmitCall{Version: version, Kind: kind, RunArgs: append([]string(nil), runArgs...)})
	m.mu.Unlock()

	err = m.call(ctx, OpSubmitApplication, func() (err error) {
		id, err = m.MemoryService.SubmitApplication(ctx, version, kind, runArgs)
		return err
	})

	return id, err
}

func (m *MockService) KillApplication(ctx context.Context, applicationID string, kind AppType) error {
	m.mu.Lock()
	m.killed = append(m.killed, applicationID)
	m.mu.Unlock()

	return m.call(ctx, OpKillApplication, func() error {
		return m.MemoryService.KillApplication(ctx, applicationID, kind)
	})
}

func (m *MockService) KillApplications(ctx context.Context, appName string, kind AppType) error {
	return m.call(ctx, OpKillApplications, func() error {
		return m.MemoryService.KillApplications(ctx, appName, kind)
	})
}

func (m *MockService) PushArtifact(ctx context.Context, artifact io.Reader, dir string) error {
	return m.call(ctx, OpPushArtifact, func() error {
		return m.MemoryService.PushArtifact(ctx, artifact, dir)
	})
}

func (m *MockService) CreateCluster(ctx context.Context, applicationID, clusterID string, count int, artifact string, definitionParameters map[string]string) error {
	return m.call(ctx, OpCreateCluster, func() error {
		return m.MemoryService.CreateCluster(ctx, applicationID, clusterID, count, artifact, definitionParameters)
	})
}

func (m *MockService) StartCluster(ctx context.Context, applicationID, clusterID string) error {
	return m.call(ctx, OpStartCluster, func() error {
		return m.MemoryService.StartCluster(ctx, applicationID, clusterID)
	})
}

func (m *MockService) StopCluster(ctx context.Context, applicationID, clusterID string) error {
	return m.call(ctx, OpStopCluster, func() error {
		return m.MemoryService.StopCluster(ctx, applicationID, clusterID)
	})
}

func (m *MockService) DestroyCluster(ctx context.Context, applicationID, clusterID string) error {
	return m.call(ctx, OpDestroyCluster, func() error {
		return m.MemoryService.DestroyCluster(ctx, applicationID, clusterID)
	})
}

func (m *MockService) GetClusters(ctx context.Context, applicationID string) (ids []string, err error) {
	err = m.call(ctx, OpGetClusters, func() (err error) {
		ids, err = m.MemoryService.GetClusters(ctx, applicationID)
		return err
	})

	return ids, err
}

func (m *MockService) GetClustersStates(ctx context.Context, applicationID string) (states map[string]string, err error) {
	err = m.call(ctx, OpGetClustersStates, func() (err error) {
		states, err = m.MemoryService.GetClustersStates(ctx, applicationID)
		return err
	})

	return states, err
}
