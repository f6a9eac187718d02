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

package execution

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/task-launcher/pkg/constants"
	"github.com/united-manufacturing-hub/task-launcher/pkg/metrics"
)

var (
	ErrQueueFull        = errors.New("action queue full")
	ErrActionInProgress = errors.New("action already in progress")
	ErrShutdown         = errors.New("executor shut down")
)

// Action is a single remote call. Execute must honour ctx.
type Action interface {
	Name() string
	Execute(ctx context.Context) error
}

// DoneFunc receives the result of an executed action.
type DoneFunc func(err error)

// ActionFunc adapts a function to Action.
type ActionFunc struct {
	ActionName string
	Fn         func(ctx context.Context) error
}

func (a ActionFunc) Name() string { return a.ActionName }

func (a ActionFunc) Execute(ctx context.Context) error { return a.Fn(ctx) }

type ActionExecutor struct {
	poolID         string
	workerCount    int
	actionQueue    chan actionWork
	inProgress     map[string]bool
	mu             sync.RWMutex
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	timeouts       map[string]time.Duration // by action name
	defaultTimeout time.Duration
	metricsCancel  context.CancelFunc
	metricsWg      sync.WaitGroup
	logger         *zap.SugaredLogger
	closed         bool
	closeOnce      sync.Once
}

type actionWork struct {
	actionID string
	action   Action
	timeout  time.Duration
	done     DoneFunc
}

func NewActionExecutor(workerCount int, poolID string, logger *zap.SugaredLogger) *ActionExecutor {
	return NewActionExecutorWithTimeout(workerCount, nil, poolID, logger)
}

// NewActionExecutorWithTimeout overrides the default timeout for the action names in timeouts.
func NewActionExecutorWithTimeout(workerCount int, timeouts map[string]time.Duration, poolID string, logger *zap.SugaredLogger) *ActionExecutor {
	if workerCount <= 0 {
		workerCount = constants.DefaultExecutorWorkers
	}

	if timeouts == nil {
		timeouts = make(map[string]time.Duration)
	}

	return &ActionExecutor{
		poolID:         poolID,
		workerCount:    workerCount,
		actionQueue:    make(chan actionWork, workerCount*2),
		inProgress:     make(map[string]bool),
		timeouts:       timeouts,
		defaultTimeout: constants.DefaultActionTimeout,
		logger:         logger,
	}
}

// SetDefaultTimeout must be called before Start.
func (ae *ActionExecutor) SetDefaultTimeout(timeout time.Duration) {
	if timeout > 0 {
		ae.defaultTimeout = timeout
	}
}

func (ae *ActionExecutor) Start(ctx context.Context) {
	ae.ctx, ae.cancel = context.WithCancel(ctx)

	for range ae.workerCount {
		ae.wg.Add(1)

		go ae.worker()
	}

	metricsCtx, metricsCancel := context.WithCancel(ctx)
	ae.metricsCancel = metricsCancel
	ae.metricsWg.Add(1)

	go ae.metricsReporter(metricsCtx)
}

func (ae *ActionExecutor) worker() {
	defer ae.wg.Done()

	for {
		select {
		case <-ae.ctx.Done():
			return

		case work, ok := <-ae.actionQueue:
			if !ok {
				return
			}

			ae.executeWorkWithRecovery(work)
		}
	}
}

// executeWorkWithRecovery runs one action. A panicking action does not take the worker down.
func (ae *ActionExecutor) executeWorkWithRecovery(work actionWork) {
	startTime := time.Now()

	actionCtx, cancel := context.WithTimeout(ae.ctx, work.timeout)
	defer cancel()

	var err error

	var status string

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action %s panicked: %v", work.action.Name(), r)
			status = "panic"

			ae.logger.Errorw("action_panic",
				"pool", ae.poolID,
				"action_id", work.actionID,
				"action", work.action.Name(),
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()))
		}

		// Cleared before done so the callback may enqueue the next action for this ID.
		ae.mu.Lock()
		delete(ae.inProgress, work.actionID)
		ae.mu.Unlock()

		duration := time.Since(startTime)

		if status == "" {
			switch {
			case err == nil:
				status = "success"
			case errors.Is(err, context.DeadlineExceeded):
				status = "timeout"
			default:
				status = "error"
			}
		}

		metrics.RecordActionExecutionDuration(ae.poolID, work.action.Name(), status, duration)

		if work.done != nil {
			work.done(err)
		}
	}()

	err = work.action.Execute(actionCtx)

	duration := time.Since(startTime)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.RecordActionTimeout(ae.poolID, work.action.Name())

			ae.logger.Warnw("action_failed",
				"pool", ae.poolID,
				"action_id", work.actionID,
				"action", work.action.Name(),
				"error", "timeout",
				"duration_ms", duration.Milliseconds(),
				"timeout_ms", work.timeout.Milliseconds())
		} else {
			ae.logger.Warnw("action_failed",
				"pool", ae.poolID,
				"action_id", work.actionID,
				"action", work.action.Name(),
				"error", err.Error(),
				"duration_ms", duration.Milliseconds())
		}
	} else {
		ae.logger.Debugw("action_completed",
			"pool", ae.poolID,
			"action_id", work.actionID,
			"action", work.action.Name(),
			"duration_ms", duration.Milliseconds())
	}
}

// EnqueueAction adds an action to the execution queue without blocking.
// It returns ErrActionInProgress if actionID already has an action queued or
// running, and ErrQueueFull if the buffer is exhausted. done is not called
// when EnqueueAction returns an error.
//
// Thread-safe: multiple goroutines can call EnqueueAction concurrently.
func (ae *ActionExecutor) EnqueueAction(actionID string, action Action, done DoneFunc) error {
	ae.mu.Lock()
	defer ae.mu.Unlock()

	if ae.closed {
		return ErrShutdown
	}

	if ae.inProgress[actionID] {
		return fmt.Errorf("%s: %w", actionID, ErrActionInProgress)
	}

	timeout, exists := ae.timeouts[action.Name()]
	if !exists {
		timeout = ae.defaultTimeout
	}

	work := actionWork{
		actionID: actionID,
		action:   action,
		timeout:  timeout,
		done:     done,
	}

	select {
	case ae.actionQueue <- work:
		ae.inProgress[actionID] = true
		metrics.RecordActionQueued(ae.poolID, action.Name())

		return nil
	default:
		return ErrQueueFull
	}
}

func (ae *ActionExecutor) metricsReporter(ctx context.Context) {
	defer ae.metricsWg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ae.mu.RLock()
			queueSize := len(ae.actionQueue)
			inProgressCount := len(ae.inProgress)
			ae.mu.RUnlock()

			metrics.RecordWorkerPoolQueueSize(ae.poolID, queueSize)
			metrics.RecordWorkerPoolUtilization(ae.poolID, float64(inProgressCount)/float64(ae.workerCount))
		}
	}
}

// HasActionInProgress reports whether actionID has an action queued or running.
func (ae *ActionExecutor) HasActionInProgress(actionID string) bool {
	ae.mu.RLock()
	defer ae.mu.RUnlock()

	return ae.inProgress[actionID]
}

// GetActiveActionCount returns the number of actions queued or running.
func (ae *ActionExecutor) GetActiveActionCount() int {
	ae.mu.RLock()
	defer ae.mu.RUnlock()

	return len(ae.inProgress)
}

// Shutdown stops the workers and waits for running actions to return.
// Queued actions that have not started are dropped. Safe to call more than once.
func (ae *ActionExecutor) Shutdown() {
	if ae.metricsCancel != nil {
		ae.metricsCancel()
	}

	ae.metricsWg.Wait()

	ae.closeOnce.Do(func() {
		ae.mu.Lock()
		ae.closed = true
		close(ae.actionQueue)
		ae.mu.Unlock()
	})

	if ae.cancel != nil {
		ae.cancel()
	}

	ae.wg.Wait()
}
