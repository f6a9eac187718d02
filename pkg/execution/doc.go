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

// Package execution provides the ActionExecutor that runs remote actions for
// the launcher state machines.
//
// # Overview
//
// The ActionExecutor handles asynchronous execution of actions with:
//   - Non-blocking enqueue (the state machine evaluator is never blocked)
//   - Per-action timeout with context cancellation
//   - Worker pool for concurrent execution across machines
//   - At most one action in flight per action ID
//
// # Action IDs
//
// Callers use the machine ID as action ID. A machine therefore never has two
// remote calls running at once, no matter how many workers the pool has.
// EnqueueAction returns ErrActionInProgress while the previous action for the
// same ID has not completed.
//
// # Completion
//
// EnqueueAction takes a DoneFunc. It is called exactly once per executed
// action, from the worker goroutine, after the in-progress mark has been
// cleared. A machine can therefore enqueue its next action from within the
// completion path. Panics inside actions are recovered and reported to the
// DoneFunc as errors.
//
// # Worker pool
//
// The pool has a fixed number of workers with a buffered queue of twice that
// size. If the queue is full, enqueue returns ErrQueueFull instead of blocking.
//
// # Usage
//
//	executor := execution.NewActionExecutor(4, "launcher", logger)
//	executor.Start(ctx)
//	defer executor.Shutdown()
//
//	err := executor.EnqueueAction(machineID, action, func(err error) {
//	    // post the result back to the machine
//	})
package execution
