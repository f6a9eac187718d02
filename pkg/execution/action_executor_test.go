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

package execution_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/task-launcher/pkg/execution"
)

func action(name string, fn func(ctx context.Context) error) execution.Action {
	return execution.ActionFunc{ActionName: name, Fn: fn}
}

func noop(context.Context) error { return nil }

var _ = Describe("ActionExecutor", func() {
	var (
		executor *execution.ActionExecutor
		ctx      context.Context
		cancel   context.CancelFunc
		logger   *zap.SugaredLogger
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		logger = zap.NewNop().Sugar()
		executor = execution.NewActionExecutor(4, "test-pool", logger)
		executor.Start(ctx)
	})

	AfterEach(func() {
		cancel()
		executor.Shutdown()
	})

	Describe("Constructor", func() {
		It("should fall back to the default worker count for invalid input", func() {
			Expect(execution.NewActionExecutor(0, "p", logger)).ToNot(BeNil())
			Expect(execution.NewActionExecutorWithTimeout(-3, nil, "p", logger)).ToNot(BeNil())
		})
	})

	Describe("EnqueueAction", func() {
		It("should execute the action and report success", func() {
			done := make(chan error, 1)

			Expect(executor.EnqueueAction("m1", action("list", noop), func(err error) { done <- err })).To(Succeed())

			var result error
			Eventually(done).Should(Receive(&result))
			Expect(result).ToNot(HaveOccurred())
			Eventually(func() bool { return executor.HasActionInProgress("m1") }).Should(BeFalse())
		})

		It("should reject a second action for the same ID while one is in flight", func() {
			block := make(chan struct{})
			defer close(block)

			slow := action("push", func(context.Context) error {
				<-block

				return nil
			})

			Expect(executor.EnqueueAction("m1", slow, nil)).To(Succeed())
			Expect(executor.HasActionInProgress("m1")).To(BeTrue())

			err := executor.EnqueueAction("m1", action("submit", noop), nil)
			Expect(err).To(MatchError(execution.ErrActionInProgress))

			Expect(executor.EnqueueAction("m2", action("submit", noop), nil)).To(Succeed())
		})

		It("should allow the done callback to enqueue the next action for the same ID", func() {
			var steps atomic.Int32

			finished := make(chan struct{})

			var next func(err error)
			next = func(err error) {
				Expect(err).ToNot(HaveOccurred())

				if steps.Add(1) == 3 {
					close(finished)

					return
				}

				Expect(executor.EnqueueAction("m1", action("step", noop), next)).To(Succeed())
			}

			Expect(executor.EnqueueAction("m1", action("step", noop), next)).To(Succeed())
			Eventually(finished).Should(BeClosed())
			Expect(steps.Load()).To(Equal(int32(3)))
		})

		It("should return ErrQueueFull when workers and buffer are exhausted", func() {
			block := make(chan struct{})
			defer close(block)

			blocking := action("push", func(context.Context) error {
				<-block

				return nil
			})

			var lastErr error
			for i := range 4 + 8 + 1 {
				if err := executor.EnqueueAction(fmt.Sprintf("m-%d", i), blocking, nil); err != nil {
					lastErr = err

					break
				}
			}

			Expect(lastErr).To(MatchError(execution.ErrQueueFull))
		})

		It("should count queued and running actions", func() {
			block := make(chan struct{})

			blocking := action("push", func(context.Context) error {
				<-block

				return nil
			})

			Expect(executor.EnqueueAction("a", blocking, nil)).To(Succeed())
			Expect(executor.EnqueueAction("b", blocking, nil)).To(Succeed())
			Expect(executor.GetActiveActionCount()).To(Equal(2))

			close(block)
			Eventually(executor.GetActiveActionCount).Should(BeZero())
		})
	})

	Describe("Timeouts", func() {
		It("should cancel actions that exceed their timeout", func() {
			timed := execution.NewActionExecutorWithTimeout(1, map[string]time.Duration{"slow": 50 * time.Millisecond}, "timeout-pool", logger)
			timed.Start(ctx)
			defer timed.Shutdown()

			done := make(chan error, 1)
			slow := action("slow", func(ctx context.Context) error {
				<-ctx.Done()

				return ctx.Err()
			})

			Expect(timed.EnqueueAction("m1", slow, func(err error) { done <- err })).To(Succeed())

			var result error
			Eventually(done).Should(Receive(&result))
			Expect(result).To(MatchError(context.DeadlineExceeded))
		})

		It("should apply the default timeout to unnamed actions", func() {
			timed := execution.NewActionExecutor(1, "default-timeout-pool", logger)
			timed.SetDefaultTimeout(30 * time.Millisecond)
			timed.Start(ctx)
			defer timed.Shutdown()

			done := make(chan error, 1)
			slow := action("anything", func(ctx context.Context) error {
				<-ctx.Done()

				return ctx.Err()
			})

			Expect(timed.EnqueueAction("m1", slow, func(err error) { done <- err })).To(Succeed())
			Eventually(done).Should(Receive(MatchError(context.DeadlineExceeded)))
		})
	})

	Describe("Panic recovery", func() {
		It("should turn a panic into an error and keep the worker alive", func() {
			done := make(chan error, 2)

			Expect(executor.EnqueueAction("m1", action("boom", func(context.Context) error {
				panic("kaboom")
			}), func(err error) { done <- err })).To(Succeed())

			var result error
			Eventually(done).Should(Receive(&result))
			Expect(result).To(MatchError(ContainSubstring("kaboom")))
			Expect(executor.HasActionInProgress("m1")).To(BeFalse())

			Expect(executor.EnqueueAction("m1", action("list", noop), func(err error) { done <- err })).To(Succeed())
			Eventually(done).Should(Receive(BeNil()))
		})
	})

	Describe("Shutdown", func() {
		It("should reject actions after shutdown and be idempotent", func() {
			executor.Shutdown()

			Expect(executor.EnqueueAction("m1", action("list", noop), nil)).To(MatchError(execution.ErrShutdown))
			Expect(executor.Shutdown).ToNot(Panic())
		})
	})
})
