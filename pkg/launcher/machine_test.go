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

package launcher_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/united-manufacturing-hub/task-launcher/pkg/cloudapp"
	"github.com/united-manufacturing-hub/task-launcher/pkg/execution"
	"github.com/united-manufacturing-hub/task-launcher/pkg/launcher"
)

const (
	waitTimeout = 5 * time.Second
	version     = "1.0.0"
)

var (
	pushPath = []string{
		launcher.StateCheckApp,
		launcher.StatePushApp,
		launcher.StateSubmitApp,
		launcher.StatePollInstance,
		launcher.StateDeployed,
		launcher.StateReady,
	}
	skipPath = []string{
		launcher.StateCheckApp,
		launcher.StateSubmitApp,
		launcher.StatePollInstance,
		launcher.StateDeployed,
		launcher.StateReady,
	}
)

// invisibleInstances never lists any instance, so readiness polling always fails.
type invisibleInstances struct {
	*cloudapp.MockService
	polls atomic.Int32
}

func (s *invisibleInstances) ListInstances(context.Context, cloudapp.AppType) ([]cloudapp.InstanceInfo, error) {
	s.polls.Add(1)

	return nil, nil
}

// rejectingExecutor refuses every action.
type rejectingExecutor struct{}

func (rejectingExecutor) EnqueueAction(string, execution.Action, execution.DoneFunc) error {
	return execution.ErrQueueFull
}

func deploy(m *launcher.Machine, appVersion string) string {
	GinkgoHelper()

	id, err := m.SendEvent(launcher.NewDeployEvent(appVersion, nil, nil))
	Expect(err).ToNot(HaveOccurred())
	Expect(id).ToNot(BeEmpty())

	return id
}

var _ = Describe("Machine", func() {
	var (
		ctx      context.Context
		cancel   context.CancelFunc
		logger   *zap.SugaredLogger
		mock     *cloudapp.MockService
		executor *execution.ActionExecutor
		machine  *launcher.Machine
		recorder *launcher.RecordingListener
		cfg      launcher.Config
	)

	newMachine := func(svc cloudapp.Service, exec launcher.Executor) *launcher.Machine {
		m := launcher.New(cfg, svc, exec, logger)
		m.AddListener(recorder)

		return m
	}

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		logger = zaptest.NewLogger(GinkgoT()).Sugar()
		mock = cloudapp.NewMockService()
		recorder = launcher.NewRecordingListener()
		cfg = launcher.Config{
			MachineID:    "test-launcher",
			AppType:      cloudapp.AppTypeTask,
			PollInterval: 5 * time.Millisecond,
			PollAttempts: 3,
		}

		executor = execution.NewActionExecutor(1, "test-pool", logger)
		executor.Start(ctx)

		machine = newMachine(mock, executor)
	})

	AfterEach(func() {
		machine.Stop()
		cancel()
		executor.Shutdown()
	})

	Describe("Start", func() {
		It("notifies started exactly once and refuses a second start", func() {
			Expect(machine.State()).To(Equal(launcher.StateReady))
			Expect(machine.Start(ctx)).To(Succeed())
			Expect(recorder.WaitStarted(time.Second)).To(BeTrue())

			Expect(machine.Start(ctx)).To(MatchError(launcher.ErrAlreadyStarted))
			Consistently(recorder.StartedCount, 100*time.Millisecond).Should(Equal(1))
			Expect(machine.TransitionCount()).To(BeZero())
		})

		It("rejects events before start and after stop", func() {
			_, err := machine.SendEvent(launcher.NewDeployEvent(version, nil, nil))
			Expect(err).To(MatchError(launcher.ErrNotStarted))

			Expect(machine.Start(ctx)).To(Succeed())
			machine.Stop()
			machine.Stop()

			_, err = machine.SendEvent(launcher.NewDeployEvent(version, nil, nil))
			Expect(err).To(MatchError(launcher.ErrStopped))
			Expect(machine.Start(ctx)).To(MatchError(launcher.ErrStopped))
		})
	})

	Context("when started", func() {
		BeforeEach(func() {
			Expect(machine.Start(ctx)).To(Succeed())
			Expect(recorder.WaitStarted(time.Second)).To(BeTrue())
		})

		Describe("SendEvent validation", func() {
			It("rejects a missing application version", func() {
				_, err := machine.SendEvent(launcher.NewDeployEvent("", nil, nil))
				Expect(err).To(MatchError(launcher.ErrMissingHeader))

				_, err = machine.SendEvent(launcher.NewUndeployEvent("  ", ""))
				Expect(err).To(MatchError(launcher.ErrMissingHeader))
			})

			It("rejects unknown event types", func() {
				_, err := machine.SendEvent(launcher.Event{Type: "RESTART", Request: launcher.Request{AppVersion: version}})
				Expect(err).To(MatchError(launcher.ErrUnknownEvent))
			})

			It("does not queue rejected events", func() {
				_, _ = machine.SendEvent(launcher.NewDeployEvent("", nil, nil))
				Consistently(machine.TransitionCount, 100*time.Millisecond).Should(BeZero())
				Expect(mock.CallCount(cloudapp.OpListApplications)).To(BeZero())
			})
		})

		Describe("DEPLOY", func() {
			It("pushes and submits a version that is not resident", func() {
				requestID := deploy(machine, version)

				Expect(recorder.WaitCompleted(1, waitTimeout)).To(BeTrue())
				Expect(recorder.WaitTransitions(6, waitTimeout)).To(BeTrue())

				Expect(machine.TransitionCount()).To(Equal(int64(6)))
				Expect(recorder.States()).To(Equal(pushPath))
				Expect(machine.State()).To(Equal(launcher.StateReady))

				Expect(mock.CallCount(cloudapp.OpListApplications)).To(Equal(1))
				Expect(mock.CallCount(cloudapp.OpPushApplication)).To(Equal(1))
				Expect(mock.CallCount(cloudapp.OpSubmitApplication)).To(Equal(1))

				result := recorder.Completed()[0]
				Expect(result.RequestID).To(Equal(requestID))
				Expect(result.Type).To(Equal(launcher.EventTypeDeploy))
				Expect(result.Pushed).To(BeTrue())
				Expect(result.ApplicationID).To(HavePrefix("application_"))
				Expect(machine.Deployments()).To(HaveKeyWithValue(version, []string{result.ApplicationID}))
			})

			It("pushes once and submits every time for back-to-back deploys", func() {
				deploy(machine, version)
				deploy(machine, version)

				Expect(recorder.WaitCompleted(2, waitTimeout)).To(BeTrue())
				Expect(recorder.WaitTransitions(11, waitTimeout)).To(BeTrue())

				Expect(machine.TransitionCount()).To(Equal(int64(11)))
				Expect(recorder.States()).To(Equal(append(append([]string{}, pushPath...), skipPath...)))

				Expect(mock.CallCount(cloudapp.OpListApplications)).To(Equal(2))
				Expect(mock.CallCount(cloudapp.OpPushApplication)).To(Equal(1))
				Expect(mock.CallCount(cloudapp.OpSubmitApplication)).To(Equal(2))

				results := recorder.Completed()
				Expect(results[0].Pushed).To(BeTrue())
				Expect(results[1].Pushed).To(BeFalse())
				Expect(results[0].ApplicationID).ToNot(Equal(results[1].ApplicationID))
				Expect(machine.Deployments()[version]).To(HaveLen(2))
			})

			It("numbers state changes consecutively and chains them", func() {
				deploy(machine, version)
				deploy(machine, version)
				Expect(recorder.WaitTransitions(11, waitTimeout)).To(BeTrue())

				changes := recorder.Changes()
				previous := launcher.StateReady

				for i, change := range changes {
					Expect(change.Count).To(Equal(int64(i + 1)))
					Expect(change.From).To(Equal(previous))
					Expect(change.MachineID).To(Equal("test-launcher"))
					previous = change.To
				}
			})

			It("pushes again after the package was removed out of band", func() {
				deploy(machine, version)
				Expect(recorder.WaitTransitions(6, waitTimeout)).To(BeTrue())

				mock.RemoveApplication(version, cloudapp.AppTypeTask)

				deploy(machine, version)
				Expect(recorder.WaitTransitions(12, waitTimeout)).To(BeTrue())
				Expect(mock.CallCount(cloudapp.OpPushApplication)).To(Equal(2))
				Expect(mock.CallCount(cloudapp.OpSubmitApplication)).To(Equal(2))
			})

			It("forwards definition parameters without touching the caller's values", func() {
				params := map[string]string{"b": "2", "a": "1"}
				args := []string{"--verbose"}

				_, err := machine.SendEvent(launcher.NewDeployEvent(version, params, args))
				Expect(err).ToNot(HaveOccurred())

				params["c"] = "3"
				args[0] = "--quiet"

				Expect(recorder.WaitCompleted(1, waitTimeout)).To(BeTrue())

				calls := mock.SubmitCalls()
				Expect(calls).To(HaveLen(1))
				Expect(calls[0].RunArgs).To(Equal([]string{"--verbose", "--a=1", "--b=2"}))
				Expect(calls[0].Kind).To(Equal(cloudapp.AppTypeTask))
				Expect(params).To(HaveLen(3))
				Expect(args).To(Equal([]string{"--quiet"}))
			})

			It("repeats the two-deploy scenario 100 times with identical counts", func() {
				for i := range 100 {
					v := fmt.Sprintf("soak-%d", i)

					pushes := mock.CallCount(cloudapp.OpPushApplication)
					submits := mock.CallCount(cloudapp.OpSubmitApplication)
					lists := mock.CallCount(cloudapp.OpListApplications)
					transitions := machine.TransitionCount()

					recorder.Reset()
					deploy(machine, v)
					deploy(machine, v)

					Expect(recorder.WaitCompleted(2, waitTimeout)).To(BeTrue(), "iteration %d", i)
					Expect(recorder.WaitTransitions(11, waitTimeout)).To(BeTrue(), "iteration %d", i)

					Expect(machine.TransitionCount()-transitions).To(Equal(int64(11)), "iteration %d", i)
					Expect(mock.CallCount(cloudapp.OpPushApplication)-pushes).To(Equal(1), "iteration %d", i)
					Expect(mock.CallCount(cloudapp.OpSubmitApplication)-submits).To(Equal(2), "iteration %d", i)
					Expect(mock.CallCount(cloudapp.OpListApplications)-lists).To(Equal(2), "iteration %d", i)
					Expect(machine.State()).To(Equal(launcher.StateReady))
				}
			})
		})

		Describe("failures", func() {
			It("returns to ready when the push fails", func() {
				boom := errors.New("registry unavailable")
				mock.WithError(cloudapp.OpPushApplication, boom)

				requestID := deploy(machine, version)

				Expect(recorder.WaitFailed(1, waitTimeout)).To(BeTrue())
				Expect(recorder.WaitTransitions(4, waitTimeout)).To(BeTrue())
				Expect(recorder.States()).To(Equal([]string{
					launcher.StateCheckApp, launcher.StatePushApp, launcher.StateFailed, launcher.StateReady,
				}))
				Expect(machine.State()).To(Equal(launcher.StateReady))

				failure := recorder.Failures()[0]
				Expect(failure.RequestID).To(Equal(requestID))
				Expect(failure.State).To(Equal(launcher.StatePushApp))
				Expect(failure.Err).To(MatchError(boom))
				Expect(mock.CallCount(cloudapp.OpSubmitApplication)).To(BeZero())

				mock.ClearError(cloudapp.OpPushApplication)
				deploy(machine, version)

				Expect(recorder.WaitCompleted(1, waitTimeout)).To(BeTrue())
				Expect(recorder.WaitTransitions(10, waitTimeout)).To(BeTrue())
			})

			It("skips the push on retry when only the submission failed", func() {
				mock.WithError(cloudapp.OpSubmitApplication, errors.New("no capacity"))

				deploy(machine, version)
				Expect(recorder.WaitFailed(1, waitTimeout)).To(BeTrue())
				Expect(recorder.WaitTransitions(5, waitTimeout)).To(BeTrue())
				Expect(recorder.Failures()[0].State).To(Equal(launcher.StateSubmitApp))

				mock.ClearError(cloudapp.OpSubmitApplication)
				deploy(machine, version)

				Expect(recorder.WaitCompleted(1, waitTimeout)).To(BeTrue())
				Expect(recorder.WaitTransitions(10, waitTimeout)).To(BeTrue())
				Expect(recorder.States()[5:]).To(Equal(skipPath))
				Expect(mock.CallCount(cloudapp.OpPushApplication)).To(Equal(1))
				Expect(mock.CallCount(cloudapp.OpSubmitApplication)).To(Equal(2))
			})

			It("fails when the submitted instance never shows up", func() {
				machine.Stop()

				hidden := &invisibleInstances{MockService: mock}
				machine = newMachine(hidden, executor)
				Expect(machine.Start(ctx)).To(Succeed())

				deploy(machine, version)

				Expect(recorder.WaitFailed(1, waitTimeout)).To(BeTrue())
				failure := recorder.Failures()[0]
				Expect(failure.Err).To(MatchError(launcher.ErrInstanceNotReady))
				Expect(failure.State).To(Equal(launcher.StatePollInstance))
				Expect(hidden.polls.Load()).To(Equal(int32(3)))
				Expect(machine.Deployments()).To(BeEmpty())
			})

			It("fails without a remote call when the executor refuses the action", func() {
				machine.Stop()

				machine = newMachine(mock, rejectingExecutor{})
				Expect(machine.Start(ctx)).To(Succeed())

				deploy(machine, version)

				Expect(recorder.WaitFailed(1, waitTimeout)).To(BeTrue())
				Expect(recorder.WaitTransitions(3, waitTimeout)).To(BeTrue())
				Expect(recorder.Failures()[0].Err).To(MatchError(execution.ErrQueueFull))
				Expect(recorder.Failures()[0].State).To(Equal(launcher.StateCheckApp))
				Expect(machine.State()).To(Equal(launcher.StateReady))
				Expect(mock.CallCount(cloudapp.OpListApplications)).To(BeZero())
			})

			It("survives a panicking listener", func() {
				machine.AddListener(launcher.ListenerFunc(func(launcher.StateChange) {
					panic("listener bug")
				}))

				deploy(machine, version)

				Expect(recorder.WaitCompleted(1, waitTimeout)).To(BeTrue())
				Expect(recorder.WaitTransitions(6, waitTimeout)).To(BeTrue())
				Expect(recorder.States()).To(Equal(pushPath))
				Expect(machine.State()).To(Equal(launcher.StateReady))
			})

			It("lets a listener stop the machine", func() {
				stopped := make(chan struct{})
				machine.AddListener(launcher.ListenerFunc(func(change launcher.StateChange) {
					if change.To == launcher.StateCheckApp {
						machine.Stop()
						close(stopped)
					}
				}))

				deploy(machine, version)

				Eventually(stopped, waitTimeout).Should(BeClosed())
				_, err := machine.SendEvent(launcher.NewDeployEvent(version, nil, nil))
				Expect(err).To(MatchError(launcher.ErrStopped))

				done := make(chan struct{})
				go func() {
					machine.Stop()
					close(done)
				}()
				Eventually(done, waitTimeout).Should(BeClosed())
				Expect(recorder.Completed()).To(BeEmpty())
			})
		})

		Describe("UNDEPLOY", func() {
			It("kills every tracked instance of the version", func() {
				deploy(machine, version)
				deploy(machine, version)
				Expect(recorder.WaitCompleted(2, waitTimeout)).To(BeTrue())

				ids := machine.Deployments()[version]
				Expect(ids).To(HaveLen(2))

				_, err := machine.SendEvent(launcher.NewUndeployEvent(version, ""))
				Expect(err).ToNot(HaveOccurred())

				Expect(recorder.WaitCompleted(3, waitTimeout)).To(BeTrue())
				Expect(recorder.WaitTransitions(14, waitTimeout)).To(BeTrue())
				Expect(recorder.States()[11:]).To(Equal([]string{
					launcher.StateKillApp, launcher.StateUndeployed, launcher.StateReady,
				}))

				Expect(mock.KillCalls()).To(ConsistOf(ids))
				Expect(recorder.Completed()[2].Killed).To(ConsistOf(ids))
				Expect(machine.Deployments()).To(BeEmpty())

				instances, err := mock.ListInstances(ctx, cloudapp.AppTypeTask)
				Expect(err).ToNot(HaveOccurred())
				Expect(instances).To(BeEmpty())
			})

			It("kills only the named instance", func() {
				deploy(machine, version)
				deploy(machine, version)
				Expect(recorder.WaitCompleted(2, waitTimeout)).To(BeTrue())

				ids := machine.Deployments()[version]

				_, err := machine.SendEvent(launcher.NewUndeployEvent(version, ids[0]))
				Expect(err).ToNot(HaveOccurred())

				Expect(recorder.WaitCompleted(3, waitTimeout)).To(BeTrue())
				Expect(mock.KillCalls()).To(Equal([]string{ids[0]}))
				Expect(machine.Deployments()).To(HaveKeyWithValue(version, []string{ids[1]}))
			})

			It("is a no-op without any tracked instance", func() {
				_, err := machine.SendEvent(launcher.NewUndeployEvent("9.9.9", ""))
				Expect(err).ToNot(HaveOccurred())

				deploy(machine, version)
				Expect(recorder.WaitCompleted(1, waitTimeout)).To(BeTrue())
				Expect(recorder.WaitTransitions(6, waitTimeout)).To(BeTrue())

				Expect(machine.TransitionCount()).To(Equal(int64(6)))
				Expect(recorder.States()).To(Equal(pushPath))
				Expect(mock.KillCalls()).To(BeEmpty())
			})

			It("keeps instances tracked when the kill fails", func() {
				deploy(machine, version)
				Expect(recorder.WaitCompleted(1, waitTimeout)).To(BeTrue())

				mock.WithError(cloudapp.OpKillApplication, errors.New("kill refused"))

				_, err := machine.SendEvent(launcher.NewUndeployEvent(version, ""))
				Expect(err).ToNot(HaveOccurred())

				Expect(recorder.WaitFailed(1, waitTimeout)).To(BeTrue())
				Expect(recorder.Failures()[0].State).To(Equal(launcher.StateKillApp))
				Expect(machine.Deployments()[version]).To(HaveLen(1))
			})
		})
	})

	Describe("concurrent delivery", func() {
		It("never runs two remote calls of one machine at the same time", func() {
			machine.Stop()
			executor.Shutdown()

			mock.WithDelay(10 * time.Millisecond)

			executor = execution.NewActionExecutor(4, "concurrent-pool", logger)
			executor.Start(ctx)

			machine = newMachine(mock, executor)
			Expect(machine.Start(ctx)).To(Succeed())

			const senders = 8

			var wg sync.WaitGroup
			for range senders {
				wg.Add(1)

				go func() {
					defer GinkgoRecover()
					defer wg.Done()

					_, err := machine.SendEvent(launcher.NewDeployEvent(version, nil, nil))
					Expect(err).ToNot(HaveOccurred())
				}()
			}

			wg.Wait()

			Expect(recorder.WaitCompleted(senders, 20*time.Second)).To(BeTrue())
			Expect(recorder.WaitTransitions(6+5*(senders-1), waitTimeout)).To(BeTrue())

			Expect(mock.MaxConcurrentCalls()).To(Equal(1))
			Expect(mock.CallCount(cloudapp.OpPushApplication)).To(Equal(1))
			Expect(mock.CallCount(cloudapp.OpSubmitApplication)).To(Equal(senders))
			Expect(machine.TransitionCount()).To(Equal(int64(6 + 5*(senders-1))))
		})
	})
})
