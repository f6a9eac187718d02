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

// Package launcher implements the task launch state machine. It accepts DEPLOY
// and UNDEPLOY events, serializes them through a mailbox and drives the
// check, push, submit and poll sequence against a cloudapp.Service.
//
// A package is pushed only when the live application listing does not contain
// the requested version. Every DEPLOY submits exactly once.
//
// One evaluator goroutine per machine owns the state machine. Remote calls run
// on an executor and report back through the mailbox, so SendEvent never
// blocks on remote I/O. External events that arrive while a request is in
// flight are held back and processed in order once the machine is ready again.
package launcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-collections/collections/queue"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/tiendc/go-deepcopy"
	"go.uber.org/zap"

	internalfsm "github.com/united-manufacturing-hub/task-launcher/internal/fsm"
	"github.com/united-manufacturing-hub/task-launcher/pkg/cloudapp"
	"github.com/united-manufacturing-hub/task-launcher/pkg/constants"
	"github.com/united-manufacturing-hub/task-launcher/pkg/execution"
	"github.com/united-manufacturing-hub/task-launcher/pkg/metrics"
	"github.com/united-manufacturing-hub/task-launcher/pkg/sentry"
)

const fsmType = "task_launcher"

// Config of a single machine.
type Config struct {
	MachineID string
	AppType   cloudapp.AppType
	// PollInterval and PollAttempts bound the wait for a submitted instance.
	PollInterval time.Duration
	PollAttempts int
}

func (c Config) withDefaults() Config {
	if c.MachineID == "" {
		c.MachineID = constants.DefaultMachineID
	}

	if c.AppType == "" {
		c.AppType = cloudapp.AppType(constants.DefaultAppType)
	}

	if c.PollInterval <= 0 {
		c.PollInterval = constants.DefaultPollInterval
	}

	if c.PollAttempts <= 0 {
		c.PollAttempts = constants.DefaultPollAttempts
	}

	return c
}

// Executor runs actions off the evaluator. *execution.ActionExecutor implements it.
type Executor interface {
	EnqueueAction(actionID string, action execution.Action, done execution.DoneFunc) error
}

type Machine struct {
	cfg      Config
	svc      cloudapp.Service
	executor Executor
	logger   *zap.SugaredLogger

	base    *internalfsm.Base
	mailbox *mailbox

	// owned by the evaluator goroutine
	deferred *queue.Queue
	current  *launchRecord
	next     func(ctx context.Context)

	transitions atomic.Int64

	// notifying is set while listeners run on the evaluator
	notifying atomic.Bool

	// mu protects the fields below
	mu          sync.Mutex
	listeners   []Listener
	deployments map[string][]string
	started     bool
	stopped     bool
	cancel      context.CancelFunc
	done        chan struct{}
}

// New builds a machine in ready. The executor is shared and owned by the caller.
func New(cfg Config, svc cloudapp.Service, executor Executor, logger *zap.SugaredLogger) *Machine {
	cfg = cfg.withDefaults()

	m := &Machine{
		cfg:         cfg,
		svc:         svc,
		executor:    executor,
		logger:      logger,
		mailbox:     newMailbox(),
		deferred:    queue.New(),
		deployments: make(map[string][]string),
		done:        make(chan struct{}),
	}

	m.base = internalfsm.New(internalfsm.Config{
		ID:           cfg.MachineID,
		InitialState: StateReady,
		Transitions:  transitions(),
	}, logger)

	m.base.OnTransition(m.onTransition)
	m.registerCallbacks()

	metrics.InitErrorCounter(metrics.ComponentLauncher, cfg.MachineID)

	return m
}

// registerCallbacks binds the work that follows entering a state. The work runs
// after looplab has finished the transition, never inside it.
func (m *Machine) registerCallbacks() {
	steps := map[string]func(ctx context.Context){
		StateCheckApp:     m.checkApp,
		StatePushApp:      m.push,
		StateSubmitApp:    m.submit,
		StatePollInstance: m.poll,
		StateKillApp:      m.kill,
		StateDeployed:     m.deployed,
		StateUndeployed:   m.undeployed,
		StateFailed:       m.failed,
		StateReady:        m.ready,
	}

	for state, step := range steps {
		m.base.AddCallback("enter_"+state, func(_ context.Context, _ *fsm.Event) {
			m.next = step
		})
	}
}

// Start moves the machine into service. It may be called once.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrStopped
	}

	if m.started {
		return fmt.Errorf("%s: %w", m.cfg.MachineID, ErrAlreadyStarted)
	}

	m.started = true

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	metrics.RecordStateTransition(m.cfg.MachineID, "", m.base.Current())

	go m.run(runCtx)

	return nil
}

// Stop halts the evaluator and waits for it. In-flight actions are not
// cancelled; their completions are dropped. Safe to call more than once.
// Called while listeners are being notified, for example from a listener
// itself, Stop cancels the evaluator and returns without waiting for it.
func (m *Machine) Stop() {
	m.mu.Lock()
	m.stopped = true
	cancel := m.cancel
	started := m.started
	m.mu.Unlock()

	if !started {
		return
	}

	cancel()

	if m.notifying.Load() {
		return
	}

	<-m.done
}

// SendEvent validates event, queues a private copy and returns its request ID.
// It does not wait for the event to be processed.
func (m *Machine) SendEvent(event Event) (string, error) {
	if err := event.Validate(); err != nil {
		return "", err
	}

	m.mu.Lock()
	started, stopped := m.started, m.stopped
	m.mu.Unlock()

	if stopped {
		return "", ErrStopped
	}

	if !started {
		return "", ErrNotStarted
	}

	var accepted Event
	if err := deepcopy.Copy(&accepted, &event); err != nil {
		return "", fmt.Errorf("copy event: %w", err)
	}

	requestID := uuid.NewString()
	depth := m.mailbox.put(message{requestID: requestID, event: &accepted})
	metrics.SetMailboxDepth(m.cfg.MachineID, depth)

	m.logger.Debugw("event accepted",
		"request_id", requestID,
		"event", accepted.Type,
		"app_version", accepted.Request.AppVersion)

	return requestID, nil
}

func (m *Machine) MachineID() string {
	return m.cfg.MachineID
}

func (m *Machine) State() string {
	return m.base.Current()
}

// TransitionCount is the number of transitions since Start.
func (m *Machine) TransitionCount() int64 {
	return m.transitions.Load()
}

// AddListener registers l for all following notifications.
func (m *Machine) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Deployments returns the tracked application IDs per app version.
func (m *Machine) Deployments() map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]string, len(m.deployments))
	for version, ids := range m.deployments {
		out[version] = append([]string(nil), ids...)
	}

	return out
}

func (m *Machine) run(ctx context.Context) {
	defer close(m.done)

	m.logger.Infow("machine started", "machine_id", m.cfg.MachineID, "state", m.base.Current())
	m.notify("started", func(l Listener) { l.OnStarted(m.cfg.MachineID) })

	for {
		msg, depth, ok := m.mailbox.next(ctx)
		if !ok {
			m.logger.Infow("machine stopped", "machine_id", m.cfg.MachineID, "state", m.base.Current())

			return
		}

		metrics.SetMailboxDepth(m.cfg.MachineID, depth)

		m.handle(ctx, msg)
		m.drainDeferred(ctx)
	}
}

func (m *Machine) handle(ctx context.Context, msg message) {
	if msg.isCompletion() {
		if msg.record != m.current {
			m.logger.Warnw("dropping completion of a finished request",
				"request_id", msg.record.requestID,
				"action", msg.action.Name())

			return
		}

		m.fire(ctx, msg.action.apply(msg.record, msg.err))

		return
	}

	if !m.base.Can(string(msg.event.Type)) {
		m.deferred.Enqueue(msg)
		m.logger.Debugw("event deferred until ready",
			"request_id", msg.requestID,
			"state", m.base.Current(),
			"deferred", m.deferred.Len())

		return
	}

	m.accept(ctx, msg)
}

func (m *Machine) drainDeferred(ctx context.Context) {
	for m.deferred.Len() > 0 {
		msg, _ := m.deferred.Peek().(message)
		if !m.base.Can(string(msg.event.Type)) {
			return
		}

		m.deferred.Dequeue()
		m.accept(ctx, msg)
	}
}

// accept starts working on an external event. The machine is in ready.
func (m *Machine) accept(ctx context.Context, msg message) {
	rec := newLaunchRecord(msg.requestID, *msg.event)

	switch rec.eventType {
	case EventTypeDeploy:
		m.current = rec
		m.fire(ctx, EventDeploy)

	case EventTypeUndeploy:
		rec.killTargets = m.killTargets(rec.request)
		if len(rec.killTargets) == 0 {
			m.logger.Infow("nothing to undeploy",
				"request_id", rec.requestID,
				"app_version", rec.request.AppVersion)

			return
		}

		m.current = rec
		m.fire(ctx, EventUndeploy)
	}
}

// fire sends event and then runs the step bound to the state it entered.
func (m *Machine) fire(ctx context.Context, event string) {
	from := m.base.Current()

	if err := m.base.SendEvent(ctx, event); err != nil {
		m.next = nil

		switch {
		case internalfsm.IsInvalidEvent(err):
			sentry.ReportFSMErrorf(m.logger, m.cfg.MachineID, fsmType, event,
				"event %s rejected in state %s, allowed %v: %v", event, from, m.base.AvailableEvents(), err)
		case ctx.Err() != nil:
			m.logger.Debugw("event dropped while stopping", "event", event, "state", from)
		default:
			m.logger.Warnw("event not sent", "event", event, "state", from, "error", err)
		}

		return
	}

	if step := m.next; step != nil {
		m.next = nil
		step(ctx)
	}
}

func (m *Machine) onTransition(_ context.Context, from, to, event string) {
	count := m.transitions.Add(1)
	metrics.RecordStateTransition(m.cfg.MachineID, from, to)

	if to == StateFailed && m.current != nil {
		m.current.failedIn = from
	}

	change := StateChange{
		MachineID: m.cfg.MachineID,
		From:      from,
		To:        to,
		Event:     event,
		Count:     count,
		Time:      time.Now(),
	}

	m.logger.Debugw("state changed", "from", from, "to", to, "event", event, "count", count)
	m.notify("state_changed", func(l Listener) { l.OnStateChanged(change) })
}

// dispatch hands action to the executor. Its completion comes back through the mailbox.
func (m *Machine) dispatch(ctx context.Context, action remoteAction) {
	rec := m.current

	err := m.executor.EnqueueAction(m.cfg.MachineID, action, func(err error) {
		depth := m.mailbox.put(message{requestID: rec.requestID, record: rec, action: action, err: err})
		metrics.SetMailboxDepth(m.cfg.MachineID, depth)
	})
	if err != nil {
		m.fire(ctx, fail(rec, fmt.Errorf("dispatch %s: %w", action.Name(), err)))
	}
}

func (m *Machine) checkApp(ctx context.Context) {
	m.dispatch(ctx, &checkAppAction{
		svc:     m.svc,
		kind:    m.cfg.AppType,
		version: m.current.request.AppVersion,
	})
}

func (m *Machine) push(ctx context.Context) {
	m.dispatch(ctx, &pushAction{
		svc:     m.svc,
		kind:    m.cfg.AppType,
		version: m.current.request.AppVersion,
	})
}

func (m *Machine) submit(ctx context.Context) {
	m.dispatch(ctx, &submitAction{
		svc:     m.svc,
		kind:    m.cfg.AppType,
		version: m.current.request.AppVersion,
		runArgs: m.current.request.SubmitArgs(),
	})
}

func (m *Machine) poll(ctx context.Context) {
	m.dispatch(ctx, &pollAction{
		svc:           m.svc,
		kind:          m.cfg.AppType,
		applicationID: m.current.applicationID,
		attempts:      m.cfg.PollAttempts,
		interval:      m.cfg.PollInterval,
	})
}

func (m *Machine) kill(ctx context.Context) {
	m.dispatch(ctx, &killAction{
		svc:     m.svc,
		kind:    m.cfg.AppType,
		targets: m.current.killTargets,
	})
}

func (m *Machine) deployed(ctx context.Context) {
	rec := m.current
	m.track(rec.request.AppVersion, rec.applicationID)

	result := DeploymentResult{
		RequestID:     rec.requestID,
		Type:          rec.eventType,
		AppVersion:    rec.request.AppVersion,
		ApplicationID: rec.applicationID,
		Pushed:        rec.pushed,
		Duration:      time.Since(rec.accepted),
	}

	metrics.RecordDeployment(m.cfg.MachineID, StateDeployed)
	m.logger.Infow("application deployed",
		"request_id", rec.requestID,
		"app_version", rec.request.AppVersion,
		"application_id", rec.applicationID,
		"pushed", rec.pushed,
		"duration_ms", result.Duration.Milliseconds())

	m.notify("deployment_completed", func(l Listener) { l.OnDeploymentCompleted(result) })
	m.fire(ctx, EventFinish)
}

func (m *Machine) undeployed(ctx context.Context) {
	rec := m.current
	m.untrack(rec.killed)

	result := DeploymentResult{
		RequestID:  rec.requestID,
		Type:       rec.eventType,
		AppVersion: rec.request.AppVersion,
		Killed:     append([]string(nil), rec.killed...),
		Duration:   time.Since(rec.accepted),
	}

	metrics.RecordDeployment(m.cfg.MachineID, StateUndeployed)
	m.logger.Infow("application undeployed",
		"request_id", rec.requestID,
		"app_version", rec.request.AppVersion,
		"killed", rec.killed)

	m.notify("deployment_completed", func(l Listener) { l.OnDeploymentCompleted(result) })
	m.fire(ctx, EventFinish)
}

func (m *Machine) failed(ctx context.Context) {
	rec := m.current
	m.untrack(rec.killed)

	failure := DeploymentFailure{
		RequestID:  rec.requestID,
		Type:       rec.eventType,
		AppVersion: rec.request.AppVersion,
		State:      rec.failedIn,
		Err:        rec.err,
	}

	metrics.RecordDeployment(m.cfg.MachineID, StateFailed)
	sentry.ReportFSMError(m.logger, m.cfg.MachineID, fsmType, string(rec.eventType), rec.err)

	m.notify("deployment_failed", func(l Listener) { l.OnDeploymentFailed(failure) })
	m.fire(ctx, EventFinish)
}

func (m *Machine) ready(context.Context) {
	m.current = nil
}

func (m *Machine) killTargets(req Request) []string {
	if req.ApplicationID != "" {
		return []string{req.ApplicationID}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.deployments[req.AppVersion]...)
}

func (m *Machine) track(version, applicationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deployments[version] = append(m.deployments[version], applicationID)
}

func (m *Machine) untrack(ids []string) {
	if len(ids) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	gone := make(map[string]bool, len(ids))
	for _, id := range ids {
		gone[id] = true
	}

	// an explicit UNDEPLOY ID may be tracked under any version
	for v, tracked := range m.deployments {
		kept := tracked[:0]
		for _, id := range tracked {
			if !gone[id] {
				kept = append(kept, id)
			}
		}

		if len(kept) == 0 {
			delete(m.deployments, v)
		} else {
			m.deployments[v] = kept
		}
	}
}

func (m *Machine) recordListenerPanic(kind string, err error) {
	metrics.RecordListenerPanic(m.cfg.MachineID)
	sentry.ReportFSMError(m.logger, m.cfg.MachineID, fsmType, kind, err)
}
