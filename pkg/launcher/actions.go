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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/united-manufacturing-hub/task-launcher/pkg/cloudapp"
	"github.com/united-manufacturing-hub/task-launcher/pkg/execution"
)

// remoteAction is run by the executor. Execute stores its result on the
// action itself; apply is called on the evaluator afterwards and decides the
// next event. apply is the guard of the transition that follows.
type remoteAction interface {
	execution.Action
	apply(rec *launchRecord, err error) string
}

// fail records err on rec and returns the error event.
func fail(rec *launchRecord, err error) string {
	rec.err = err

	return EventError
}

type checkAppAction struct {
	svc     cloudapp.Service
	kind    cloudapp.AppType
	version string

	present bool
}

func (a *checkAppAction) Name() string { return cloudapp.OpListApplications }

func (a *checkAppAction) Execute(ctx context.Context) error {
	apps, err := a.svc.ListApplications(ctx, a.kind)
	if err != nil {
		return fmt.Errorf("list applications: %w", err)
	}

	for _, app := range apps {
		if app.Name == a.version {
			a.present = true

			break
		}
	}

	return nil
}

func (a *checkAppAction) apply(rec *launchRecord, err error) string {
	if err != nil {
		return fail(rec, err)
	}

	if a.present {
		return EventAppPresent
	}

	return EventAppMissing
}

type pushAction struct {
	svc     cloudapp.Service
	kind    cloudapp.AppType
	version string
}

func (a *pushAction) Name() string { return cloudapp.OpPushApplication }

func (a *pushAction) Execute(ctx context.Context) error {
	if err := a.svc.PushApplication(ctx, a.version, a.kind); err != nil {
		return fmt.Errorf("push application %s: %w", a.version, err)
	}

	return nil
}

func (a *pushAction) apply(rec *launchRecord, err error) string {
	if err != nil {
		return fail(rec, err)
	}

	rec.pushed = true

	return EventPushDone
}

type submitAction struct {
	svc     cloudapp.Service
	kind    cloudapp.AppType
	version string
	runArgs []string

	applicationID string
}

func (a *submitAction) Name() string { return cloudapp.OpSubmitApplication }

func (a *submitAction) Execute(ctx context.Context) error {
	id, err := a.svc.SubmitApplication(ctx, a.version, a.kind, a.runArgs)
	if err != nil {
		return fmt.Errorf("submit application %s: %w", a.version, err)
	}

	a.applicationID = id

	return nil
}

func (a *submitAction) apply(rec *launchRecord, err error) string {
	if err != nil {
		return fail(rec, err)
	}

	rec.applicationID = a.applicationID

	return EventSubmitDone
}

// pollAction waits for the submitted instance to show up in the instance listing.
type pollAction struct {
	svc           cloudapp.Service
	kind          cloudapp.AppType
	applicationID string
	attempts      int
	interval      time.Duration
}

func (a *pollAction) Name() string { return cloudapp.OpListInstances }

func (a *pollAction) Execute(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		instances, err := a.svc.ListInstances(ctx, a.kind)
		if err != nil {
			return fmt.Errorf("list instances: %w", err)
		}

		for _, inst := range instances {
			if inst.ApplicationID == a.applicationID {
				return nil
			}
		}

		if attempt >= a.attempts {
			return fmt.Errorf("%s after %d attempts: %w", a.applicationID, attempt, ErrInstanceNotReady)
		}

		select {
		case <-time.After(a.interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *pollAction) apply(rec *launchRecord, err error) string {
	if err != nil {
		return fail(rec, err)
	}

	return EventInstanceReady
}

// killAction kills every target and remembers which kills succeeded.
type killAction struct {
	svc     cloudapp.Service
	kind    cloudapp.AppType
	targets []string

	killed []string
}

func (a *killAction) Name() string { return cloudapp.OpKillApplication }

func (a *killAction) Execute(ctx context.Context) error {
	var errs []error

	for _, id := range a.targets {
		if err := a.svc.KillApplication(ctx, id, a.kind); err != nil {
			errs = append(errs, fmt.Errorf("kill application %s: %w", id, err))

			continue
		}

		a.killed = append(a.killed, id)
	}

	return errors.Join(errs...)
}

func (a *killAction) apply(rec *launchRecord, err error) string {
	rec.killed = a.killed

	if err != nil {
		return fail(rec, err)
	}

	return EventKillDone
}
