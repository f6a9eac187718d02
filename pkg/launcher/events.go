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
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrAlreadyStarted   = errors.New("machine already started")
	ErrNotStarted       = errors.New("machine not started")
	ErrStopped          = errors.New("machine stopped")
	ErrMissingHeader    = errors.New("missing required header")
	ErrUnknownEvent     = errors.New("unknown event type")
	ErrInstanceNotReady = errors.New("submitted instance did not become ready")
)

// EventType is the kind of an external event.
type EventType string

const (
	EventTypeDeploy   EventType = EventDeploy
	EventTypeUndeploy EventType = EventUndeploy
)

// Request carries the headers of an external event. Once accepted by
// SendEvent the machine works on its own copy.
type Request struct {
	// AppVersion is required for every event.
	AppVersion           string            `json:"appVersion"`
	DefinitionParameters map[string]string `json:"definitionParameters,omitempty"`
	RunArgs              []string          `json:"runArgs,omitempty"`
	// ApplicationID narrows an UNDEPLOY to one instance. Ignored for DEPLOY.
	ApplicationID string `json:"applicationId,omitempty"`
}

type Event struct {
	Type    EventType
	Request Request
}

func NewDeployEvent(appVersion string, definitionParameters map[string]string, runArgs []string) Event {
	return Event{
		Type: EventTypeDeploy,
		Request: Request{
			AppVersion:           appVersion,
			DefinitionParameters: definitionParameters,
			RunArgs:              runArgs,
		},
	}
}

// NewUndeployEvent kills applicationID, or every tracked instance of appVersion if it is empty.
func NewUndeployEvent(appVersion, applicationID string) Event {
	return Event{
		Type: EventTypeUndeploy,
		Request: Request{
			AppVersion:    appVersion,
			ApplicationID: applicationID,
		},
	}
}

func (e Event) Validate() error {
	switch e.Type {
	case EventTypeDeploy, EventTypeUndeploy:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, e.Type)
	}

	if strings.TrimSpace(e.Request.AppVersion) == "" {
		return fmt.Errorf("%w: appVersion", ErrMissingHeader)
	}

	return nil
}

// SubmitArgs returns the run arguments passed to submission: the caller's run
// arguments followed by one --key=value per definition parameter, sorted by key.
func (r Request) SubmitArgs() []string {
	args := make([]string, 0, len(r.RunArgs)+len(r.DefinitionParameters))
	args = append(args, r.RunArgs...)

	keys := make([]string, 0, len(r.DefinitionParameters))
	for k := range r.DefinitionParameters {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		args = append(args, fmt.Sprintf("--%s=%s", k, r.DefinitionParameters[k]))
	}

	return args
}
