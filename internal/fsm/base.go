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

// Package fsm wraps looplab/fsm with the pieces every launcher state machine
// shares: per-state enter callbacks, a transition hook and context protection
// when sending events.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/task-launcher/pkg/constants"
)

// Config holds parameters for setting up a Base.
type Config struct {
	ID           string
	InitialState string
	Transitions  []fsm.EventDesc
}

// TransitionFunc observes every completed transition.
type TransitionFunc func(ctx context.Context, from, to, event string)

// Base is a looplab FSM plus callback registry. The zero value is not usable; see New.
type Base struct {
	cfg Config

	// mu protects callbacks and onTransition
	mu sync.RWMutex

	fsm *fsm.FSM

	// Registered "enter_<state>" callbacks
	callbacks    map[string]fsm.Callback
	onTransition TransitionFunc

	logger *zap.SugaredLogger
}

func New(cfg Config, logger *zap.SugaredLogger) *Base {
	b := &Base{
		cfg:       cfg,
		callbacks: make(map[string]fsm.Callback),
		logger:    logger,
	}

	b.fsm = fsm.NewFSM(
		cfg.InitialState,
		fsm.Events(cfg.Transitions),
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				b.mu.RLock()
				cb := b.callbacks["enter_"+e.Dst]
				hook := b.onTransition
				b.mu.RUnlock()

				b.logger.Debugf("FSM %s: %s -> %s on %s", b.cfg.ID, e.Src, e.Dst, e.Event)

				if hook != nil {
					hook(ctx, e.Src, e.Dst, e.Event)
				}

				if cb != nil {
					cb(ctx, e)
				}
			},
		},
	)

	return b
}

// AddCallback registers a callback under a looplab callback name, e.g. "enter_deployed".
func (b *Base) AddCallback(name string, callback fsm.Callback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks[name] = callback
}

// OnTransition sets the hook called on every state change, before the enter callback.
func (b *Base) OnTransition(fn TransitionFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTransition = fn
}

// SendEvent fires eventName. It refuses to start a transition with a cancelled
// context or one whose deadline is too close, since a transition interrupted
// halfway leaves looplab refusing every later event.
func (b *Base) SendEvent(ctx context.Context, eventName string, args ...interface{}) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if deadline, ok := ctx.Deadline(); ok {
		if time.Until(deadline) < constants.ExpectedMaxP95ExecutionTimePerEvent {
			return fmt.Errorf("fsm %s: context deadline too close to send %s", b.cfg.ID, eventName)
		}
	}

	return b.fsm.Event(ctx, eventName, args...)
}

func (b *Base) Current() string {
	return b.fsm.Current()
}

// Can reports whether eventName is allowed in the current state.
func (b *Base) Can(eventName string) bool {
	return b.fsm.Can(eventName)
}

// AvailableEvents lists the events allowed in the current state.
func (b *Base) AvailableEvents() []string {
	return b.fsm.AvailableTransitions()
}

// IsInvalidEvent reports whether err means the event is not allowed in the current state.
func IsInvalidEvent(err error) bool {
	var invalid fsm.InvalidEventError

	return errors.As(err, &invalid)
}
