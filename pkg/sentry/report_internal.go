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

package sentry

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

const debounceWindow = 2 * time.Hour

// debouncer remembers when an event of a level was last sent.
type debouncer struct {
	mu       sync.Mutex
	lastSent time.Time
}

func (d *debouncer) allow() bool {
	if !shouldDebounceErrors {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if time.Since(d.lastSent) < debounceWindow {
		return false
	}

	d.lastSent = time.Now()

	return true
}

var (
	errorDebouncer   = &debouncer{lastSent: time.Now().Add(-24 * time.Hour)}
	warningDebouncer = &debouncer{lastSent: time.Now().Add(-24 * time.Hour)}
)

// reportFatal logs the error with a stack trace and flushes it to Sentry.
// The caller decides whether to terminate.
func reportFatal(err error, log *zap.SugaredLogger, context map[string]interface{}) {
	log.Error("The task launcher has encountered a fatal error and will now terminate.")
	log.Errorf("Error: %s", err)
	log.Errorf("Stack trace: %s", string(debug.Stack()))

	sendSentryEvent(createSentryEventWithContext(sentry.LevelFatal, err, context))
	sentry.Flush(5 * time.Second)
}

func reportError(err error, log *zap.SugaredLogger, context map[string]interface{}) {
	log.Errorw(err.Error(), contextFields(context)...)

	if errorDebouncer.allow() {
		sendSentryEvent(createSentryEventWithContext(sentry.LevelError, err, context))
	}
}

func reportWarning(err error, log *zap.SugaredLogger, context map[string]interface{}) {
	log.Warnw(err.Error(), contextFields(context)...)

	if warningDebouncer.allow() {
		sendSentryEvent(createSentryEventWithContext(sentry.LevelWarning, err, context))
	}
}

func contextFields(context map[string]interface{}) []interface{} {
	fields := make([]interface{}, 0, 2*len(context))
	for k, v := range context {
		fields = append(fields, k, v)
	}

	return fields
}
