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
	"errors"
	"strings"

	"github.com/getsentry/sentry-go"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap/zaptest"
)

var _ = Describe("Sentry events", func() {
	It("derives a short title from the error message", func() {
		Expect(getMeaningfulErrorTitle(errors.New("push failed: connection refused"))).To(Equal("push failed"))
		Expect(getMeaningfulErrorTitle(errors.New(strings.Repeat("x", 150)))).To(HaveLen(100))
	})

	It("attaches goroutine threads to error events", func() {
		event := createSentryEvent(sentry.LevelError, errors.New("submit failed"))
		Expect(event.Threads).NotTo(BeEmpty())
		Expect(event.Attachments).To(HaveLen(1))
		Expect(event.Fingerprint).To(ContainElement("level: error"))
	})

	It("does not dump goroutines for warnings", func() {
		event := createSentryEvent(sentry.LevelWarning, errors.New("slow"))
		Expect(event.Threads).To(BeEmpty())
	})

	It("maps context into tags, extras and fingerprint", func() {
		event := createSentryEventWithContext(sentry.LevelWarning, errors.New("deploy failed"), map[string]interface{}{
			"machine_id": "launcher-1",
			"operation":  "push_app",
			"attempt":    3,
			"args":       []string{"--a"},
		})

		Expect(event.Tags).To(HaveKeyWithValue("machine_id", "launcher-1"))
		Expect(event.Tags).To(HaveKeyWithValue("attempt", "3"))
		Expect(event.Extra).To(HaveKey("args"))
		Expect(event.Fingerprint).To(ContainElement("operation: push_app"))
	})

	It("reports without an initialized client", func() {
		EnableTestMode()
		DeferCleanup(DisableTestMode)

		log := zaptest.NewLogger(GinkgoT()).Sugar()
		Expect(func() {
			ReportFSMErrorf(log, "launcher-1", "task_launcher", "push_app", "push of %s failed", "app")
			ReportIssuef(IssueTypeWarning, log, "warning %d", 1)
			ReportServiceError(log, "memory", "submit_application", errors.New("boom"))
		}).NotTo(Panic())
	})
})
