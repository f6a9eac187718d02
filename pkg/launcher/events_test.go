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
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/task-launcher/pkg/launcher"
)

var _ = Describe("Event", func() {
	DescribeTable("Validate",
		func(event launcher.Event, expected error) {
			err := event.Validate()
			if expected == nil {
				Expect(err).ToNot(HaveOccurred())

				return
			}

			Expect(err).To(MatchError(expected))
		},
		Entry("deploy", launcher.NewDeployEvent("1.0.0", nil, nil), nil),
		Entry("undeploy", launcher.NewUndeployEvent("1.0.0", "application_1"), nil),
		Entry("deploy without version", launcher.NewDeployEvent("", map[string]string{"a": "b"}, nil), launcher.ErrMissingHeader),
		Entry("blank version", launcher.NewUndeployEvent(" \t", ""), launcher.ErrMissingHeader),
		Entry("unknown type", launcher.Event{Type: "RESTART", Request: launcher.Request{AppVersion: "1.0.0"}}, launcher.ErrUnknownEvent),
		Entry("empty type", launcher.Event{Request: launcher.Request{AppVersion: "1.0.0"}}, launcher.ErrUnknownEvent),
	)

	Describe("SubmitArgs", func() {
		It("appends sorted definition parameters after the run arguments", func() {
			req := launcher.Request{
				AppVersion:           "1.0.0",
				DefinitionParameters: map[string]string{"zeta": "1", "alpha": "x=y"},
				RunArgs:              []string{"run", "--fast"},
			}

			Expect(req.SubmitArgs()).To(Equal([]string{"run", "--fast", "--alpha=x=y", "--zeta=1"}))
			Expect(req.RunArgs).To(Equal([]string{"run", "--fast"}))
		})

		It("returns an empty list for an empty request", func() {
			Expect(launcher.Request{AppVersion: "1.0.0"}.SubmitArgs()).To(BeEmpty())
		})
	})

	It("classifies states", func() {
		Expect(launcher.IsInFlight(launcher.StatePushApp)).To(BeTrue())
		Expect(launcher.IsInFlight(launcher.StateKillApp)).To(BeTrue())
		Expect(launcher.IsInFlight(launcher.StateReady)).To(BeFalse())
		Expect(launcher.IsInFlight(launcher.StateDeployed)).To(BeFalse())

		Expect(launcher.IsDeploying(launcher.StateDeployed)).To(BeTrue())
		Expect(launcher.IsDeploying(launcher.StateKillApp)).To(BeFalse())
	})
})
