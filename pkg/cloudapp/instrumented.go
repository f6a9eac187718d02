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

package cloudapp

import (
	"context"
	"io"
	"time"

	"github.com/united-manufacturing-hub/task-launcher/pkg/metrics"
)

type instrumentedService struct {
	next Service
}

// Instrument records count, status and latency of every capability call.
func Instrument(next Service) Service {
	return &instrumentedService{next: next}
}

// observe is deferred as observe(op, time.Now(), &err).
func observe(operation string, start time.Time, err *error) {
	status := "success"
	if *err != nil {
		status = "error"
	}

	metrics.RecordRemoteCall(operation, status, time.Since(start))
}

func (s *instrumentedService) ListApplications(ctx context.Context, kind AppType) (_ []AppInfo, err error) {
	defer observe(OpListApplications, time.Now(), &err)
	return s.next.ListApplications(ctx, kind)
}

func (s *instrumentedService) ListInstances(ctx context.Context, kind AppType) (_ []InstanceInfo, err error) {
	defer observe(OpListInstances, time.Now(), &err)
	return s.next.ListInstances(ctx, kind)
}

func (s *instrumentedService) PushApplication(ctx context.Context, version string, kind AppType) (err error) {
	defer observe(OpPushApplication, time.Now(), &err)
	return s.next.PushApplication(ctx, version, kind)
}

func (s *instrumentedService) SubmitApplication(ctx context.Context, version string, kind AppType, runArgs []string) (_ string, err error) {
	defer observe(OpSubmitApplication, time.Now(), &err)
	return s.next.SubmitApplication(ctx, version, kind, runArgs)
}

func (s *instrumentedService) KillApplication(ctx context.Context, applicationID string, kind AppType) (err error) {
	defer observe(OpKillApplication, time.Now(), &err)
	return s.next.KillApplication(ctx, applicationID, kind)
}

func (s *instrumentedService) KillApplications(ctx context.Context, appName string, kind AppType) (err error) {
	defer observe(OpKillApplications, time.Now(), &err)
	return s.next.KillApplications(ctx, appName, kind)
}

func (s *instrumentedService) PushArtifact(ctx context.Context, artifact io.Reader, dir string) (err error) {
	defer observe(OpPushArtifact, time.Now(), &err)
	return s.next.PushArtifact(ctx, artifact, dir)
}

func (s *instrumentedService) CreateCluster(ctx context.Context, applicationID, clusterID string, count int, artifact string, definitionParameters map[string]string) (err error) {
	defer observe(OpCreateCluster, time.Now(), &err)
	return s.next.CreateCluster(ctx, applicationID, clusterID, count, artifact, definitionParameters)
}

func (s *instrumentedService) StartCluster(ctx context.Context, applicationID, clusterID string) (err error) {
	defer observe(OpStartCluster, time.Now(), &err)
	return s.next.StartCluster(ctx, applicationID, clusterID)
}

func (s *instrumentedService) StopCluster(ctx context.Context, applicationID, clusterID string) (err error) {
	defer observe(OpStopCluster, time.Now(), &err)
	return s.next.StopCluster(ctx, applicationID, clusterID)
}

func (s *instrumentedService) DestroyCluster(ctx context.Context, applicationID, clusterID string) (err error) {
	defer observe(OpDestroyCluster, time.Now(), &err)
	return s.next.DestroyCluster(ctx, applicationID, clusterID)
}

func (s *instrumentedService) GetClusters(ctx context.Context, applicationID string) (_ []string, err error) {
	defer observe(OpGetClusters, time.Now(), &err)
	return s.next.GetClusters(ctx, applicationID)
}

func (s *instrumentedService) GetClustersStates(ctx context.Context, applicationID string) (_ map[string]string, err error) {
	defer observe(OpGetClustersStates, time.Now(), &err)
	return s.next.GetClustersStates(ctx, applicationID)
}
