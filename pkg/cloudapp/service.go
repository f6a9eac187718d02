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

// Package cloudapp defines the capability surface the task launcher consumes
// from a cluster resource manager: listing, pushing, submitting and killing
// applications, and managing the clusters running inside them.
//
// Implementations may block on network I/O and must be safe for concurrent use.
// Retry policy belongs to implementations (see WithRetry), never to callers.
package cloudapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// AppType selects the application registry an operation works on.
type AppType string

const (
	AppTypeTask   AppType = "TASK"
	AppTypeStream AppType = "STREAM"
)

// ParseAppType accepts "task" and "stream" in any case.
func ParseAppType(s string) (AppType, error) {
	switch AppType(strings.ToUpper(strings.TrimSpace(s))) {
	case AppTypeTask:
		return AppTypeTask, nil
	case AppTypeStream:
		return AppTypeStream, nil
	default:
		return "", fmt.Errorf("unknown application type %q", s)
	}
}

// Operation names, used for metrics labels, logging and the recording mock.
const (
	OpListApplications  = "list_applications"
	OpListInstances     = "list_instances"
	OpPushApplication   = "push_application"
	OpSubmitApplication = "submit_application"
	OpKillApplication   = "kill_application"
	OpKillApplications  = "kill_applications"
	OpPushArtifact      = "push_artifact"
	OpCreateCluster     = "create_cluster"
	OpStartCluster      = "start_cluster"
	OpStopCluster       = "stop_cluster"
	OpDestroyCluster    = "destroy_cluster"
	OpGetClusters       = "get_clusters"
	OpGetClustersStates = "get_clusters_states"
)

var (
	ErrApplicationNotFound = errors.New("application not found")
	ErrClusterNotFound     = errors.New("cluster not found")
)

// AppInfo describes an application package resident in the registry.
type AppInfo struct {
	Name string `json:"name"`
}

// InstanceInfo describes a submitted, running application instance.
type InstanceInfo struct {
	ApplicationID string `json:"applicationId"`
	Name          string `json:"name"`
	State         string `json:"state"`
	Address       string `json:"address"`
}

// Service is the capability interface of a cluster resource manager.
type Service interface {
	// ListApplications returns the application packages pushed for kind.
	ListApplications(ctx context.Context, kind AppType) ([]AppInfo, error)
	// ListInstances returns the running application instances for kind.
	ListInstances(ctx context.Context, kind AppType) ([]InstanceInfo, error)
	// PushApplication uploads the application package for version. Expensive; idempotent in practice.
	PushApplication(ctx context.Context, version string, kind AppType) error
	// SubmitApplication starts a new instance of a pushed package and returns its application ID.
	SubmitApplication(ctx context.Context, version string, kind AppType, runArgs []string) (string, error)
	// KillApplication stops a single instance. Killing an unknown instance is not an error.
	KillApplication(ctx context.Context, applicationID string, kind AppType) error
	// KillApplications stops every instance with the given name.
	KillApplications(ctx context.Context, appName string, kind AppType) error
	// PushArtifact uploads an artifact into dir of the application registry.
	PushArtifact(ctx context.Context, artifact io.Reader, dir string) error

	CreateCluster(ctx context.Context, applicationID, clusterID string, count int, artifact string, definitionParameters map[string]string) error
	StartCluster(ctx context.Context, applicationID, clusterID string) error
	StopCluster(ctx context.Context, applicationID, clusterID string) error
	DestroyCluster(ctx context.Context, applicationID, clusterID string) error
	GetClusters(ctx context.Context, applicationID string) ([]string, error)
	GetClustersStates(ctx context.Context, applicationID string) (map[string]string, error)
}
