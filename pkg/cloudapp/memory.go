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
	"fmt"
	"io"
	"path"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/task-launcher/pkg/constants"
)

const (
	InstanceStateRunning = "RUNNING"

	ClusterStateCreated = "CREATED"
	ClusterStateRunning = "RUNNING"
	ClusterStateStopped = "STOPPED"
)

type memoryCluster struct {
	count                int
	artifact             string
	definitionParameters map[string]string
	state                string
}

// MemoryService is an in-process cluster manager. It backs local runs of the
// launcher and the recording mock used in tests.
type MemoryService struct {
	mu sync.RWMutex

	apps      map[AppType]map[string]AppInfo
	instances map[AppType]map[string]InstanceInfo
	clusters  map[string]map[string]*memoryCluster
	artifacts map[string]int64

	logger *zap.SugaredLogger
}

var _ Service = (*MemoryService)(nil)

func NewMemoryService(logger *zap.SugaredLogger) *MemoryService {
	return &MemoryService{
		apps:      make(map[AppType]map[string]AppInfo),
		instances: make(map[AppType]map[string]InstanceInfo),
		clusters:  make(map[string]map[string]*memoryCluster),
		artifacts: make(map[string]int64),
		logger:    logger,
	}
}

func (s *MemoryService) ListApplications(ctx context.Context, kind AppType) ([]AppInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]AppInfo, 0, len(s.apps[kind]))
	for _, info := range s.apps[kind] {
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	return infos, nil
}

func (s *MemoryService) ListInstances(ctx context.Context, kind AppType) ([]InstanceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]InstanceInfo, 0, len(s.instances[kind]))
	for _, info := range s.instances[kind] {
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].ApplicationID < infos[j].ApplicationID })

	return infos, nil
}

func (s *MemoryService) PushApplication(ctx context.Context, version string, kind AppType) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.apps[kind] == nil {
		s.apps[kind] = make(map[string]AppInfo)
	}

	s.apps[kind][version] = AppInfo{Name: version}
	s.logger.Debugw("pushed application", "version", version, "kind", kind)

	return nil
}

// RemoveApplication drops a pushed package, as an operator cleaning the registry would.
func (s *MemoryService) RemoveApplication(version string, kind AppType) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.apps[kind], version)
}

func (s *MemoryService) SubmitApplication(ctx context.Context, version string, kind AppType, runArgs []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.apps[kind][version]; !ok {
		return "", fmt.Errorf("submit %s: %w", version, ErrApplicationNotFound)
	}

	if s.instances[kind] == nil {
		s.instances[kind] = make(map[string]InstanceInfo)
	}

	applicationID := "application_" + uuid.NewString()
	s.instances[kind][applicationID] = InstanceInfo{
		ApplicationID: applicationID,
		Name:          constants.ApplicationNamePrefix + version,
		State:         InstanceStateRunning,
	}

	s.logger.Debugw("submitted application", "version", version, "kind", kind, "applicationId", applicationID, "runArgs", runArgs)

	return applicationID, nil
}

func (s *MemoryService) KillApplication(ctx context.Context, applicationID string, kind AppType) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.instances[kind], applicationID)
	delete(s.clusters, applicationID)

	return nil
}

func (s *MemoryService) KillApplications(ctx context.Context, appName string, kind AppType) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, info := range s.instances[kind] {
		if info.Name == appName {
			delete(s.instances[kind], id)
			delete(s.clusters, id)
		}
	}

	return nil
}

func (s *MemoryService) PushArtifact(ctx context.Context, artifact io.Reader, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n, err := io.Copy(io.Discard, artifact)
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.artifacts[path.Clean(dir)] += n

	return nil
}

// ArtifactBytes returns how many bytes were pushed into dir.
func (s *MemoryService) ArtifactBytes(dir string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.artifacts[path.Clean(dir)]
}

func (s *MemoryService) hasInstanceLocked(applicationID string) bool {
	for _, byID := range s.instances {
		if _, ok := byID[applicationID]; ok {
			return true
		}
	}

	return false
}

func (s *MemoryService) clusterLocked(applicationID, clusterID string) (*memoryCluster, error) {
	c, ok := s.clusters[applicationID][clusterID]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", applicationID, clusterID, ErrClusterNotFound)
	}

	return c, nil
}

func (s *MemoryService) CreateCluster(ctx context.Context, applicationID, clusterID string, count int, artifact string, definitionParameters map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasInstanceLocked(applicationID) {
		return fmt.Errorf("create cluster %s: %w", clusterID, ErrApplicationNotFound)
	}

	params := make(map[string]string, len(definitionParameters))
	for k, v := range definitionParameters {
		params[k] = v
	}

	if s.clusters[applicationID] == nil {
		s.clusters[applicationID] = make(map[string]*memoryCluster)
	}

	s.clusters[applicationID][clusterID] = &memoryCluster{
		count:                count,
		artifact:             artifact,
		definitionParameters: params,
		state:                ClusterStateCreated,
	}

	return nil
}

func (s *MemoryService) setClusterState(ctx context.Context, applicationID, clusterID, state string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.clusterLocked(applicationID, clusterID)
	if err != nil {
		return err
	}

	c.state = state

	return nil
}

func (s *MemoryService) StartCluster(ctx context.Context, applicationID, clusterID string) error {
	return s.setClusterState(ctx, applicationID, clusterID, ClusterStateRunning)
}

func (s *MemoryService) StopCluster(ctx context.Context, applicationID, clusterID string) error {
	return s.setClusterState(ctx, applicationID, clusterID, ClusterStateStopped)
}

func (s *MemoryService) DestroyCluster(ctx context.Context, applicationID, clusterID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.clusterLocked(applicationID, clusterID); err != nil {
		return err
	}

	delete(s.clusters[applicationID], clusterID)

	return nil
}

func (s *MemoryService) GetClusters(ctx context.Context, applicationID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.clusters[applicationID]))
	for id := range s.clusters[applicationID] {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids, nil
}

func (s *MemoryService) GetClustersStates(ctx context.Context, applicationID string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make(map[string]string, len(s.clusters[applicationID]))
	for id, c := range s.clusters[applicationID] {
		states[id] = c.state
	}

	return states, nil
}
