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
	"errors"
	"io"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
)

// RetryPolicy configures WithRetry.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type retryingService struct {
	next   Service
	policy RetryPolicy
	logger *zap.SugaredLogger
}

// WithRetry wraps next so that calls which are safe to repeat are retried with
// exponential backoff. Submissions and cluster creation are passed through
// unchanged: repeating them would start duplicate instances.
// Not-found errors and context cancellation are never retried.
func WithRetry(next Service, policy RetryPolicy, logger *zap.SugaredLogger) Service {
	return &retryingService{next: next, policy: policy, logger: logger}
}

func (r *retryingService) retry(ctx context.Context, operation string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.InitialInterval
	b.MaxInterval = r.policy.MaxInterval
	b.MaxElapsedTime = 0

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++

		err := fn()
		if err != nil && !retryable(ctx, err) {
			return backoff.Permanent(err)
		}

		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, r.policy.MaxRetries), ctx), func(err error, next time.Duration) {
		r.logger.Debugw("retrying capability call",
			"operation", operation,
			"attempt", attempt,
			"next_in", next,
			"error", err)
	})

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}

	return err
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	return !errors.Is(err, ErrApplicationNotFound) &&
		!errors.Is(err, ErrClusterNotFound) &&
		!errors.Is(err, context.Canceled)
}

func (r *retryingService) ListApplications(ctx context.Context, kind AppType) ([]AppInfo, error) {
	var infos []AppInfo
	err := r.retry(ctx, OpListApplications, func() (err error) {
		infos, err = r.next.ListApplications(ctx, kind)
		return err
	})

	return infos, err
}

func (r *retryingService) ListInstances(ctx context.Context, kind AppType) ([]InstanceInfo, error) {
	var infos []InstanceInfo
	err := r.retry(ctx, OpListInstances, func() (err error) {
		infos, err = r.next.ListInstances(ctx, kind)
		return err
	})

	return infos, err
}

func (r *retryingService) PushApplication(ctx context.Context, version string, kind AppType) error {
	return r.retry(ctx, OpPushApplication, func() error {
		return r.next.PushApplication(ctx, version, kind)
	})
}

func (r *retryingService) SubmitApplication(ctx context.Context, version string, kind AppType, runArgs []string) (string, error) {
	return r.next.SubmitApplication(ctx, version, kind, runArgs)
}

func (r *retryingService) KillApplication(ctx context.Context, applicationID string, kind AppType) error {
	return r.retry(ctx, OpKillApplication, func() error {
		return r.next.KillApplication(ctx, applicationID, kind)
	})
}

func (r *retryingService) KillApplications(ctx context.Context, appName string, kind AppType) error {
	return r.retry(ctx, OpKillApplications, func() error {
		return r.next.KillApplications(ctx, appName, kind)
	})
}

// PushArtifact is not retried: the reader cannot be rewound.
func (r *retryingService) PushArtifact(ctx context.Context, artifact io.Reader, dir string) error {
	return r.next.PushArtifact(ctx, artifact, dir)
}

func (r *retryingService) CreateCluster(ctx context.Context, applicationID, clusterID string, count int, artifact string, definitionParameters map[string]string) error {
	return r.next.CreateCluster(ctx, applicationID, clusterID, count, artifact, definitionParameters)
}

func (r *retryingService) StartCluster(ctx context.Context, applicationID, clusterID string) error {
	return r.retry(ctx, OpStartCluster, func() error {
		return r.next.StartCluster(ctx, applicationID, clusterID)
	})
}

func (r *retryingService) StopCluster(ctx context.Context, applicationID, clusterID string) error {
	return r.retry(ctx, OpStopCluster, func() error {
		return r.next.StopCluster(ctx, applicationID, clusterID)
	})
}

func (r *retryingService) DestroyCluster(ctx context.Context, applicationID, clusterID string) error {
	return r.retry(ctx, OpDestroyCluster, func() error {
		return r.next.DestroyCluster(ctx, applicationID, clusterID)
	})
}

func (r *retryingService) GetClusters(ctx context.Context, applicationID string) ([]string, error) {
	var ids []string
	err := r.retry(ctx, OpGetClusters, func() (err error) {
		ids, err = r.next.GetClusters(ctx, applicationID)
		return err
	})

	return ids, err
}

func (r *retryingService) GetClustersStates(ctx context.Context, applicationID string) (map[string]string, error) {
	var states map[string]string
	err := r.retry(ctx, OpGetClustersStates, func() (err error) {
		states, err = r.next.GetClustersStates(ctx, applicationID)
		return err
	})

	return states, err
}
