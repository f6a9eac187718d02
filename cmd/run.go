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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/task-launcher/pkg/api"
	"github.com/united-manufacturing-hub/task-launcher/pkg/cloudapp"
	"github.com/united-manufacturing-hub/task-launcher/pkg/config"
	"github.com/united-manufacturing-hub/task-launcher/pkg/env"
	"github.com/united-manufacturing-hub/task-launcher/pkg/execution"
	"github.com/united-manufacturing-hub/task-launcher/pkg/launcher"
	"github.com/united-manufacturing-hub/task-launcher/pkg/logger"
	"github.com/united-manufacturing-hub/task-launcher/pkg/metrics"
	"github.com/united-manufacturing-hub/task-launcher/pkg/sentry"
	"github.com/united-manufacturing-hub/task-launcher/pkg/version"
)

const shutdownTimeout = 3 * time.Second

func run(parent context.Context, configPath string) error {
	// Initialize the global logger first thing
	logger.Initialize()
	defer func() { _ = logger.Sync() }()

	dsn, _ := env.GetAsString("SENTRY_DSN", false, "")
	sentry.InitSentry(version.GetAppVersion(), dsn, true)

	log := logger.For(logger.ComponentCore)
	log.Infow("Starting task-launcher...", "version", version.GetAppVersion(), "config", configPath)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfigWithEnvOverrides(configPath, logger.For(logger.ComponentConfig))
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to load config: %w", err)

		return fmt.Errorf("load config: %w", err)
	}

	// Start the metrics server
	metricsServer := metrics.SetupMetricsEndpoint(fmt.Sprintf(":%d", cfg.Agent.MetricsPort))
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			sentry.ReportIssuef(sentry.IssueTypeError, log, "Failed to shutdown metrics server: %w", err)
		}
	}()

	svc := cloudapp.Instrument(cloudapp.WithRetry(
		cloudapp.NewMemoryService(logger.For(logger.ComponentCloudApp)),
		cfg.RetryPolicy(),
		logger.For(logger.ComponentCloudAppRetry),
	))

	executor := execution.NewActionExecutorWithTimeout(cfg.Executor.Workers, cfg.Executor.Timeouts, cfg.Launcher.MachineID, logger.For(logger.ComponentExecutor))
	executor.SetDefaultTimeout(cfg.Executor.ActionTimeout)
	executor.Start(ctx)
	defer executor.Shutdown()

	machine := launcher.New(cfg.MachineConfig(), svc, executor, logger.For(logger.ComponentLauncher+"."+cfg.Launcher.MachineID))
	machine.AddListener(newLoggingListener(log))

	if err := machine.Start(ctx); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to start launcher: %w", err)

		return fmt.Errorf("start launcher: %w", err)
	}
	defer machine.Stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.API.Enabled {
		apiServer := api.NewServer(machine, api.ServerConfig{Port: cfg.API.Port}, logger.For(logger.ComponentAPI))

		g.Go(apiServer.Start)
		g.Go(func() error {
			<-gctx.Done()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()

			return apiServer.Stop(shutdownCtx)
		})
	} else {
		log.Info("API server disabled via configuration")
	}

	g.Go(func() error {
		<-gctx.Done()

		return nil
	})

	if err := g.Wait(); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeError, log, "Server failed: %w", err)

		return err
	}

	log.Info("task-launcher completed")

	return nil
}
