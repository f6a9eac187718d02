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

// Package api exposes a task launch machine over HTTP: triggering DEPLOY and
// UNDEPLOY and reading state and tracked deployments.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/task-launcher/pkg/launcher"
	"github.com/united-manufacturing-hub/task-launcher/pkg/metrics"
)

// Launcher is the part of *launcher.Machine the API needs.
type Launcher interface {
	MachineID() string
	State() string
	TransitionCount() int64
	SendEvent(event launcher.Event) (string, error)
	Deployments() map[string][]string
}

type ServerConfig struct {
	Port  int
	Debug bool
}

type Server struct {
	server  *http.Server
	router  *gin.Engine
	machine Launcher
	config  ServerConfig
	logger  *zap.SugaredLogger
}

type deployRequest struct {
	AppVersion           string            `json:"appVersion"`
	DefinitionParameters map[string]string `json:"definitionParameters"`
	RunArgs              []string          `json:"runArgs"`
}

type undeployRequest struct {
	AppVersion    string `json:"appVersion"`
	ApplicationID string `json:"applicationId"`
}

type acceptedResponse struct {
	RequestID string `json:"requestId"`
}

type stateResponse struct {
	MachineID   string `json:"machineId"`
	State       string `json:"state"`
	Transitions int64  `json:"transitions"`
	InFlight    bool   `json:"inFlight"`
	Deploying   bool   `json:"deploying"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewServer(machine Launcher, config ServerConfig, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	if config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		machine: machine,
		config:  config,
		logger:  logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.loggingMiddleware())

	v1 := router.Group("/api/v1")
	v1.POST("/tasks/deploy", s.handleDeploy)
	v1.POST("/tasks/undeploy", s.handleUndeploy)
	v1.GET("/state", s.handleState)
	v1.GET("/deployments", s.handleDeployments)

	s.router = router
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called. It returns nil after a graceful stop,
// including a Stop that ran before Start.
func (s *Server) Start() error {
	s.logger.Infow("Starting API server", "port", s.config.Port)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}

	return nil
}

// Stop gracefully stops the server. It may be called before or concurrently with Start.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server")

	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		s.logger.Debugw("API request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// decodeStrict decodes the request body and rejects unknown fields.
func decodeStrict(c *gin.Context, into any) error {
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("malformed request body: %w", err)
	}

	return nil
}

func (s *Server) handleDeploy(c *gin.Context) {
	var body deployRequest
	if err := decodeStrict(c, &body); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})

		return
	}

	s.send(c, launcher.NewDeployEvent(body.AppVersion, body.DefinitionParameters, body.RunArgs))
}

func (s *Server) handleUndeploy(c *gin.Context) {
	var body undeployRequest
	if err := decodeStrict(c, &body); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})

		return
	}

	s.send(c, launcher.NewUndeployEvent(body.AppVersion, body.ApplicationID))
}

func (s *Server) send(c *gin.Context, event launcher.Event) {
	requestID, err := s.machine.SendEvent(event)

	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, acceptedResponse{RequestID: requestID})
	case errors.Is(err, launcher.ErrMissingHeader), errors.Is(err, launcher.ErrUnknownEvent):
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, launcher.ErrNotStarted), errors.Is(err, launcher.ErrStopped):
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		metrics.IncErrorCountAndLog(metrics.ComponentAPI, s.machine.MachineID(), err, s.logger)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func (s *Server) handleState(c *gin.Context) {
	state := s.machine.State()

	c.JSON(http.StatusOK, stateResponse{
		MachineID:   s.machine.MachineID(),
		State:       state,
		Transitions: s.machine.TransitionCount(),
		InFlight:    launcher.IsInFlight(state),
		Deploying:   launcher.IsDeploying(state),
	})
}

func (s *Server) handleDeployments(c *gin.Context) {
	c.JSON(http.StatusOK, s.machine.Deployments())
}
