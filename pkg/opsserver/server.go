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

// Package opsserver serves the operator API: health probe, system status,
// the managed-index snapshot and the recovery trigger. It is an internal
// surface for operators and tooling, not the domain's public REST API.
package opsserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/united-manufacturing-hub/ilm-core/pkg/fsm"
	"github.com/united-manufacturing-hub/ilm-core/pkg/logger"
	"github.com/united-manufacturing-hub/ilm-core/pkg/recovery"
	"github.com/united-manufacturing-hub/ilm-core/pkg/service/cluster_monitor"
	"github.com/united-manufacturing-hub/ilm-core/pkg/standarderrors"
	"github.com/united-manufacturing-hub/ilm-core/pkg/version"
)

// identityHeader carries the caller identity the permission validator
// judges on the recovery endpoint.
const identityHeader = "X-Identity"

// SnapshotSource exposes the control loop state the status endpoints read.
// *control.ControlLoop satisfies it.
type SnapshotSource interface {
	GetSystemSnapshot() *fsm.SystemSnapshot
	GetCurrentTick() uint64
}

// RecoveryRunner runs the recovery pipeline. *recovery.Service satisfies it.
type RecoveryRunner interface {
	RetryFailedIndices(ctx context.Context, req recovery.Request) (*recovery.Response, error)
}

// Config wires the server's collaborators. Monitor may be nil or disabled;
// the status endpoint then omits the cluster sample.
type Config struct {
	Source     SnapshotSource
	Recovery   RecoveryRunner
	Monitor    *cluster_monitor.MonitorService
	HistoryDir string
	Port       int
}

// Server is the operator API server.
type Server struct {
	cfg        Config
	engine     *gin.Engine
	httpServer *http.Server
	logger     *zap.SugaredLogger
}

// NewServer builds the gin engine with all routes registered.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:    cfg,
		logger: logger.For(logger.ComponentOpsServer),
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", s.handleHealth)

	v1 := engine.Group("/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/indices", s.handleIndices)
	v1.POST("/recovery", s.handleRecovery)

	s.engine = engine

	return s
}

// Router returns the underlying engine, used by tests to drive requests
// without a listener.
func (s *Server) Router() http.Handler {
	return s.engine
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("Ops server stopped: %v", err)
		}
	}()

	s.logger.Infof("Ops server listening on %s", s.httpServer.Addr)
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": version.GetAppVersion(),
	})
}

// ProcessStatus reports resource usage of the host the engine runs on.
type ProcessStatus struct {
	CPUPercent        float64 `json:"cpuPercent"`
	MemoryUsedBytes   uint64  `json:"memoryUsedBytes"`
	MemoryUsedPercent float64 `json:"memoryUsedPercent"`
}

// DiskStatus reports capacity of the filesystem holding the audit history.
type DiskStatus struct {
	TotalBytes uint64 `json:"totalBytes"`
	FreeBytes  uint64 `json:"freeBytes"`
}

// ManagerStatus summarizes one FSM manager inside the status response.
type ManagerStatus struct {
	Instances int    `json:"instances"`
	Tick      uint64 `json:"tick"`
}

// StatusResponse is the GET /v1/status body.
type StatusResponse struct {
	Version      string                   `json:"version"`
	Tick         uint64                   `json:"tick"`
	SnapshotTime time.Time                `json:"snapshotTime"`
	Managers     map[string]ManagerStatus `json:"managers"`
	Process      ProcessStatus            `json:"process"`
	HistoryDisk  *DiskStatus              `json:"historyDisk,omitempty"`
	Cluster      *cluster_monitor.Sample  `json:"cluster,omitempty"`
}

func (s *Server) handleStatus(c *gin.Context) {
	resp := StatusResponse{
		Version:  version.GetAppVersion(),
		Managers: make(map[string]ManagerStatus),
	}

	if s.cfg.Source != nil {
		resp.Tick = s.cfg.Source.GetCurrentTick()
		if snapshot := s.cfg.Source.GetSystemSnapshot(); snapshot != nil {
			resp.SnapshotTime = snapshot.SnapshotTime
			for name, managerSnapshot := range snapshot.Managers {
				resp.Managers[name] = ManagerStatus{
					Instances: len(managerSnapshot.GetInstances()),
					Tick:      managerSnapshot.GetManagerTick(),
				}
			}
		}
	}

	resp.Process = readProcessStatus()

	if s.cfg.HistoryDir != "" {
		if disk, err := readDiskStatus(s.cfg.HistoryDir); err != nil {
			s.logger.Warnf("Failed to stat history dir %s: %v", s.cfg.HistoryDir, err)
		} else {
			resp.HistoryDisk = &disk
		}
	}

	if sample, ok := s.cfg.Monitor.LastSample(); ok {
		resp.Cluster = &sample
	}

	c.JSON(http.StatusOK, resp)
}

// readProcessStatus gathers cpu and memory gauges, tolerating partial
// failures so the status endpoint never errors on them.
func readProcessStatus() ProcessStatus {
	var status ProcessStatus

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		status.CPUPercent = percentages[0]
	}

	if vmStat, err := mem.VirtualMemory(); err == nil && vmStat != nil {
		status.MemoryUsedBytes = vmStat.Used
		status.MemoryUsedPercent = vmStat.UsedPercent
	}

	return status
}

// readDiskStatus stats the filesystem holding the given directory. Frsize is
// preferred over Bsize where the platform reports it, matching how container
// runtimes misreport Bsize.
func readDiskStatus(dir string) (DiskStatus, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return DiskStatus{}, err
	}

	bSize := uint64(stat.Bsize)
	if stat.Frsize > 0 {
		bSize = uint64(stat.Frsize)
	}

	return DiskStatus{
		TotalBytes: stat.Blocks * bSize,
		FreeBytes:  stat.Bavail * bSize,
	}, nil
}

// IndexStatus is one managed index inside the GET /v1/indices body.
type IndexStatus struct {
	Name         string `json:"name"`
	CurrentState string `json:"currentState"`
	DesiredState string `json:"desiredState"`
	LastError    string `json:"lastError,omitempty"`
}

func (s *Server) handleIndices(c *gin.Context) {
	indices := make([]IndexStatus, 0)

	if s.cfg.Source != nil {
		if snapshot := s.cfg.Source.GetSystemSnapshot(); snapshot != nil {
			for _, managerSnapshot := range snapshot.Managers {
				for name, instance := range managerSnapshot.GetInstances() {
					indices = append(indices, IndexStatus{
						Name:         name,
						CurrentState: instance.CurrentState,
						DesiredState: instance.DesiredState,
						LastError:    instance.LastError,
					})
				}
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"indices": indices})
}

type recoveryRequest struct {
	Indices    []string `json:"indices" binding:"required"`
	StartState string   `json:"startState"`
}

func (s *Server) handleRecovery(c *gin.Context) {
	if s.cfg.Recovery == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "recovery service is not configured"})
		return
	}

	var body recoveryRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := recovery.Request{
		Patterns:   body.Indices,
		StartState: body.StartState,
		Identity:   c.GetHeader(identityHeader),
	}

	resp, err := s.cfg.Recovery.RetryFailedIndices(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, standarderrors.ErrPermissionDenied) {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}
