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

	"github.com/united-manufacturing-hub/ilm-core/pkg/cluster"
	"github.com/united-manufacturing-hub/ilm-core/pkg/config"
	"github.com/united-manufacturing-hub/ilm-core/pkg/configstore/memory"
	"github.com/united-manufacturing-hub/ilm-core/pkg/constants"
	"github.com/united-manufacturing-hub/ilm-core/pkg/control"
	"github.com/united-manufacturing-hub/ilm-core/pkg/history"
	"github.com/united-manufacturing-hub/ilm-core/pkg/logger"
	"github.com/united-manufacturing-hub/ilm-core/pkg/metrics"
	"github.com/united-manufacturing-hub/ilm-core/pkg/opsserver"
	"github.com/united-manufacturing-hub/ilm-core/pkg/permissions"
	"github.com/united-manufacturing-hub/ilm-core/pkg/recovery"
	"github.com/united-manufacturing-hub/ilm-core/pkg/sentry"
	"github.com/united-manufacturing-hub/ilm-core/pkg/service/cluster_monitor"
	"github.com/united-manufacturing-hub/ilm-core/pkg/serviceregistry"
	"github.com/united-manufacturing-hub/ilm-core/pkg/version"
	"github.com/united-manufacturing-hub/ilm-core/pkg/watchdog"
)

// clusterScrapeInterval paces the background scrapes of the cluster's
// exposition endpoint.
const clusterScrapeInterval = 15 * time.Second

func main() {
	logger.Initialize()

	sentry.InitSentry(version.GetAppVersion(), true)

	log := logger.For(logger.ComponentCore)

	log.Infof("Starting ilm-core %s...", version.GetAppVersion())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	configManager := config.NewFileConfigManagerWithBackoff()

	bootConfig, err := configManager.GetConfig(ctx, 0)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to load config: %v", err)
		os.Exit(1)
	}

	metricsPort := bootConfig.Agent.MetricsPort
	if metricsPort == 0 {
		metricsPort = constants.DefaultMetricsPort
	}
	opsPort := bootConfig.Agent.OpsPort
	if opsPort == 0 {
		opsPort = constants.DefaultOpsPort
	}
	historyDir := bootConfig.Agent.HistoryDir
	if historyDir == "" {
		historyDir = constants.DefaultHistoryDir
	}

	metricsServer := metrics.SetupMetricsEndpoint(fmt.Sprintf(":%d", metricsPort))
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			sentry.ReportIssuef(sentry.IssueTypeError, log, "Failed to shutdown metrics server: %v", err)
		}
	}()

	// The metadata store keeps the per-index state records and scheduler
	// jobs. The in-memory implementation is rebuilt from the cluster and
	// config on restart.
	store := memory.NewInMemoryStore()

	var provider cluster.Provider
	if endpoint := bootConfig.Agent.Cluster.Endpoint; endpoint != "" {
		provider = cluster.NewHTTPProvider(endpoint, nil)
	} else {
		log.Warnf("No cluster endpoint configured, using the in-memory provider")
		provider = cluster.NewMemoryProvider()
	}

	services := serviceregistry.NewRegistry(store, provider)

	recorder, err := history.NewRecorder(history.Config{Dir: historyDir})
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to open history recorder: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := recorder.Close(); err != nil {
			log.Errorf("Failed to close history recorder: %v", err)
		}
	}()

	var validator permissions.Validator
	if bootConfig.Agent.AccessControl.Enabled {
		validator = permissions.NewRuleValidator(bootConfig.Agent.AccessControl.Rules)
	} else {
		validator = permissions.NewAllowAllValidator()
	}

	recoveryService := recovery.NewService(recovery.Config{
		Store:     store,
		Provider:  provider,
		Validator: validator,
		Recorder:  recorder,
	})

	monitor := cluster_monitor.NewMonitorService(bootConfig.Agent.Cluster.MetricsEndpoint)
	if monitor.Enabled() {
		go scrapeClusterMetrics(ctx, monitor)
	} else {
		log.Info("Cluster metrics endpoint not configured, monitor disabled")
	}

	controlLoop := control.NewControlLoop(configManager, services, recorder)

	dog := watchdog.New(ctx, time.NewTicker(time.Second))
	go dog.Start()
	go watchLoopTicks(ctx, dog, controlLoop)

	opsServer := opsserver.NewServer(opsserver.Config{
		Source:     controlLoop,
		Recovery:   recoveryService,
		Monitor:    monitor,
		HistoryDir: historyDir,
		Port:       opsPort,
	})
	opsServer.Start()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shutdownCancel()
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Failed to shutdown ops server: %v", err)
		}
	}()

	err = controlLoop.Execute(ctx)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Control loop failed: %v", err)
	}

	if err := controlLoop.Stop(ctx); err != nil {
		log.Errorf("Failed to stop control loop: %v", err)
	}

	log.Info("ilm-core completed")
}

// watchLoopTicks reports the control loop's liveness to the watchdog. A tick
// counter that stops advancing accumulates warnings until the watchdog
// reports the loop as stalled.
func watchLoopTicks(ctx context.Context, dog *watchdog.Watchdog, loop *control.ControlLoop) {
	id := dog.Register("control_loop", 5, 30)
	defer dog.Unregister(id)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	lastTick := loop.GetCurrentTick()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			currentTick := loop.GetCurrentTick()
			if currentTick > lastTick {
				dog.Beat(id, watchdog.StatusOK)
			} else {
				dog.Beat(id, watchdog.StatusWarning)
			}
			lastTick = currentTick
		}
	}
}

// scrapeClusterMetrics keeps the monitor's cached sample fresh for the ops
// status endpoint.
func scrapeClusterMetrics(ctx context.Context, monitor *cluster_monitor.MonitorService) {
	log := logger.For(logger.ComponentClusterMonitor)

	ticker := time.NewTicker(clusterScrapeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scrapeCtx, scrapeCancel := context.WithTimeout(ctx, clusterScrapeInterval)
			if _, err := monitor.Scrape(scrapeCtx); err != nil {
				log.Warnf("Cluster metrics scrape failed: %v", err)
			}
			scrapeCancel()
		}
	}
}
