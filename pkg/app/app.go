// Package app assembles the control plane. One App value owns every
// long-lived component, wired from settings at construction time, so
// commands and tests build fresh instances instead of sharing globals.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"faultline/internal/config"
	"faultline/internal/logger"
	"faultline/internal/mongo"
	"faultline/internal/sandbox"
	"faultline/internal/sandbox/docker"
	"faultline/internal/sandbox/kube"
	"faultline/internal/server"
	"faultline/internal/telemetry"
	"faultline/pkg/broadcast"
	"faultline/pkg/chaos"
	"faultline/pkg/cluster"
	"faultline/pkg/monitor"
	"faultline/pkg/query"
	"faultline/pkg/stream"
)

const shutdownTimeout = 10 * time.Second

// App is the wired component graph of the control plane.
type App struct {
	Settings  config.Settings
	Metrics   *telemetry.Metrics
	Runtime   sandbox.Runtime
	Pool      *mongo.Pool
	Broadcast *broadcast.Broadcaster
	Manager   *cluster.Manager
	Simulator *chaos.Simulator
	Executor  *query.Executor
	Streamer  *stream.Streamer
	Monitor   *monitor.Monitor
	Server    *server.Server
}

// New builds the runtime named by the settings and wires the graph
// around it.
func New(settings config.Settings) (*App, error) {
	rt, err := NewRuntime(settings)
	if err != nil {
		return nil, err
	}
	return NewWithRuntime(settings, rt), nil
}

// NewRuntime builds the sandbox runtime the settings select.
func NewRuntime(settings config.Settings) (sandbox.Runtime, error) {
	switch settings.Runtime {
	case config.RuntimeDocker:
		return docker.New()
	case config.RuntimeKubernetes:
		return kube.New(settings.Kubeconfig, settings.KubeNamespace)
	default:
		return nil, fmt.Errorf("unknown runtime %q", settings.Runtime)
	}
}

// NewWithRuntime wires the graph around an existing runtime.
func NewWithRuntime(settings config.Settings, rt sandbox.Runtime) *App {
	metrics := telemetry.New()
	pool := mongo.NewPool(mongo.Options{
		ConnectTimeout:         settings.ConnectTimeout,
		ServerSelectionTimeout: settings.ServerSelectionTimeout,
	})
	bcast := broadcast.New(metrics)

	manager := cluster.NewManager(rt, adminSessions{pool}, metrics, cluster.Options{
		Image:          settings.Image,
		Network:        settings.Network,
		MemoryLimitMB:  settings.MemoryLimitMB,
		BasePort:       settings.BasePort,
		NodeSettle:     settings.NodeSettleTimeout,
		MemberSettle:   settings.MemberSettleTimeout,
		ElectionWait:   settings.ElectionTimeout,
		StepDownPoll:   settings.StepDownPollInterval,
		StepDownWindow: settings.StepDownPollWindow,
	})
	simulator := chaos.NewSimulator(rt, manager, metrics)
	manager.SetFailureLister(simulator)

	executor := query.NewExecutor(manager, dataSessions{pool}, metrics)
	streamer := stream.NewStreamer(rt, bcast, metrics, settings.LogPollInterval, settings.LogTailLines)

	return &App{
		Settings:  settings,
		Metrics:   metrics,
		Runtime:   rt,
		Pool:      pool,
		Broadcast: bcast,
		Manager:   manager,
		Simulator: simulator,
		Executor:  executor,
		Streamer:  streamer,
		Monitor:   monitor.New(manager, bcast, settings.MonitorInterval),
		Server:    server.New(manager, simulator, executor, streamer, bcast, metrics),
	}
}

// Run serves until ctx is cancelled or the listener fails, then tears the
// components down in dependency order. Leftover sandboxes from a previous
// process are swept before serving; they would collide with fresh name and
// port allocations.
func (a *App) Run(ctx context.Context) error {
	if err := a.Runtime.Ping(ctx); err != nil {
		return fmt.Errorf("%s runtime not reachable: %w", a.Runtime.Name(), err)
	}
	if err := a.Runtime.CleanupAll(ctx); err != nil {
		logger.Warning(fmt.Sprintf("Failed to remove leftover sandboxes: %v", err))
	}
	if err := a.Runtime.EnsureNetwork(ctx, a.Settings.Network); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.Monitor.Run(runCtx)

	httpServer := &http.Server{Addr: a.Settings.ListenAddr, Handler: a.Server.Router()}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info(fmt.Sprintf("Control plane listening on %s", a.Settings.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warning(fmt.Sprintf("HTTP shutdown: %v", err))
	}
	a.Streamer.Shutdown()
	<-a.Monitor.Done()

	if a.Settings.CleanupOnShutdown {
		if err := a.Runtime.CleanupAll(shutdownCtx); err != nil {
			logger.Warning(fmt.Sprintf("Failed to clean up sandboxes: %v", err))
		}
	}
	a.Pool.Close(shutdownCtx)

	logger.Info("Control plane stopped")
	return runErr
}
