// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tomtom215/zkbridge/internal/api"
	"github.com/tomtom215/zkbridge/internal/backend"
	"github.com/tomtom215/zkbridge/internal/config"
	"github.com/tomtom215/zkbridge/internal/device"
	"github.com/tomtom215/zkbridge/internal/logging"
	"github.com/tomtom215/zkbridge/internal/models"
	"github.com/tomtom215/zkbridge/internal/orchestrator"
	"github.com/tomtom215/zkbridge/internal/queue"
	"github.com/tomtom215/zkbridge/internal/roster"
	"github.com/tomtom215/zkbridge/internal/supervisor"
	"github.com/tomtom215/zkbridge/internal/supervisor/services"
	"github.com/tomtom215/zkbridge/internal/transport"
	"github.com/tomtom215/zkbridge/internal/watermark"
	"github.com/tomtom215/zkbridge/internal/websocket"
)

// badgerGCInterval is how often the badger queue reclaims value log space.
const badgerGCInterval = 10 * time.Minute

// bridge holds the wired components.
type bridge struct {
	cfg     *config.Config
	queue   queue.Queue
	orch    *orchestrator.Orchestrator
	hub     *websocket.Hub
	handler *api.Handler
	server  *http.Server
}

// build constructs every component. ctx parents background sync runs started
// through the API.
func build(ctx context.Context, cfg *config.Config) (*bridge, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	q, err := queue.Open(cfg.Queue.Options())
	if err != nil {
		return nil, fmt.Errorf("open %s queue: %w", cfg.Queue.Backend, err)
	}

	client, err := backend.NewClient(cfg.Backend.ClientConfig())
	if err != nil {
		_ = q.Close()
		return nil, fmt.Errorf("create backend client: %w", err)
	}

	adapter := device.NewNetAdapter(cfg.Poll.ConnectTimeout, cfg.Poll.ReadTimeout)
	sender := transport.NewClient(cfg.Sync.AckTimeout, cfg.Sync.ChunkPort)
	wm := watermark.NewStore(filepath.Join(cfg.DataDir, watermark.FileName))
	hub := websocket.NewHub()

	// Roster runs target whatever the orchestrator last saw as connected;
	// orch is assigned below before any run can start.
	var orch *orchestrator.Orchestrator
	connected := roster.TerminalProviderFunc(func() []models.Terminal {
		return orch.ConnectedTerminals()
	})

	engine := roster.NewEngine(cfg.Sync.EngineConfig(), cfg.Terminals, client, sender, wm)
	engine.UseConnected(connected)
	provisioner := roster.NewProvisioner(engine, wm, func(p roster.Progress) {
		hub.BroadcastSyncProgress(p)
	})
	incremental := roster.NewIncremental(client, adapter, connected, wm, cfg.Sync.BatchSize)

	orch = orchestrator.New(orchestrator.Config{
		Terminals:      cfg.Terminals,
		ConnectTimeout: cfg.Poll.ConnectTimeout,
		ReadTimeout:    cfg.Poll.ReadTimeout,
		AutoProvision:  cfg.Sync.AutoProvision,
	}, orchestrator.Deps{
		Adapter:     adapter,
		Queue:       q,
		Uploader:    queue.NewUploader(q, client),
		Incremental: incremental,
		Provisioner: provisioner,
		Watermark:   wm,
		Engine:      engine,
	})
	orch.OnStatus(func(st orchestrator.Status) {
		hub.BroadcastStatus(st)
	})

	b := &bridge{cfg: cfg, queue: q, orch: orch, hub: hub}

	if cfg.Server.Enabled {
		b.handler = api.NewHandler(api.Deps{
			Status:      orch,
			Engine:      engine,
			Incremental: incremental,
			Watermark:   wm,
			Hub:         hub,
			BaseContext: ctx,
			CORSOrigins: cfg.Server.CORSOrigins,
		})
		b.server = &http.Server{
			Addr: net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
			Handler: api.NewRouter(b.handler, api.RouterConfig{
				CORSOrigins:       cfg.Server.CORSOrigins,
				RateLimitRequests: cfg.Server.RateLimitReqs,
				RateLimitWindow:   cfg.Server.RateLimitWindow,
			}),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		}
	}

	logging.Info().
		Str("watermark", wm.Path()).
		Bool("auto_provision", cfg.Sync.AutoProvision).
		Bool("http_enabled", cfg.Server.Enabled).
		Msg("Bridge components initialized")
	return b, nil
}

// register adds every service to its supervisor layer.
func (b *bridge) register(tree *supervisor.SupervisorTree) {
	tree.AddDeviceService(services.NewLifecycleService("orchestrator", b.orch))
	tree.AddDeviceService(services.NewTickerService("event-poll", b.cfg.Poll.EventInterval, b.orch.PollOnce))
	tree.AddDeviceService(services.NewTickerService("queue-upload", b.cfg.Poll.UploadInterval, b.orch.UploadOnce))
	if bq, ok := b.queue.(*queue.BadgerQueue); ok {
		tree.AddDeviceService(services.NewTickerService("queue-gc", badgerGCInterval, func(context.Context) {
			if err := bq.RunGC(); err != nil {
				logging.Warn().Err(err).Msg("Badger queue GC failed")
			}
		}))
	}

	tree.AddSyncService(services.NewTickerService("incremental-sync", b.cfg.Poll.IncrementalInterval, func(ctx context.Context) {
		b.orch.IncrementalOnce(ctx)
	}))

	tree.AddAPIService(services.NewHubService(b.hub))
	if b.server != nil {
		tree.AddAPIService(services.NewHTTPServerService(b.server, b.cfg.Supervisor.ShutdownTimeout))
		logging.Info().Str("addr", b.server.Addr).Msg("HTTP server service added")
	}
}

// close waits for API-started runs and releases the queue.
func (b *bridge) close() {
	if b.handler != nil {
		b.handler.Wait()
	}
	if err := b.queue.Close(); err != nil {
		logging.Error().Err(err).Msg("Failed to close queue")
	}
}
