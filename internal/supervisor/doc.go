// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

/*
Package supervisor runs the bridge's long-lived loops under suture v4.

The tree has three layers:

	RootSupervisor ("zkbridge")
	├── DeviceSupervisor ("device-layer")
	│   ├── TickerService "event-poll"  (Orchestrator.PollOnce)
	│   ├── TickerService "queue-upload" (Orchestrator.UploadOnce)
	│   └── LifecycleService "orchestrator"
	├── SyncSupervisor ("sync-layer")
	│   └── TickerService "incremental-sync" (Orchestrator.IncrementalOnce)
	└── APISupervisor ("api-layer")
	    ├── HubService "websocket-hub"
	    └── HTTPServerService "http-server"

Supervisor events are logged through sutureslog with the slog bridge from
internal/logging. The service wrappers live in the services subpackage.

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddDeviceService(services.NewTickerService("event-poll", 10*time.Second, orch.PollOnce))
	errCh := tree.ServeBackground(ctx)
*/
package supervisor
