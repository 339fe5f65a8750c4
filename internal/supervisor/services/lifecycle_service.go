// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package services

import "context"

// StartStopper matches the orchestrator's lifecycle. Wait blocks until
// background work started by the component has drained.
type StartStopper interface {
	Start()
	Stop()
	Wait()
}

// LifecycleService adapts a Start/Stop component to suture's Serve pattern:
// Start on entry, Stop and Wait once ctx is canceled.
type LifecycleService struct {
	component StartStopper
	name      string
}

// NewLifecycleService wraps component under the given service name.
func NewLifecycleService(name string, component StartStopper) *LifecycleService {
	return &LifecycleService{component: component, name: name}
}

// Serve implements suture.Service.
func (s *LifecycleService) Serve(ctx context.Context) error {
	s.component.Start()
	<-ctx.Done()
	s.component.Stop()
	s.component.Wait()
	return ctx.Err()
}

// String implements fmt.Stringer.
func (s *LifecycleService) String() string {
	return s.name
}
