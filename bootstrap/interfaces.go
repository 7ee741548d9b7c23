// Package bootstrap starts and stops the long-running parts of an observe
// process (actor system, config watcher, channel host, refreshers) in
// dependency order.
package bootstrap

import (
	"context"
	"fmt"
	"time"
)

// Service is anything the lifecycle manager can start, stop and probe.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) (HealthStatus, error)
}

// HealthState is the coarse outcome of a health probe.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
	HealthStopped   HealthState = "stopped"
)

// HealthStatus is what a Service reports about itself.
type HealthStatus struct {
	State     HealthState    `json:"state"`
	Message   string         `json:"message,omitempty"`
	LastCheck time.Time      `json:"last_check,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// LifecycleManager orders services by their declared dependencies.
type LifecycleManager interface {
	// Register adds a service that starts after every service in deps.
	Register(name string, service Service, deps ...string) error
	Start(ctx context.Context) error
	// Stop stops services in the reverse of the order they started.
	Stop(ctx context.Context) error
	Health(ctx context.Context) (map[string]HealthStatus, error)
	Services() []string
	Events() <-chan LifecycleEvent
	AddListener(listener func(LifecycleEvent))
}

// Lifecycle event types.
const (
	EventServiceRegistered  = "service.registered"
	EventServiceStarting    = "service.starting"
	EventServiceStarted     = "service.started"
	EventServiceStartFailed = "service.start_failed"
	EventServiceStopping    = "service.stopping"
	EventServiceStopped     = "service.stopped"
	EventServiceStopFailed  = "service.stop_failed"
	EventLifecycleStarting  = "lifecycle.starting"
	EventLifecycleStarted   = "lifecycle.started"
	EventLifecycleStopping  = "lifecycle.stopping"
	EventLifecycleStopped   = "lifecycle.stopped"
)

type LifecycleEvent struct {
	Type      string         `json:"type"`
	Service   string         `json:"service,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Error     error          `json:"error,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// ApplicationError ties a lifecycle failure to the operation and, when
// known, the service that caused it.
type ApplicationError struct {
	Operation string
	Service   string
	Err       error
}

func (e *ApplicationError) Error() string {
	if e.Service == "" {
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Operation, e.Service, e.Err)
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}
