// Package driver defines the Container Driver port: a narrow
// capability over a container engine that the pool controller uses to
// create, start, stop, and enumerate sandbox containers. It never
// knows about sessions, health, or execution — those live in
// internal/pool, internal/health, and internal/proxy respectively.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Errors returned by Driver implementations.
var (
	ErrNotFound      = errors.New("container not found")
	ErrQuotaExceeded = errors.New("resource quota exceeded")
	ErrImageMissing  = errors.New("image not found")
)

// RetryableError wraps a transient engine error that Create should
// retry with backoff, as opposed to a fatal one (quota, missing
// image) that should fail immediately.
type RetryableError struct{ Err error }

func (r *RetryableError) Error() string { return r.Err.Error() }
func (r *RetryableError) Unwrap() error { return r.Err }

// ResourceLimits caps what a single sandbox container may consume.
type ResourceLimits struct {
	MemoryMB int64
	CPUCores float64
	DiskMB   int64
}

// SandboxConfig is the contract between the pool controller and a
// Driver implementation for provisioning one container.
type SandboxConfig struct {
	Image   string
	Name    string
	Network string
	Labels  map[string]string
	Limits  ResourceLimits
	Env     map[string]string
}

// ManagedContainer is a container the driver recognizes by its
// management label, returned by ListManaged for boot-time cleanup.
type ManagedContainer struct {
	ID        string
	CreatedAt time.Time
}

// Driver is the abstraction interface for the container engine.
// Implementations must be safe for concurrent use; every method
// either completes or returns a typed error.
type Driver interface {
	// Create provisions (but does not start) a new container. The
	// implementation adds the management marker to cfg.Labels itself.
	// Transient engine failures are wrapped in *RetryableError so
	// callers know to retry with backoff; quota/image failures are
	// returned bare and are fatal.
	Create(ctx context.Context, cfg SandboxConfig) (id string, err error)

	// Start boots a previously created container.
	Start(ctx context.Context, id string) error

	// Stop halts a running container without removing it.
	Stop(ctx context.Context, id string) error

	// Delete force-removes a container. Deleting a container that no
	// longer exists is not an error.
	Delete(ctx context.Context, id string, force bool) error

	// Addr returns the host:port at which the sandbox's internal HTTP
	// agent is reachable.
	Addr(ctx context.Context, id string) (string, error)

	// ListManaged enumerates every container bearing the management
	// label, regardless of which gateway process created it.
	ListManaged(ctx context.Context) ([]ManagedContainer, error)

	DriverName() string
	Healthy(ctx context.Context) error
	Close() error
}

// Validate applies defaults and checks the configuration.
func (c *SandboxConfig) Validate() error {
	if c.Image == "" {
		return fmt.Errorf("image is required")
	}
	if c.Limits.MemoryMB <= 0 {
		c.Limits.MemoryMB = 512
	}
	if c.Limits.CPUCores <= 0 {
		c.Limits.CPUCores = 1.0
	}
	return nil
}
