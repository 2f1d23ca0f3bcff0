// Package docker implements internal/driver.Driver on top of the
// Docker engine: a single *client.Client, create/start/stop/inspect
// call shapes, and boot-time orphan cleanup by management label.
package docker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog/log"

	"github.com/wardenhq/sandbox-gateway/internal/driver"
)

const DriverName = "docker"

// ManagedLabelKey and ManagedLabelValue together form the stable
// marker used to recognize containers this gateway owns: changing
// either orphans every container created under the old marker, so
// they are constants, not configuration.
const (
	ManagedLabelKey   = "managed-by"
	ManagedLabelValue = "code-interpreter-gateway"

	agentPort = "8080"
)

// Driver implements driver.Driver using the Docker engine API.
type Driver struct {
	cli           *client.Client
	createRetries int
}

// New creates a Driver from the ambient Docker environment (DOCKER_HOST
// etc.) via client.NewClientWithOpts(client.FromEnv, ...).
func New(createRetries int) (*Driver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if createRetries <= 0 {
		createRetries = 3
	}
	return &Driver{cli: cli, createRetries: createRetries}, nil
}

func (d *Driver) DriverName() string { return DriverName }

func (d *Driver) Healthy(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return err
}

func (d *Driver) Close() error { return d.cli.Close() }

// Create provisions a sleeping container (no agent exec'd yet — the
// sandbox's own entrypoint starts the HTTP agent) with the management
// label applied, retrying transient engine failures with exponential
// backoff up to createRetries attempts.
func (d *Driver) Create(ctx context.Context, cfg driver.SandboxConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	var id string
	var lastErr error
	for attempt := 0; attempt < d.createRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		id, lastErr = d.createOnce(ctx, cfg)
		if lastErr == nil {
			return id, nil
		}
		var retryable *driver.RetryableError
		if !errors.As(lastErr, &retryable) {
			return "", lastErr
		}
		log.Warn().Err(lastErr).Int("attempt", attempt+1).Msg("container create attempt failed, retrying")
	}
	return "", fmt.Errorf("container create exhausted %d retries: %w", d.createRetries, lastErr)
}

func (d *Driver) createOnce(ctx context.Context, cfg driver.SandboxConfig) (string, error) {
	nanoCPUs := int64(cfg.Limits.CPUCores * 1e9)
	memoryBytes := cfg.Limits.MemoryMB * 1024 * 1024
	diskBytes := cfg.Limits.DiskMB * 1024 * 1024

	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			NanoCPUs: nanoCPUs,
			Memory:   memoryBytes,
		},
		NetworkMode: container.NetworkMode(cfg.Network),
	}
	if cfg.Network == "" {
		hostConfig.NetworkMode = "bridge"
	}

	labels := make(map[string]string, len(cfg.Labels)+1)
	for k, v := range cfg.Labels {
		labels[k] = v
	}
	labels[ManagedLabelKey] = ManagedLabelValue

	env := []string{
		fmt.Sprintf("WARDEN_SANDBOX_DISK_BYTES=%d", diskBytes),
		fmt.Sprintf("WARDEN_AGENT_PORT=%s", agentPort),
	}
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	if _, _, err := d.cli.ImageInspectWithRaw(ctx, cfg.Image); err != nil {
		if client.IsErrNotFound(err) {
			return "", fmt.Errorf("%w: %s", driver.ErrImageMissing, cfg.Image)
		}
		return "", &driver.RetryableError{Err: fmt.Errorf("inspect image: %w", err)}
	}

	resp, err := d.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        cfg.Image,
			Env:          env,
			Labels:       labels,
			ExposedPorts: nil,
		},
		hostConfig,
		nil,
		nil,
		cfg.Name,
	)
	if err != nil {
		if isQuotaError(err) {
			return "", fmt.Errorf("%w: %v", driver.ErrQuotaExceeded, err)
		}
		return "", &driver.RetryableError{Err: fmt.Errorf("container create: %w", err)}
	}
	return resp.ID, nil
}

func isQuotaError(err error) bool {
	// The Docker API doesn't surface a typed quota error; transient
	// daemon errors (socket hiccups, image pull races) are far more
	// common than genuine resource exhaustion, so only a small set of
	// unambiguous substrings is treated as fatal here.
	msg := err.Error()
	return containsAny(msg, "no space left on device", "cannot allocate memory")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func (d *Driver) Start(ctx context.Context, id string) error {
	if err := d.cli.ContainerStart(ctx, id, types.ContainerStartOptions{}); err != nil {
		if client.IsErrNotFound(err) {
			return driver.ErrNotFound
		}
		return fmt.Errorf("start container: %w", err)
	}
	return nil
}

func (d *Driver) Stop(ctx context.Context, id string) error {
	timeout := 5
	if err := d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("stop container: %w", err)
	}
	return nil
}

// Delete force-removes a container. A missing container is not an
// error — deleting an already-gone container is the common case when
// cleanup races the daemon's own reaping.
func (d *Driver) Delete(ctx context.Context, id string, force bool) error {
	err := d.cli.ContainerRemove(ctx, id, types.ContainerRemoveOptions{
		Force:         force,
		RemoveVolumes: true,
	})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("delete container: %w", err)
	}
	return nil
}

// Addr resolves the container's bridge-network IP and the agent's
// fixed port, so the proxy can reach the sandbox's HTTP agent.
func (d *Driver) Addr(ctx context.Context, id string) (string, error) {
	info, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", driver.ErrNotFound
		}
		return "", err
	}
	ip := info.NetworkSettings.IPAddress
	if ip == "" {
		for _, net := range info.NetworkSettings.Networks {
			if net.IPAddress != "" {
				ip = net.IPAddress
				break
			}
		}
	}
	if ip == "" {
		return "", fmt.Errorf("container %s has no network address yet", id)
	}
	return fmt.Sprintf("%s:%s", ip, agentPort), nil
}

// ListManaged enumerates every container bearing the management
// label, across restarts and across gateway processes.
func (d *Driver) ListManaged(ctx context.Context) ([]driver.ManagedContainer, error) {
	list, err := d.cli.ContainerList(ctx, types.ContainerListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", fmt.Sprintf("%s=%s", ManagedLabelKey, ManagedLabelValue))),
	})
	if err != nil {
		return nil, fmt.Errorf("list managed containers: %w", err)
	}

	out := make([]driver.ManagedContainer, 0, len(list))
	for _, c := range list {
		out = append(out, driver.ManagedContainer{
			ID:        c.ID,
			CreatedAt: time.Unix(c.Created, 0),
		})
	}
	return out, nil
}
