// Package pool implements the Worker Pool Controller: the component
// that owns every sandbox's lifecycle, the session→sandbox binding,
// pre-warm and recycling, and the "cattle, not pets" recovery policy —
// any failure on a Busy sandbox destroys it unconditionally rather
// than attempting repair.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/wardenhq/sandbox-gateway/internal/config"
	"github.com/wardenhq/sandbox-gateway/internal/driver"
	"github.com/wardenhq/sandbox-gateway/internal/errkind"
	"github.com/wardenhq/sandbox-gateway/internal/health"
)

// prober is the narrow surface Controller needs from health.Prober,
// broken out as an interface so tests can swap in a stub that never
// touches the network.
type prober interface {
	Probe(ctx context.Context, baseURL string, interval, timeout time.Duration) error
}

// Controller is the Worker Pool Controller: it owns a driver.Driver and
// layers session-keyed Acquire/Release semantics on top of it.
type Controller struct {
	cfg    config.Config
	drv    driver.Driver
	prober prober

	reg    *registry
	credit *semaphore.Weighted

	cron     *cron.Cron
	cronID   cron.EntryID
	stopOnce sync.Once
}

// New constructs a Controller bound to drv. Start must be called
// before the first Acquire to perform boot-time cleanup and the
// initial pre-warm pass.
func New(cfg config.Config, drv driver.Driver) *Controller {
	return &Controller{
		cfg:    cfg,
		drv:    drv,
		prober: health.NewProber(),
		reg:    newRegistry(),
		credit: semaphore.NewWeighted(int64(cfg.MaxTotalWorkers)),
	}
}

// Start performs the boot-time stale cleanup, the first pre-warm pass,
// and schedules the idle recycler on a cron "@every" schedule.
// IsInitializing stays true until the first replenish pass completes.
func (c *Controller) Start(ctx context.Context) error {
	c.cleanupStaleAtBoot(ctx)

	c.replenish(context.Background())
	c.reg.setInitializing(false)

	c.cron = cron.New()
	spec := fmt.Sprintf("@every %s", c.cfg.RecyclingInterval)
	id, err := c.cron.AddFunc(spec, func() { c.runRecyclerPass(context.Background()) })
	if err != nil {
		return fmt.Errorf("schedule idle recycler: %w", err)
	}
	c.cronID = id
	c.cron.Start()
	return nil
}

// Stop halts the recycler schedule. It does not tear down sandboxes —
// that is the operator's job via the container engine, since the
// non-goals explicitly exclude surviving a restart.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		if c.cron != nil {
			<-c.cron.Stop().Done()
		}
	})
}

func (c *Controller) cleanupStaleAtBoot(ctx context.Context) {
	managed, err := c.drv.ListManaged(ctx)
	if err != nil {
		log.Error().Err(err).Msg("boot cleanup: failed to list managed containers")
		return
	}
	if len(managed) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, m := range managed {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := c.drv.Delete(ctx, id, true); err != nil {
				log.Warn().Err(err).Str("container", id).Msg("boot cleanup: failed to delete orphan")
			}
		}(m.ID)
	}
	wg.Wait()
	log.Info().Int("count", len(managed)).Msg("boot cleanup: removed orphaned containers")
}

// Acquire returns a Busy sandbox bound to sessionID: an existing
// binding (refreshed), a claimed idle sandbox, or a freshly created
// one if under MaxTotalWorkers. It signals errkind.Initializing while
// the pool hasn't completed its first pre-warm pass, errkind.NoCapacity
// when full with nothing idle, and errkind.CreationFailed when a
// just-in-time creation exhausts retries.
func (c *Controller) Acquire(ctx context.Context, sessionID string) (*Sandbox, error) {
	if sb, ok := c.reg.existingBinding(sessionID); ok {
		return sb, nil
	}

	if c.reg.Snapshot().IsInitializing {
		return nil, errkind.New(errkind.Initializing, "pool is still warming up")
	}

	if sb, ok := c.reg.claimIdle(sessionID); ok {
		go c.triggerReplenish()
		return sb, nil
	}

	total, _, _ := c.reg.counts()
	if total >= c.cfg.MaxTotalWorkers {
		return nil, errkind.New(errkind.NoCapacity, "pool at capacity with no idle sandbox")
	}

	if !c.credit.TryAcquire(1) {
		return nil, errkind.New(errkind.NoCapacity, "creation credits exhausted")
	}
	defer c.credit.Release(1)

	sb, err := c.createAndBind(ctx, sessionID)
	if err != nil {
		if errors.Is(err, errNoRoom) {
			return nil, errkind.New(errkind.NoCapacity, err.Error())
		}
		return nil, errkind.New(errkind.CreationFailed, err.Error())
	}
	return sb, nil
}

// createAndBind provisions one fresh sandbox and binds it directly to
// sessionID. The container enters the registry as a Creating
// reservation as soon as Create returns, before start and health
// probing, and counts toward Total from then on; it is removed again
// if a later step fails, so a failed creation never becomes Idle or
// Busy. None of the I/O happens while the registry lock is held.
func (c *Controller) createAndBind(ctx context.Context, sessionID string) (*Sandbox, error) {
	cfg := c.sandboxConfig()

	id, err := c.drv.Create(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}
	if !c.reg.reserveSlot(id, c.cfg.MaxTotalWorkers) {
		_ = c.drv.Delete(context.Background(), id, true)
		return nil, errNoRoom
	}

	if err := c.drv.Start(ctx, id); err != nil {
		c.reg.abandonReservation(id)
		_ = c.drv.Delete(context.Background(), id, true)
		return nil, fmt.Errorf("start: %w", err)
	}

	addr, err := c.drv.Addr(ctx, id)
	if err != nil {
		c.reg.abandonReservation(id)
		_ = c.drv.Delete(context.Background(), id, true)
		return nil, fmt.Errorf("resolve address: %w", err)
	}

	if err := c.prober.Probe(ctx, "http://"+addr, c.cfg.ProbeInterval, c.cfg.HealthTimeout); err != nil {
		c.reg.abandonReservation(id)
		_ = c.drv.Delete(context.Background(), id, true)
		return nil, fmt.Errorf("health probe: %w", err)
	}

	return c.reg.promoteToBusy(id, addr, sessionID), nil
}

var errNoRoom = fmt.Errorf("no room in the pool for another sandbox")

// createAndParkIdle is the pre-warm variant of createAndBind: the
// sandbox is inserted as Idle instead of bound to a session.
func (c *Controller) createAndParkIdle(ctx context.Context) error {
	cfg := c.sandboxConfig()

	id, err := c.drv.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	if !c.reg.reserveSlot(id, c.cfg.MaxTotalWorkers) {
		_ = c.drv.Delete(context.Background(), id, true)
		return errNoRoom
	}

	if err := c.drv.Start(ctx, id); err != nil {
		c.reg.abandonReservation(id)
		_ = c.drv.Delete(context.Background(), id, true)
		return fmt.Errorf("start: %w", err)
	}

	addr, err := c.drv.Addr(ctx, id)
	if err != nil {
		c.reg.abandonReservation(id)
		_ = c.drv.Delete(context.Background(), id, true)
		return fmt.Errorf("resolve address: %w", err)
	}

	if err := c.prober.Probe(ctx, "http://"+addr, c.cfg.ProbeInterval, c.cfg.HealthTimeout); err != nil {
		c.reg.abandonReservation(id)
		_ = c.drv.Delete(context.Background(), id, true)
		return fmt.Errorf("health probe: %w", err)
	}

	c.reg.promoteToIdle(id, addr)
	return nil
}

func (c *Controller) sandboxConfig() driver.SandboxConfig {
	return driver.SandboxConfig{
		Image:   c.cfg.WorkerImage,
		Network: c.cfg.NetworkName,
		Labels:  map[string]string{},
		Limits: driver.ResourceLimits{
			MemoryMB: c.cfg.MemoryMB,
			CPUCores: c.cfg.CPUCores,
			DiskMB:   c.cfg.DiskMB,
		},
	}
}

// Release transitions the sandbox bound to sessionID to Destroying,
// removes it from every index, and destroys the container
// asynchronously. Releasing an unknown session is a no-op.
func (c *Controller) Release(ctx context.Context, sessionID string) error {
	sb, ok := c.reg.destroySession(sessionID)
	if !ok {
		return nil
	}
	c.destroyAsync(sb.ID)
	return nil
}

// RecordFailure is semantically identical to Release — the cattle
// model makes no distinction between an operator-initiated release
// and a proxy-observed failure.
func (c *Controller) RecordFailure(ctx context.Context, sessionID string) error {
	return c.Release(ctx, sessionID)
}

func (c *Controller) destroyAsync(id string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.drv.Delete(ctx, id, true); err != nil {
			log.Warn().Err(err).Str("container", id).Msg("failed to delete destroyed sandbox")
		}
		c.triggerReplenish()
	}()
}

// Snapshot returns the weakly-consistent counter snapshot for GET
// /status and the Prometheus gauges.
func (c *Controller) Snapshot() Stats {
	return c.reg.Snapshot()
}

// triggerReplenish runs the replenisher in the background, respecting
// the single-flight "replenishing" flag; callers never block on it.
func (c *Controller) triggerReplenish() {
	go c.replenish(context.Background())
}

// replenish computes need = MinIdleWorkers - |idle| and
// room = MaxTotalWorkers - |registry|, then schedules
// min(need, room) concurrent creations. Overlapping invocations are
// prevented by the registry's replenishing flag, which is always
// released so the replenisher remains triggerable afterward.
func (c *Controller) replenish(ctx context.Context) {
	if !c.reg.tryStartReplenish() {
		return
	}
	defer c.reg.finishReplenish()

	total, idleCount, _ := c.reg.counts()
	need := c.cfg.MinIdleWorkers - idleCount
	room := c.cfg.MaxTotalWorkers - total
	n := min(need, room)
	if n <= 0 {
		return
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		if !c.credit.TryAcquire(1) {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer c.credit.Release(1)
			if err := c.createAndParkIdle(ctx); err != nil {
				log.Warn().Err(err).Msg("pre-warm creation failed")
			}
		}()
	}
	wg.Wait()
}

// runRecyclerPass destroys every Busy sandbox whose last activity
// exceeds WorkerIdleTimeout, then triggers the replenisher. Victims
// are destroyed concurrently, outside the registry lock.
func (c *Controller) runRecyclerPass(ctx context.Context) {
	cutoff := time.Now().Add(-c.cfg.WorkerIdleTimeout)
	stale := c.reg.staleBusy(cutoff)
	if len(stale) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, sb := range stale {
		wg.Add(1)
		go func(sessionID string) {
			defer wg.Done()
			_ = c.Release(ctx, sessionID)
		}(sb.SessionID)
	}
	wg.Wait()
	c.triggerReplenish()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
