package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/wardenhq/sandbox-gateway/internal/driver"
)

// fakeDriver is an in-memory driver.Driver used to exercise the
// controller without a Docker daemon. Every container is "created"
// instantly and considered healthy the moment it's started.
type fakeDriver struct {
	mu         sync.Mutex
	containers map[string]bool // id -> started
	nextID     int64

	failCreate  bool
	failStart   bool
	createDelay func()
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{containers: make(map[string]bool)}
}

func (f *fakeDriver) Create(ctx context.Context, cfg driver.SandboxConfig) (string, error) {
	if f.createDelay != nil {
		f.createDelay()
	}
	if f.failCreate {
		return "", fmt.Errorf("simulated create failure")
	}
	id := fmt.Sprintf("fake-%d", atomic.AddInt64(&f.nextID, 1))
	f.mu.Lock()
	f.containers[id] = false
	f.mu.Unlock()
	return id, nil
}

func (f *fakeDriver) Start(ctx context.Context, id string) error {
	if f.failStart {
		return fmt.Errorf("simulated start failure")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[id] = true
	return nil
}

func (f *fakeDriver) Stop(ctx context.Context, id string) error { return nil }

func (f *fakeDriver) Delete(ctx context.Context, id string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, id)
	return nil
}

func (f *fakeDriver) Addr(ctx context.Context, id string) (string, error) {
	return "127.0.0.1:0", nil
}

func (f *fakeDriver) ListManaged(ctx context.Context) ([]driver.ManagedContainer, error) {
	return nil, nil
}

func (f *fakeDriver) DriverName() string          { return "fake" }
func (f *fakeDriver) Healthy(ctx context.Context) error { return nil }
func (f *fakeDriver) Close() error                { return nil }
