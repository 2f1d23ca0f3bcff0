package pool

import (
	"sync"
	"time"
)

// registry holds three indexes — the container-id → Sandbox map, the
// session-id → container-id map, and the idle set — behind one coarse
// mutex. No I/O happens while this lock is held; every method here is
// a pure in-memory mutation or read.
//
// The idle set is a plain map[string]struct{}, not a queue: selection
// has no ordering guarantee, and a hash-set avoids the bug the design
// notes call out where a stats endpoint and the allocator disagree on
// which representation is authoritative.
type registry struct {
	mu             sync.Mutex
	sandboxes      map[string]*Sandbox
	sessionToBox   map[string]string
	idle           map[string]struct{}
	isInitializing bool
	replenishing   bool
}

func newRegistry() *registry {
	return &registry{
		sandboxes:      make(map[string]*Sandbox),
		sessionToBox:   make(map[string]string),
		idle:           make(map[string]struct{}),
		isInitializing: true,
	}
}

// total/busy/idle counts, held under lock by the caller where needed;
// exposed standalone for Snapshot, which takes its own lock.
func (r *registry) snapshotLocked() Stats {
	return Stats{
		Total:          len(r.sandboxes),
		Busy:           len(r.sessionToBox),
		Idle:           len(r.idle),
		IsInitializing: r.isInitializing,
	}
}

func (r *registry) Snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// existingBinding returns the Busy sandbox already bound to sessionID,
// refreshing its last-activity timestamp (an acquire on an existing
// binding counts as activity). This must be the first thing Acquire
// checks, so a session already bound never races its own rebinding.
func (r *registry) existingBinding(sessionID string) (*Sandbox, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.sessionToBox[sessionID]
	if !ok {
		return nil, false
	}
	sb := r.sandboxes[id]
	sb.LastActivity = time.Now()
	cp := *sb
	return &cp, true
}

// claimIdle atomically pops an arbitrary idle sandbox and binds it to
// sessionID: the move from the idle set into the session map happens
// under a single lock acquisition, never observably split, so no two
// sessions can ever claim the same sandbox.
func (r *registry) claimIdle(sessionID string) (*Sandbox, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.idle {
		sb := r.sandboxes[id]
		delete(r.idle, id)
		sb.State = StateBusy
		sb.SessionID = sessionID
		sb.LastActivity = time.Now()
		r.sessionToBox[sessionID] = id
		cp := *sb
		return &cp, true
	}
	return nil, false
}

// reserveSlot records a registry entry in StateCreating once the
// container-create call has returned its id, before start and health
// probing, enforcing maxTotal as
// part of the same lock acquisition that observes the current count —
// this is the single point where the total pool size cap is actually
// enforced; a caller-side read-then-act check on Snapshot would race
// against a concurrent reserveSlot. The caller already holds a
// semaphore credit for the creation itself.
func (r *registry) reserveSlot(id string, maxTotal int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sandboxes) >= maxTotal {
		return false
	}
	r.sandboxes[id] = &Sandbox{ID: id, State: StateCreating, CreatedAt: time.Now()}
	return true
}

// promoteToIdle moves a just-health-checked sandbox from Creating into
// Idle. Failed creations never reach this call and so never enter the
// registry as Idle.
func (r *registry) promoteToIdle(id, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sb, ok := r.sandboxes[id]
	if !ok {
		return
	}
	sb.State = StateIdle
	sb.Addr = addr
	sb.LastActivity = time.Now()
	r.idle[id] = struct{}{}
}

// promoteToBusy moves a just-health-checked sandbox straight into Busy
// bound to sessionID — the just-in-time creation path inside Acquire.
func (r *registry) promoteToBusy(id, addr, sessionID string) *Sandbox {
	r.mu.Lock()
	defer r.mu.Unlock()
	sb, ok := r.sandboxes[id]
	if !ok {
		return nil
	}
	sb.State = StateBusy
	sb.Addr = addr
	sb.SessionID = sessionID
	sb.LastActivity = time.Now()
	r.sessionToBox[sessionID] = id
	cp := *sb
	return &cp
}

// abandonReservation removes a Creating entry that failed before ever
// becoming Idle or Busy (creation error, health-probe timeout).
func (r *registry) abandonReservation(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sandboxes, id)
}

// destroySession marks the sandbox bound to sessionID as Destroying
// and removes it from every index, returning it for asynchronous
// teardown outside the lock. A container-id, once returned here,
// never reappears in the registry (I5).
func (r *registry) destroySession(sessionID string) (*Sandbox, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.sessionToBox[sessionID]
	if !ok {
		return nil, false
	}
	return r.destroyLocked(id), true
}

// destroyID marks an arbitrary (idle or busy) sandbox as Destroying by
// container id.
func (r *registry) destroyID(id string) (*Sandbox, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sb, ok := r.sandboxes[id]
	if !ok {
		return nil, false
	}
	return r.destroyLocked(id), true
}

func (r *registry) destroyLocked(id string) *Sandbox {
	sb := r.sandboxes[id]
	delete(r.sandboxes, id)
	delete(r.idle, id)
	if sb.SessionID != "" {
		delete(r.sessionToBox, sb.SessionID)
	}
	cp := *sb
	cp.State = StateDestroying
	return &cp
}

// staleBusy returns a snapshot of every Busy sandbox whose last
// activity is older than cutoff, for the idle recycler scan. It never
// mutates the registry; the recycler destroys each victim afterward
// through Release (destroySession), outside the scan's own lock hold.
func (r *registry) staleBusy(cutoff time.Time) []*Sandbox {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stale []*Sandbox
	for id, sb := range r.sandboxes {
		if sb.State == StateBusy && sb.LastActivity.Before(cutoff) {
			cp := *sb
			cp.ID = id
			stale = append(stale, &cp)
		}
	}
	return stale
}

// counts returns (total, idleCount, busyCount) in one lock hold, used
// by the replenisher to size its next batch without racing a
// concurrent Acquire/Release.
func (r *registry) counts() (total, idleCount, busyCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sandboxes), len(r.idle), len(r.sessionToBox)
}

func (r *registry) setInitializing(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.isInitializing = v
}

func (r *registry) tryStartReplenish() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replenishing {
		return false
	}
	r.replenishing = true
	return true
}

func (r *registry) finishReplenish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replenishing = false
}
