package pipeline

import "sync"

// admission is a counting permit pool whose size can change at runtime.
//
// Growing adds free permits (after first cancelling any retirements still
// pending). Shrinking retires free permits immediately and records the rest as
// pendingRetire; each later release then retires the returned permit instead
// of freeing it. Held permits are never revoked, so a shrink is eventual.
//
// Invariant: pendingRetire > 0 implies available == 0.
type admission struct {
	mu            sync.Mutex
	available     int
	held          int
	pendingRetire int
}

func newAdmission(permits int) *admission {
	if permits < 0 {
		permits = 0
	}
	return &admission{available: permits}
}

// tryAcquire takes a permit without blocking
func (a *admission) tryAcquire() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.available == 0 {
		return false
	}
	a.available--
	a.held++
	return true
}

// release returns a held permit. It reports true when the permit was retired
// to satisfy a pending shrink rather than returned to the pool.
func (a *admission) release() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.held > 0 {
		a.held--
	}
	if a.pendingRetire > 0 {
		a.pendingRetire--
		return true
	}
	a.available++
	return false
}

// add grows the pool by n permits
func (a *admission) add(n int) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	cancelled := min(n, a.pendingRetire)
	a.pendingRetire -= cancelled
	a.available += n - cancelled
}

// retire shrinks the pool by n permits without blocking
func (a *admission) retire(n int) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	fromFree := min(n, a.available)
	a.available -= fromFree
	a.pendingRetire += n - fromFree
}

// stats returns free, held and pending-retirement counts
func (a *admission) stats() (available, held, pendingRetire int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.available, a.held, a.pendingRetire
}
