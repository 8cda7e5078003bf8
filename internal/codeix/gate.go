package codeix

import "sync"

// Waiter is the suspension contract between the gate and the scheduler.
// A task whose TrySeize returned false has been enqueued and must
// suspend its own execution; the gate calls Resume exactly once when it
// is the task's turn to retry. Resume must not block.
type Waiter interface {
	Resume()
}

type deferredSeize struct {
	fn  func(any)
	arg any
}

// Gate is the single-writer mutual exclusion guarding the staging
// lifecycle. It is either free or held by exactly one owner. Blocked
// seizers park on a FIFO wait queue; background work that cannot block
// registers a deferred callback instead.
type Gate struct {
	mu       sync.Mutex
	holder   any
	waiters  []Waiter
	deferred []deferredSeize
}

// NewGate returns a free gate.
func NewGate() *Gate {
	return &Gate{}
}

// TrySeize attempts to take write permission for caller. On success it
// returns true and caller is the holder until Release. On failure the
// caller is appended to the wait queue and must suspend itself; it will
// be resumed (not granted the gate) by a later Release and has to
// re-attempt the seize.
//
// The caller must not already hold the gate; a re-seize is a defect in a
// collaborator and panics. The caller must also not be blocking global
// forward progress of other execution contexts while seizing.
func (g *Gate) TrySeize(caller Waiter) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.holder == nil {
		g.holder = caller
		gateSeizures.WithLabelValues("acquired").Inc()
		return true
	}
	if g.holder == any(caller) {
		panic("codeix: TrySeize while already holding write permission")
	}
	g.waiters = append(g.waiters, caller)
	gateSeizures.WithLabelValues("queued").Inc()
	return false
}

// TrySeizeDeferred is the non-blocking variant for maintenance work not
// tied to a specific task's control flow. On success the caller holds
// the gate (identified by arg) and returns true. On failure fn is
// recorded and invoked exactly once with arg when the gate next becomes
// free, before any blocked waiter runs; the callback does not inherit
// the gate and must re-attempt the seize itself.
func (g *Gate) TrySeizeDeferred(fn func(any), arg any) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.holder == nil {
		g.holder = arg
		gateSeizures.WithLabelValues("acquired").Inc()
		return true
	}
	g.deferred = append(g.deferred, deferredSeize{fn: fn, arg: arg})
	gateSeizures.WithLabelValues("deferred").Inc()
	return false
}

// Release gives up write permission. All pending deferred callbacks are
// invoked first (outside the gate lock, on the releasing task's stack),
// then exactly one blocked waiter is resumed. Servicing both classes on
// every release keeps either from starving the other.
func (g *Gate) Release() {
	g.mu.Lock()
	if g.holder == nil {
		g.mu.Unlock()
		panic("codeix: Release of a free gate")
	}
	g.holder = nil

	pending := g.deferred
	g.deferred = nil

	var next Waiter
	if len(g.waiters) > 0 {
		next = g.waiters[0]
		g.waiters = g.waiters[1:]
	}
	g.mu.Unlock()

	gateReleases.Inc()
	for _, d := range pending {
		d.fn(d.arg)
	}
	if next != nil {
		gateWakeups.Inc()
		next.Resume()
	}
}

// HasPermission reports whether caller is the current holder. Debug
// query only; the answer is stale the moment it returns unless caller
// is the holder.
func (g *Gate) HasPermission(caller any) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.holder != nil && g.holder == caller
}

// Held reports whether any owner currently holds the gate. Used as the
// Set's write-permission check: only the holder may run staging
// transitions, so "held" from the transitioning task's perspective means
// "held by me".
func (g *Gate) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.holder != nil
}
