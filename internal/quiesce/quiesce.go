// Package quiesce implements the grace-period barrier that gates reuse
// of a retiring code generation: every worker publishes a monotonically
// increasing sequence counter at its safe points, and a sweep since some
// snapshot is complete once every counter has advanced past it (parked
// workers count as quiescent).
package quiesce

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
)

const cacheLineSize = 64

type workerProgress struct {
	seq    atomic.Uint64
	parked atomic.Bool
	_      [cacheLineSize - 9]byte
}

// Tracker holds one padded progress counter per worker.
type Tracker struct {
	workers []workerProgress
}

// NewTracker returns a tracker for a fixed worker count.
func NewTracker(workers int) *Tracker {
	if workers <= 0 {
		panic(fmt.Sprintf("quiesce: invalid worker count %d", workers))
	}
	return &Tracker{workers: make([]workerProgress, workers)}
}

// Workers returns the tracked worker count.
func (t *Tracker) Workers() int {
	return len(t.workers)
}

// Advance publishes that worker has reached a safe point: it holds no
// cached code index from before this call.
func (t *Tracker) Advance(worker int) {
	t.workers[worker].seq.Add(1)
}

// Park marks a worker idle. A parked worker holds no cached code index
// and counts as quiescent in every sweep.
func (t *Tracker) Park(worker int) {
	t.workers[worker].parked.Store(true)
}

// Unpark marks a worker runnable again. The implicit safe point keeps
// sweeps opened while the worker was parked satisfied.
func (t *Tracker) Unpark(worker int) {
	t.workers[worker].seq.Add(1)
	t.workers[worker].parked.Store(false)
}

// Snapshot records the current progress vector into buf, reallocating
// only when buf is too small. The writer takes one snapshot at commit
// and sweeps against it before the next staging cycle.
func (t *Tracker) Snapshot(buf []uint64) []uint64 {
	if cap(buf) < len(t.workers) {
		buf = make([]uint64, len(t.workers))
	}
	buf = buf[:len(t.workers)]
	for i := range t.workers {
		buf[i] = t.workers[i].seq.Load()
	}
	return buf
}

// PassedSince reports whether every worker has either advanced past the
// snapshot or is parked.
func (t *Tracker) PassedSince(snap []uint64) bool {
	if len(snap) != len(t.workers) {
		panic("quiesce: snapshot size mismatch")
	}
	for i := range t.workers {
		w := &t.workers[i]
		if w.parked.Load() {
			continue
		}
		if w.seq.Load() <= snap[i] {
			return false
		}
	}
	return true
}

// Wait blocks until the sweep against snap completes or ctx is done. It
// spins briefly before falling back to sleeping, since sweeps normally
// finish within a few scheduling passes.
func (t *Tracker) Wait(ctx context.Context, snap []uint64) error {
	for spin := 0; ; spin++ {
		if t.PassedSince(snap) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if spin < 64 {
			runtime.Gosched()
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}
