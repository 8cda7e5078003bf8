// Package sched is the minimal cooperative scheduler the code index
// relies on: workers publish quiescence progress at safe points, and
// tasks that fail to seize write permission suspend themselves until the
// gate resumes them.
package sched

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/kiln-vm/kiln/internal/codeix"
	"github.com/kiln-vm/kiln/internal/quiesce"
)

// Worker is one execution context. A worker must call SafePoint whenever
// it holds no cached code index, and Park before blocking for long.
type Worker struct {
	ID      int
	tracker *quiesce.Tracker
}

// SafePoint publishes that the worker holds no cached code index.
func (w *Worker) SafePoint() {
	w.tracker.Advance(w.ID)
}

// Park marks the worker idle until Unpark.
func (w *Worker) Park() {
	w.tracker.Park(w.ID)
}

// Unpark marks the worker runnable again.
func (w *Worker) Unpark() {
	w.tracker.Unpark(w.ID)
}

// Scheduler runs a fixed number of workers and owns their quiescence
// tracker.
type Scheduler struct {
	tracker *quiesce.Tracker
	group   *errgroup.Group
	ctx     context.Context
	next    atomic.Int32
	size    int
}

// New returns a scheduler for exactly workers execution contexts.
func New(ctx context.Context, workers int) *Scheduler {
	group, ctx := errgroup.WithContext(ctx)
	return &Scheduler{
		tracker: quiesce.NewTracker(workers),
		group:   group,
		ctx:     ctx,
		size:    workers,
	}
}

// Tracker exposes the quiescence tracker for the writer's sweeps.
func (s *Scheduler) Tracker() *quiesce.Tracker {
	return s.tracker
}

// Go starts the next worker. Starting more workers than the scheduler
// was sized for is a defect.
func (s *Scheduler) Go(fn func(ctx context.Context, w *Worker) error) {
	id := int(s.next.Add(1)) - 1
	if id >= s.size {
		panic(fmt.Sprintf("sched: worker %d exceeds scheduler size %d", id, s.size))
	}
	w := &Worker{ID: id, tracker: s.tracker}
	s.group.Go(func() error {
		defer w.Park()
		return fn(s.ctx, w)
	})
}

// Wait blocks until every worker returned and yields the first error.
func (s *Scheduler) Wait() error {
	return s.group.Wait()
}

// Suspender adapts a task to the gate's suspension contract: a failed
// seize parks the task on the gate's wait queue, and the gate's Resume
// makes AwaitResume return so the task can retry.
type Suspender struct {
	resume chan struct{}
}

// NewSuspender returns a task handle ready to seize.
func NewSuspender() *Suspender {
	return &Suspender{resume: make(chan struct{}, 1)}
}

// Resume is called by the gate, exactly once per wakeup. Never blocks.
func (s *Suspender) Resume() {
	select {
	case s.resume <- struct{}{}:
	default:
	}
}

// AwaitResume suspends the calling task until the gate resumes it or ctx
// is done.
func (s *Suspender) AwaitResume(ctx context.Context) error {
	select {
	case <-s.resume:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Seize retries TrySeize, suspending between attempts, until the gate is
// held or ctx is done. Abandoning the seize after being queued may
// consume one wakeup, so callers should only cancel on shutdown.
func (s *Suspender) Seize(ctx context.Context, g *codeix.Gate) error {
	for !g.TrySeize(s) {
		if err := s.AwaitResume(ctx); err != nil {
			return err
		}
	}
	return nil
}

var _ codeix.Waiter = (*Suspender)(nil)
