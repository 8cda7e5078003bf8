package loader

import (
	"context"
	"errors"
	"fmt"
)

// Enqueue queues a background request. The request is applied by the
// next DrainQueue, or by the gate's deferred-callback path if the gate
// is currently held.
func (e *Engine) Enqueue(req Request) error {
	if !e.queue.Enqueue(req) {
		return ErrQueueFull
	}
	queueDepth.Inc()
	return nil
}

// DrainQueue applies all queued requests under write permission. If the
// gate is held it registers a deferred retry and returns immediately;
// the holder's Release will re-enter the drain on its own stack. Errors
// from individual requests are logged, not propagated: a bad queued
// definition must not wedge the queue.
func (e *Engine) DrainQueue(ctx context.Context) {
	if !e.gate.TrySeizeDeferred(e.deferredDrain, ctx) {
		return
	}
	defer e.gate.Release()

	for {
		req, ok := e.queue.Dequeue()
		if !ok {
			return
		}
		queueDepth.Dec()
		if err := e.apply(ctx, req); err != nil {
			e.log.Warn("queued request failed", "module", requestModule(req), "err", err)
		}
	}
}

func (e *Engine) deferredDrain(arg any) {
	ctx, ok := arg.(context.Context)
	if !ok {
		ctx = context.Background()
	}
	e.DrainQueue(ctx)
}

// apply runs one request with the gate already held by this call chain.
func (e *Engine) apply(ctx context.Context, req Request) error {
	if req.Delete != "" {
		err := e.deleteStaged(ctx, req.Delete)
		// Deleting a module that raced away is not a queue failure.
		if errors.Is(err, ErrUnknownModule) {
			return nil
		}
		return err
	}
	return e.loadStaged(ctx, req.Def)
}

func requestModule(req Request) string {
	if req.Delete != "" {
		return fmt.Sprintf("delete %s", req.Delete)
	}
	return req.Def.Name
}
