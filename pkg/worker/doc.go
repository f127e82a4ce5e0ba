// Package worker provides a generic, thread-safe worker pool for concurrent task processing.
//
// # Overview
//
// The pool runs a fixed number of goroutines that take work items from a bounded
// channel. The sync engine uses it to run one drain lane per resource in
// parallel, which bounds concurrent remote calls to the worker count:
//
//	pool, err := worker.NewPool[string](4, 64, func(ctx context.Context, resource string) error {
//	    return engine.drainResource(ctx, resource)
//	}, worker.WithMetricsRegistry[string](registry, "sync"))
//	if err != nil {
//	    return err
//	}
//	_ = pool.Start(ctx)
//	defer pool.Stop(5 * time.Second)
//
// # Submitting Work
//
// Submit never blocks and returns ErrQueueFull when the queue is at capacity.
// SubmitWait retries until space frees up or the context ends.
//
// # Failure Handling
//
// A processor error is counted as failed and otherwise ignored; callers that need
// the result report it through their own channels. A panicking processor is
// recovered, logged, and counted as failed with ErrTaskPanicked, and the worker
// keeps running.
//
// # Observability
//
// Stats() is always available. WithMetricsRegistry additionally exports
// offlinekit_worker_* metrics labelled with the pool prefix.
package worker
