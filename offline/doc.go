// Package offline assembles the cache, deduplicator, offline queue, sync
// engine, optimistic coordinator and telemetry into one Subsystem.
//
// Reads go through Fetch: a fresh cache entry is returned directly, otherwise
// concurrent identical requests share one network call whose result is cached.
// While offline, reads are served from the cache only.
//
// Writes go through Mutate. A write may carry a speculative update for a cached
// query; the update is visible immediately and is later committed or rolled
// back. Online, the write is sent at once; offline, or when the online attempt
// fails with a retryable error, it is accepted into the durable queue and the
// sync engine sends it once connectivity returns. The Result says which of the
// two happened:
//
//	res, err := offline.Mutate(ctx, sys, tasks, offline.Mutation[Task]{
//		Kind:    remote.KindUpdate,
//		ID:      "42",
//		Payload: patch,
//		Query:   keys.For("tasks", "42"),
//		Update: func(t Task, found bool) (Task, error) {
//			t.Done = true
//			return t, nil
//		},
//	})
//	if err != nil {
//		return err // rejected; the speculative update was rolled back
//	}
//	if res.Outcome == offline.OutcomeQueued {
//		// pending sync, not yet confirmed by the server
//	}
//
// Open builds the remote client, storage backend and connectivity source from
// a config.Config; New accepts them as Deps.
package offline
