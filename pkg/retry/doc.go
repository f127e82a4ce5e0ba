// Package retry provides exponential backoff for transient failures.
//
// # Policy
//
// Policy is the schedule the sync engine uses for queued operations. It is pure:
// it computes delays and never sleeps, so the engine can persist NextAttemptAt
// and resume after a restart.
//
//	p := retry.Policy{Base: 2 * time.Second, Cap: 5 * time.Minute, MaxRetries: 3}
//	p.Delay(1) // 2s
//	p.Delay(2) // 4s
//	p.Delay(3) // 8s
//	p.DelayFor(rateLimitErr, 2) // server retry-after, when provided
//
// # Do
//
// Do runs a function in-process with backoff between attempts. The KV store
// uses it for compare-and-swap writes of the queue snapshot:
//
//	cfg := retry.Config{MaxAttempts: 6, InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
//	err := retry.Do(ctx, cfg, func() error {
//	    return kv.update(ctx, key)
//	})
//
// Do stops at the first error that is marked NonRetryable or whose
// classification is not transient (auth, validation, fatal, invalid).
package retry
