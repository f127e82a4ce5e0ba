// Package natsclient wraps the NATS Go client with a circuit breaker,
// connection health notifications and a JetStream key-value helper.
//
// In offlinekit it serves two roles. Its health notifications drive the
// connectivity.NATSMonitor, so a host that already talks to NATS gets the
// online/offline signal for free. Its KVStore backs storage/kvstore, which keeps
// the offline mutation queue in a JetStream bucket.
//
// # Circuit Breaker
//
// After a threshold of consecutive failures (default 5) the circuit opens and
// Connect fails fast with ErrCircuitOpen. The backoff doubles each round up to
// the configured maximum; after the backoff the circuit half-opens and the next
// Connect may try again.
//
// # Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(natsclient.SlogLogger(logger)))
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	remove := client.OnHealthChange(func(healthy bool) { ... })
//	defer remove()
//
//	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "offlinekit"})
//	kv := client.NewKVStore(bucket)
//	err = kv.UpdateWithRetry(ctx, key, func(current []byte) ([]byte, error) { ... })
//
// # Testing
//
// NewTestClient starts a NATS server in a container through testcontainers-go.
// Tests that use it carry the integration build tag.
package natsclient
