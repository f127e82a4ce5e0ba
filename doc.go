// Package offlinekit is a resilient client-side cache with offline mutation sync.
//
// The module lets an application keep reading and writing remote resources
// while the network comes and goes. Reads are served from a compressed,
// size-bounded cache. Writes are applied optimistically, persisted to a
// durable queue and replayed against the remote API once connectivity
// returns.
//
// # Architecture
//
//	┌───────────────────────────────────────────┐
//	│            offline.Subsystem              │  Fetch / Mutate / Sync
//	│   (wires everything below, owns lifecycle)│  Retry / Discard / Cancel
//	└───────────────────────────────────────────┘
//	      ↓ reads               ↓ writes
//	┌──────────────┐   ┌──────────────────────────┐
//	│  pkg/cache   │   │  optimistic.Coordinator  │  patch stack per key,
//	│  pkg/dedup   │   │  queue.Queue             │  rollback + refetch
//	│  pkg/codec   │   │  syncer.Engine           │  lanes, backoff, events
//	└──────────────┘   └──────────────────────────┘
//	      ↓ persists            ↓ observes
//	┌──────────────┐   ┌──────────────────────────┐
//	│  storage     │   │  connectivity.Monitor    │  manual, probe, NATS
//	│  mem/file/kv │   │  telemetry, health       │  health score
//	└──────────────┘   └──────────────────────────┘
//
// # Packages
//
//   - pkg/cache: FIFO + TTL cache with per-namespace codecs and Prometheus stats
//   - pkg/codec: JSON payload codec with optional zstd/s2 compression and schema checks
//   - pkg/dedup: single-flight deduplication of concurrent misses
//   - pkg/keys: stable query keys and hashed store keys
//   - queue: durable, ordered offline mutation queue
//   - syncer: connectivity-driven replay with retry, backoff and event history
//   - optimistic: optimistic patches with rollback and reconciliation
//   - connectivity: online/offline sources and transition broadcasting
//   - remote: HTTP client for the resource API with error kind mapping
//   - telemetry, health: request metrics folded into a 0-100 health score
//   - storage: memory, filesystem and NATS KV backends behind one interface
//   - config: YAML configuration, env overrides and NATS KV hot reload
//   - cmd/offlinekit: daemon exposing health, stats and queue management over HTTP
//
// # Usage
//
//	sys, err := offline.Open(ctx, cfg, offline.Deps{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer sys.Close(5 * time.Second)
//
//	tasks := offline.Namespace(sys, "tasks", codec.JSON[Task]{})
//	task, err := offline.Fetch(ctx, sys, tasks, keys.For("tasks", "1"))
//
// Writes go through offline.Mutate. When the device is offline the mutation is
// queued and Result.Outcome reports OutcomeQueued; the cached value already
// reflects the optimistic patch.
package offlinekit
