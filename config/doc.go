// Package config holds the offlinekit configuration surface.
//
// Config carries the recognized subsystem options (cache bounds, TTL,
// compression, retry budget and backoff) plus the collaborator sections used
// when the subsystem assembles its own remote client, storage backend and
// connectivity source.
//
// Duration fields accept either a duration string ("5s") or integer
// milliseconds, so the option names keep their Ms suffix:
//
//	{
//	  "maxEntries": 50,
//	  "defaultTtlMs": 300000,
//	  "compressionThresholdBytes": 10240,
//	  "maxRetries": 3,
//	  "backoffBaseMs": "2s",
//	  "backoffCapMs": "5m"
//	}
//
// Files may be JSON or YAML. Environment variables override file values:
//
//	cfg, err := config.Load("offlinekit.yaml")
//	if err != nil {
//		return err
//	}
//	if err := cfg.ApplyEnv(config.EnvPrefix); err != nil {
//		return err
//	}
//
// Manager keeps a SafeConfig current from a NATS KV key and notifies
// subscribers of each accepted revision.
package config
