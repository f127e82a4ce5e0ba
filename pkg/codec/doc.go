// Package codec holds the byte-level transforms used by the cache and the offline
// queue.
//
// Three concerns live here:
//
//   - Compressor: a reversible transform for large cached payloads. Zstd is the
//     default; S2 trades ratio for speed. None is the identity transform.
//   - Codec[V]: the per-namespace serialization contract between a Go type and the
//     bytes stored in the cache. JSON is the default implementation.
//   - Schema / Registry: JSON Schema contracts per resource used to reject
//     malformed mutation payloads before they are queued.
//
// All compressors guarantee Decompress(Compress(x)) == x and are safe for
// concurrent use.
package codec
