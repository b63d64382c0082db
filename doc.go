// Package compcache implements a compiler-invocation cache.
//
// Given a normalized compile invocation it derives a fingerprint of
// the invocation's effective inputs, looks the fingerprint up in a
// two-tier cache (bounded local disk LRU, optional shared remote
// object store) and only invokes the real compiler on a miss. Cached
// results are byte-identical to what the compiler would have produced.
//
// # Architecture
//
//   - cachekey: input fingerprinting (SHA-256 over normalized inputs)
//   - diskcache: bounded local tier with LRU eviction and crash-safe
//     index recovery
//   - blobstore: pluggable remote backends (S3, MinIO, Redis, local)
//   - resultstore: result (de)serialization and tier movement
//   - compiler: spawning the real compiler
//   - server: request dispatch, concurrency limits, idle shutdown
//
// The Orchestrator in this package ties the pieces together and
// guarantees two properties above all: identical concurrent requests
// converge on a single real compile, and no cache malfunction ever
// fails or stalls a build. Every cache error degrades to compiling
// for real.
package compcache
