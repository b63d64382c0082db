// Package blobstore abstracts storage backends for cache entries.
//
// A Store holds opaque, immutable blobs addressed by a content-derived
// key. Backends only need to implement {Get, Put, Delete}; new ones
// plug in by satisfying the same contract. Included variants:
//
//   - LocalStore: local filesystem (fan-out directories, atomic writes)
//   - MemoryStore: in-process map, mainly for tests
//   - s3.Store: AWS S3
//   - minio.Store: MinIO and other S3-compatible object stores
//   - redis.Store: Redis
//
// A "not found" miss is reported as ErrNotFound and is distinct from
// transient failures (network, I/O): callers must never treat a
// transient error as an authoritative miss. WithRetry wraps any Store
// with a bounded retry/backoff/timeout policy for flaky remotes.
package blobstore
