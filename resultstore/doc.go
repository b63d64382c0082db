// Package resultstore serializes compile results and moves them
// between the cache tiers.
//
// A CompileResult is encoded into a single self-describing blob:
// a fixed header (magic, version, compression), a length-delimited
// payload with the exit code, captured streams and artifacts, and a
// CRC32-Castagnoli trailer. The payload may be compressed with lz4 or
// zstd. Round-trips are bit exact, including empty and non-UTF8
// artifact contents.
//
// Store is the two-tier façade: lookups hit the local disk cache
// first and fall back to the remote backend, populating the disk on a
// remote hit (read-through). Stores write the disk synchronously and
// the remote asynchronously with bounded retries; a failing remote
// never fails a compile, it only forgoes cross-machine reuse.
package resultstore
