// Package diskcache implements the bounded local cache tier.
//
// Entries are immutable blobs stored one file per key under a fan-out
// directory layout (ab/<hex>), with an in-memory LRU index guarding
// total size. The index (sizes and recency) is persisted to a bbolt
// file on close so LRU order survives restarts; if the index file is
// missing or corrupt the cache rebuilds itself from a directory scan,
// using file mtimes as approximate recency. Every Get also bumps the
// entry file's mtime so a crash loses at most the fine ordering, never
// consistency.
//
// Writes are atomic (temp file + rename): a Get racing a Put for the
// same key sees either the complete blob or a miss, never a torn
// write. An entry that fails to read back is dropped and reported as
// a miss. The LRU index mutation is the only shared critical section;
// blob I/O happens outside the lock.
package diskcache
