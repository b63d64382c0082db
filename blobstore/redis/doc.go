// Package redis provides a blobstore.Store backed by Redis.
//
// Entries are stored as plain string values under a configurable key
// prefix with an optional TTL, which gives a shared cache tier its own
// cheap expiry-based eviction on top of the local LRU.
package redis
