// Package cachekey derives the cache fingerprint for a normalized
// compile invocation.
//
// The key is a SHA-256 digest over a length-delimited encoding of the
// invocation's effective inputs: compiler identity and version digest,
// preprocessed source, key-relevant arguments and environment. Inputs
// are normalized (sorted) before hashing so that semantically equal
// invocations with reordered flags or differently-iterated environment
// maps produce identical keys.
//
// Collision resistance matters here: an accidental collision would
// silently return the wrong object file. That is why the digest is a
// cryptographic hash rather than a fast checksum.
package cachekey
