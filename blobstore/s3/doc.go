// Package s3 provides a blobstore.Store backed by AWS S3.
//
// Cache entries are immutable single objects, so plain GET/PUT/DELETE
// semantics suffice; no multipart bookkeeping or versioning is needed.
// A missing object maps to blobstore.ErrNotFound, everything else is
// surfaced as a transient error for the retry layer to handle.
package s3
