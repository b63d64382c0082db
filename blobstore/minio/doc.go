// Package minio provides a blobstore.Store backed by MinIO or any
// S3-compatible object store reachable via the MinIO client.
package minio
