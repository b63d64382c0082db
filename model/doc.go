// Package model defines core types shared across compcache.
//
// # Request Types
//
//   - Invocation: a normalized compile invocation as delivered by the
//     command-line normalization layer
//   - CompileResult: exit status, captured streams and produced
//     artifacts of one compiler run
//   - Output: a single produced artifact (relative path + bytes)
//
// The normalization layer is responsible for filtering Args and Env
// down to the set that actually influences compiler output. Everything
// present on an Invocation is treated as key-relevant (except Cwd,
// which is diagnostic-only unless HashCwd is set).
package model
