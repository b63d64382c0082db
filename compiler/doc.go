// Package compiler abstracts spawning the real compiler.
//
// The cache core treats compilation as an opaque, possibly slow,
// possibly failing operation behind the Runner interface: spawn the
// binary, capture exit status and both streams, collect the declared
// output files. Tests substitute a fake Runner to count invocations
// and script results.
package compiler
