package model

import "fmt"

// Invocation is a normalized compile request.
//
// The fields mirror what the wrapper/normalization layer extracts from
// the original command line: the compiler binary, a digest identifying
// its exact version, the preprocessed translation unit, and the
// key-relevant arguments and environment variables.
type Invocation struct {
	// Compiler is the path or identity of the compiler binary.
	Compiler string `json:"compiler"`
	// CompilerDigest identifies the exact compiler build (e.g. a hash
	// of the binary or its reported version string).
	CompilerDigest string `json:"compiler_digest"`
	// Source is the preprocessed source text. May be empty when
	// preprocessing failed, in which case the invocation is
	// uncacheable.
	Source []byte `json:"source,omitempty"`
	// Args are the key-relevant compiler arguments, already filtered.
	Args []string `json:"args,omitempty"`
	// Env are the key-relevant environment variables, already filtered.
	Env map[string]string `json:"env,omitempty"`
	// Outputs are the relative paths the compiler is expected to
	// produce (e.g. the object file, split dwarf file).
	Outputs []string `json:"outputs,omitempty"`
	// Cwd is the working directory of the original invocation. It is
	// carried for diagnostics and process spawning only.
	Cwd string `json:"cwd,omitempty"`
	// HashCwd opts the working directory into the cache key. Needed
	// when absolute paths leak into the produced artifacts (e.g.
	// unnormalized debug info).
	HashCwd bool `json:"hash_cwd,omitempty"`
}

// String returns a short representation for logging.
func (in Invocation) String() string {
	return fmt.Sprintf("Invocation(%s, %d args, %d bytes source)", in.Compiler, len(in.Args), len(in.Source))
}

// Output is a single artifact produced by a compile, addressed by its
// path relative to the invocation's working directory.
type Output struct {
	Path string `json:"path"`
	Data []byte `json:"data,omitempty"`
}

// CompileResult captures everything observable about one compiler run.
// It is immutable after creation; cached results and fresh results are
// indistinguishable to callers.
type CompileResult struct {
	ExitCode int32  `json:"exit_code"`
	Stdout   []byte `json:"stdout,omitempty"`
	Stderr   []byte `json:"stderr,omitempty"`
	// Outputs preserves production order. Contents are arbitrary
	// binary data, including empty files.
	Outputs []Output `json:"outputs,omitempty"`
}

// Ok reports whether the compile succeeded. Only successful results
// are ever written to the cache.
func (r *CompileResult) Ok() bool {
	return r.ExitCode == 0
}

// Size returns the total payload size in bytes, used for accounting.
func (r *CompileResult) Size() int64 {
	n := int64(len(r.Stdout) + len(r.Stderr))
	for _, o := range r.Outputs {
		n += int64(len(o.Path)) + int64(len(o.Data))
	}
	return n
}
