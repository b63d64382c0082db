package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hupe1980/compcache/model"
)

// Runner executes a compile invocation and reports everything
// observable about it. A non-zero compiler exit is NOT an error: it is
// a valid CompileResult. An error return means the process could not
// be run or its outputs could not be collected.
type Runner interface {
	Run(ctx context.Context, in model.Invocation) (*model.CompileResult, error)
}

// ExecRunner runs the compiler as a child process via os/exec.
type ExecRunner struct{}

// Compile time check to ensure ExecRunner satisfies Runner.
var _ Runner = (*ExecRunner)(nil)

// NewExecRunner creates an ExecRunner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run spawns the compiler, waits for it, and collects the declared
// outputs. The invocation's env entries overlay the process
// environment; the normalization layer decides what is key-relevant,
// the full environment is still needed for the compiler to function.
func (r *ExecRunner) Run(ctx context.Context, in model.Invocation) (*model.CompileResult, error) {
	cmd := exec.CommandContext(ctx, in.Compiler, in.Args...)
	cmd.Dir = in.Cwd
	cmd.Env = overlayEnv(os.Environ(), in.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &model.CompileResult{
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("compiler: spawning %s: %w", in.Compiler, err)
		}
		res.ExitCode = int32(exitErr.ExitCode())
		// Failed compiles surface streams and status verbatim; their
		// outputs are never read or cached.
		return res, nil
	}

	for _, rel := range in.Outputs {
		data, err := os.ReadFile(filepath.Join(in.Cwd, rel))
		if err != nil {
			return nil, fmt.Errorf("compiler: collecting output %s: %w", rel, err)
		}
		res.Outputs = append(res.Outputs, model.Output{Path: rel, Data: data})
	}
	return res, nil
}

// overlayEnv merges overrides into base, replacing duplicates.
func overlayEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		name := kv
		if i := strings.IndexByte(kv, '='); i >= 0 {
			name = kv[:i]
		}
		if _, ok := overrides[name]; ok {
			continue
		}
		out = append(out, kv)
	}
	for k, v := range overrides {
		out = append(out, k+"="+v)
	}
	return out
}
