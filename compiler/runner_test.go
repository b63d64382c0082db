//go:build unix

package compiler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/compcache/model"
)

func TestExecRunner_Success(t *testing.T) {
	dir := t.TempDir()
	r := NewExecRunner()

	res, err := r.Run(context.Background(), model.Invocation{
		Compiler: "/bin/sh",
		Args:     []string{"-c", "printf compiled > out.bin; echo done"},
		Cwd:      dir,
		Outputs:  []string{"out.bin"},
	})
	require.NoError(t, err)

	assert.Equal(t, int32(0), res.ExitCode)
	assert.Equal(t, "done\n", string(res.Stdout))
	require.Len(t, res.Outputs, 1)
	assert.Equal(t, "out.bin", res.Outputs[0].Path)
	assert.Equal(t, []byte("compiled"), res.Outputs[0].Data)
}

func TestExecRunner_NonZeroExitIsNotAnError(t *testing.T) {
	r := NewExecRunner()

	res, err := r.Run(context.Background(), model.Invocation{
		Compiler: "/bin/sh",
		Args:     []string{"-c", "echo broken >&2; exit 3"},
		Cwd:      t.TempDir(),
	})
	require.NoError(t, err)

	assert.Equal(t, int32(3), res.ExitCode)
	assert.Equal(t, "broken\n", string(res.Stderr))
	assert.Empty(t, res.Outputs)
}

func TestExecRunner_MissingBinaryIsAnError(t *testing.T) {
	r := NewExecRunner()

	_, err := r.Run(context.Background(), model.Invocation{
		Compiler: filepath.Join(t.TempDir(), "no-such-compiler"),
		Cwd:      t.TempDir(),
	})
	assert.Error(t, err)
}

func TestExecRunner_MissingDeclaredOutputIsAnError(t *testing.T) {
	r := NewExecRunner()

	_, err := r.Run(context.Background(), model.Invocation{
		Compiler: "/bin/sh",
		Args:     []string{"-c", "true"},
		Cwd:      t.TempDir(),
		Outputs:  []string{"never-written.o"},
	})
	assert.Error(t, err)
}

func TestExecRunner_EnvOverlay(t *testing.T) {
	t.Setenv("COMPCACHE_TEST_BASE", "base")
	r := NewExecRunner()

	res, err := r.Run(context.Background(), model.Invocation{
		Compiler: "/bin/sh",
		Args:     []string{"-c", `printf "%s:%s" "$COMPCACHE_TEST_BASE" "$COMPCACHE_TEST_OVERRIDE"`},
		Cwd:      t.TempDir(),
		Env:      map[string]string{"COMPCACHE_TEST_OVERRIDE": "set"},
	})
	require.NoError(t, err)
	assert.Equal(t, "base:set", string(res.Stdout))

	_ = os.Unsetenv("COMPCACHE_TEST_BASE")
}

func TestOverlayEnv_ReplacesDuplicates(t *testing.T) {
	out := overlayEnv([]string{"A=1", "B=2"}, map[string]string{"A": "override"})
	assert.Contains(t, out, "A=override")
	assert.Contains(t, out, "B=2")
	assert.NotContains(t, out, "A=1")
}
