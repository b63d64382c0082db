package compcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/compcache/blobstore"
	"github.com/hupe1980/compcache/diskcache"
	"github.com/hupe1980/compcache/model"
	"github.com/hupe1980/compcache/resultstore"
)

// fakeRunner counts real compiles and serves a canned result per source.
type fakeRunner struct {
	mu      sync.Mutex
	calls   atomic.Int64
	delay   time.Duration
	results map[string]*model.CompileResult
	err     error
}

func (r *fakeRunner) Run(_ context.Context, in model.Invocation) (*model.CompileResult, error) {
	r.calls.Add(1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.err != nil {
		return nil, r.err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if res, ok := r.results[string(in.Source)]; ok {
		return res, nil
	}
	return &model.CompileResult{
		Stdout:  []byte("compiled"),
		Outputs: []model.Output{{Path: "out.o", Data: in.Source}},
	}, nil
}

func newTestStore(t *testing.T) *resultstore.Store {
	t.Helper()

	disk, err := diskcache.Open(diskcache.Config{Dir: t.TempDir(), MaxSize: 1 << 20})
	require.NoError(t, err)
	t.Cleanup(func() { _ = disk.Close() })

	return resultstore.New(disk, blobstore.NewMemoryStore(), resultstore.Options{})
}

func testInvocation(source string) model.Invocation {
	return model.Invocation{
		Compiler:       "/usr/bin/cc",
		CompilerDigest: "digest-1",
		Source:         []byte(source),
		Args:           []string{"-O2", "-c"},
		Outputs:        []string{"out.o"},
	}
}

func TestOrchestratorMissThenHit(t *testing.T) {
	runner := &fakeRunner{}
	orch := NewOrchestrator(newTestStore(t), runner, WithLogger(NoopLogger()))

	ctx := context.Background()
	in := testInvocation("int main() {}")

	first, err := orch.Compile(ctx, in)
	require.NoError(t, err)
	assert.False(t, first.Hit)
	assert.True(t, first.Cached)
	assert.Equal(t, []byte("compiled"), first.Result.Stdout)

	second, err := orch.Compile(ctx, in)
	require.NoError(t, err)
	assert.True(t, second.Hit)
	assert.Equal(t, first.Result.Stdout, second.Result.Stdout)
	assert.Equal(t, first.Result.Outputs, second.Result.Outputs)

	assert.EqualValues(t, 1, runner.calls.Load())

	snap := orch.Stats().Snapshot()
	assert.EqualValues(t, 2, snap.CompileRequests)
	assert.EqualValues(t, 1, snap.CacheHits)
	assert.EqualValues(t, 1, snap.CacheMisses)
}

func TestOrchestratorConcurrentIdenticalRequests(t *testing.T) {
	runner := &fakeRunner{delay: 50 * time.Millisecond}
	orch := NewOrchestrator(newTestStore(t), runner, WithLogger(NoopLogger()))

	ctx := context.Background()
	in := testInvocation("int shared() { return 7; }")

	const n = 16

	var wg sync.WaitGroup

	results := make([]*Response, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = orch.Compile(ctx, in)
		}(i)
	}
	wg.Wait()

	// Exactly one real compile, and every caller sees the same result.
	assert.EqualValues(t, 1, runner.calls.Load())

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i].Result)
		assert.Equal(t, results[0].Result.Outputs, results[i].Result.Outputs)
	}
}

func TestOrchestratorDistinctKeysCompileSeparately(t *testing.T) {
	runner := &fakeRunner{}
	orch := NewOrchestrator(newTestStore(t), runner, WithLogger(NoopLogger()))

	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := orch.Compile(ctx, testInvocation(fmt.Sprintf("unit %d", i)))
		require.NoError(t, err)
	}

	assert.EqualValues(t, 4, runner.calls.Load())
}

func TestOrchestratorFailedCompileNotCached(t *testing.T) {
	runner := &fakeRunner{
		results: map[string]*model.CompileResult{
			"broken": {ExitCode: 1, Stderr: []byte("syntax error")},
		},
	}
	orch := NewOrchestrator(newTestStore(t), runner, WithLogger(NoopLogger()))

	ctx := context.Background()
	in := testInvocation("broken")

	resp, err := orch.Compile(ctx, in)
	require.NoError(t, err)
	assert.False(t, resp.Hit)
	assert.False(t, resp.Cached)
	assert.EqualValues(t, 1, resp.Result.ExitCode)
	assert.Equal(t, []byte("syntax error"), resp.Result.Stderr)

	// Retry compiles again: the failure was never stored.
	resp, err = orch.Compile(ctx, in)
	require.NoError(t, err)
	assert.False(t, resp.Hit)
	assert.EqualValues(t, 2, runner.calls.Load())
	assert.EqualValues(t, 2, orch.Stats().Snapshot().CompileFailures)
}

func TestOrchestratorUncacheableBypassesCache(t *testing.T) {
	runner := &fakeRunner{}
	orch := NewOrchestrator(newTestStore(t), runner, WithLogger(NoopLogger()))

	ctx := context.Background()
	in := testInvocation("")
	in.Source = nil // no source text, cannot derive a key

	resp, err := orch.Compile(ctx, in)
	require.NoError(t, err)
	assert.False(t, resp.Hit)
	assert.False(t, resp.Cached)

	_, err = orch.Compile(ctx, in)
	require.NoError(t, err)

	assert.EqualValues(t, 2, runner.calls.Load())
	assert.EqualValues(t, 2, orch.Stats().Snapshot().Uncacheable)
}

func TestOrchestratorRunnerErrorPropagates(t *testing.T) {
	runner := &fakeRunner{err: errors.New("compiler not found")}
	orch := NewOrchestrator(newTestStore(t), runner, WithLogger(NoopLogger()))

	_, err := orch.Compile(context.Background(), testInvocation("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compiler not found")
}

func TestOrchestratorForceRecache(t *testing.T) {
	store := newTestStore(t)
	runner := &fakeRunner{}

	warm := NewOrchestrator(store, runner, WithLogger(NoopLogger()))
	_, err := warm.Compile(context.Background(), testInvocation("hot unit"))
	require.NoError(t, err)
	require.EqualValues(t, 1, runner.calls.Load())

	orch := NewOrchestrator(store, runner, WithLogger(NoopLogger()), WithForceRecache(true))

	resp, err := orch.Compile(context.Background(), testInvocation("hot unit"))
	require.NoError(t, err)
	assert.False(t, resp.Hit)
	assert.True(t, resp.Cached)
	assert.EqualValues(t, 2, runner.calls.Load())
	assert.EqualValues(t, 1, orch.Stats().Snapshot().ForcedRecaches)
}

func TestOrchestratorCallerCancelDoesNotAbortCompile(t *testing.T) {
	store := newTestStore(t)
	runner := &fakeRunner{delay: 100 * time.Millisecond}
	orch := NewOrchestrator(store, runner, WithLogger(NoopLogger()))

	in := testInvocation("slow unit")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := orch.Compile(ctx, in)
	require.ErrorIs(t, err, context.Canceled)

	// The detached compile finishes and populates the cache; a later
	// request is a hit without another real compile.
	assert.Eventually(t, func() bool {
		resp, err := orch.Compile(context.Background(), in)
		return err == nil && resp.Hit
	}, 2*time.Second, 20*time.Millisecond)

	assert.EqualValues(t, 1, runner.calls.Load())
}

func TestOrchestratorStatsZero(t *testing.T) {
	runner := &fakeRunner{}
	orch := NewOrchestrator(newTestStore(t), runner, WithLogger(NoopLogger()))

	_, err := orch.Compile(context.Background(), testInvocation("y"))
	require.NoError(t, err)
	require.NotZero(t, orch.Stats().Snapshot().CompileRequests)

	orch.Stats().Zero()
	assert.Equal(t, StatsSnapshot{}, orch.Stats().Snapshot())
}
