package compcache

import (
	"context"
	"errors"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/compcache/cachekey"
	"github.com/hupe1980/compcache/compiler"
	"github.com/hupe1980/compcache/model"
	"github.com/hupe1980/compcache/resultstore"
)

// Response is the outcome of one compile request: the authoritative
// compiler result plus a hit indicator for observability.
type Response struct {
	Result *model.CompileResult
	// Hit is true when the result was served from the cache without
	// invoking the real compiler.
	Hit bool
	// Cached is true when a fresh result was written to the cache.
	Cached bool
}

// Orchestrator drives a request through derive→lookup→compile→store.
//
// Concurrency properties: at most one real compile runs per cache key
// (concurrent identical requests attach to the in-flight one), and
// the number of simultaneous real compiles across all keys is bounded.
// All cache-layer failures degrade to an uncached real compile; only
// the real compiler's result is ever surfaced to the caller.
type Orchestrator struct {
	store  *resultstore.Store
	runner compiler.Runner
	logger *Logger
	stats  *Stats

	flight     singleflight.Group
	compileSem *semaphore.Weighted

	forceRecache bool
}

// NewOrchestrator wires the result store and compiler runner together.
func NewOrchestrator(store *resultstore.Store, runner compiler.Runner, optFns ...Option) *Orchestrator {
	opts := options{
		logger:                NewLogger(nil),
		maxConcurrentCompiles: 16,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.maxConcurrentCompiles <= 0 {
		opts.maxConcurrentCompiles = 16
	}

	return &Orchestrator{
		store:        store,
		runner:       runner,
		logger:       opts.logger,
		stats:        &Stats{},
		compileSem:   semaphore.NewWeighted(opts.maxConcurrentCompiles),
		forceRecache: opts.forceRecache,
	}
}

// Stats exposes the orchestrator's counters.
func (o *Orchestrator) Stats() *Stats {
	return o.stats
}

// Compile serves one normalized invocation.
//
// An error return means the compiler itself could not be executed
// (missing binary, unreadable outputs); a failed compilation is not an
// error but a Response with a non-zero exit code, surfaced verbatim
// and never cached.
func (o *Orchestrator) Compile(ctx context.Context, in model.Invocation) (*Response, error) {
	o.stats.CompileRequests.Add(1)

	key, err := cachekey.Derive(in)
	if err != nil {
		if !errors.Is(err, cachekey.ErrUncacheable) {
			// Derive only fails with ErrUncacheable today; anything
			// else is an invariant violation, handled the same way:
			// compile for real, skip caching.
			o.stats.CacheErrors.Add(1)
			o.logger.Error("key derivation failed unexpectedly", "error", err)
		}
		o.stats.Uncacheable.Add(1)
		res, err := o.runCompiler(ctx, in)
		if err != nil {
			return nil, err
		}
		return &Response{Result: res}, nil
	}

	log := o.logger.WithKey(key.String())

	if o.forceRecache {
		o.stats.ForcedRecaches.Add(1)
	} else if res, ok := o.store.Lookup(ctx, key); ok {
		o.stats.CacheHits.Add(1)
		log.Debug("cache hit")
		return &Response{Result: res, Hit: true}, nil
	}

	o.stats.CacheMisses.Add(1)
	log.Debug("cache miss")
	return o.compileAndStore(ctx, key, in, log)
}

// compileAndStore funnels identical keys through a single in-flight
// compile and stores successful results.
func (o *Orchestrator) compileAndStore(ctx context.Context, key cachekey.Key, in model.Invocation, log *Logger) (*Response, error) {
	// The compile must not die with the first requester: later
	// waiters, and the cache itself, still want the result.
	flightCtx := context.WithoutCancel(ctx)

	ch := o.flight.DoChan(key.String(), func() (any, error) {
		// Another waiter may have finished between our lookup and
		// entering the flight group.
		if !o.forceRecache {
			if res, ok := o.store.Lookup(flightCtx, key); ok {
				return &Response{Result: res, Hit: true}, nil
			}
		}

		res, err := o.runCompiler(flightCtx, in)
		if err != nil {
			return nil, err
		}

		resp := &Response{Result: res}
		if !res.Ok() {
			// Failed compiles are surfaced verbatim and never cached.
			o.stats.CompileFailures.Add(1)
			return resp, nil
		}

		if err := o.store.Put(flightCtx, key, res); err != nil {
			o.stats.CacheWriteSkips.Add(1)
			log.Warn("storing compile result failed", "error", err)
		} else {
			resp.Cached = true
		}
		return resp, nil
	})

	select {
	case <-ctx.Done():
		// The caller gave up. The in-flight compile keeps running for
		// the benefit of other (and future) identical requests.
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		resp, ok := r.Val.(*Response)
		if !ok {
			// Should be impossible; fall back to an uncached compile
			// rather than failing the build.
			o.stats.CacheErrors.Add(1)
			log.Error("in-flight group returned unexpected value", "error", &InvariantError{Reason: "non-Response flight value"})
			res, err := o.runCompiler(ctx, in)
			if err != nil {
				return nil, err
			}
			return &Response{Result: res}, nil
		}
		return resp, nil
	}
}

// runCompiler executes the real compiler, bounded by the configured
// concurrency limit.
func (o *Orchestrator) runCompiler(ctx context.Context, in model.Invocation) (*model.CompileResult, error) {
	if err := o.compileSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer o.compileSem.Release(1)

	return o.runner.Run(ctx, in)
}
