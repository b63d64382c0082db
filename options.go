package compcache

type options struct {
	logger                *Logger
	maxConcurrentCompiles int64
	forceRecache          bool
}

// Option configures the Orchestrator.
type Option func(*options)

// WithLogger sets the logger. Defaults to a text logger on stderr.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMaxConcurrentCompiles bounds simultaneous real compiler
// processes. Cache hits are not subject to this bound since they do no
// CPU-heavy work. Values <= 0 fall back to the default of 16.
func WithMaxConcurrentCompiles(n int64) Option {
	return func(o *options) {
		o.maxConcurrentCompiles = n
	}
}

// WithForceRecache makes every request ignore existing cache entries:
// the compiler runs for real and its result overwrites the cache.
// Useful to repopulate a cache suspected of staleness.
func WithForceRecache(force bool) Option {
	return func(o *options) {
		o.forceRecache = force
	}
}
