package blobstore

import (
	"context"
	"time"
)

// Policy is a bounded retry schedule for flaky backends. It is plain
// data consumed by RetryStore; there is no ambient retry loop anywhere
// else in the cache.
type Policy struct {
	// MaxAttempts is the total number of tries (first attempt
	// included). Values below 1 are treated as 1.
	MaxAttempts int
	// BaseDelay is the sleep before the second attempt; each further
	// attempt doubles it up to MaxDelay.
	BaseDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
	// Timeout bounds every individual attempt. Mandatory for remote
	// stores: it must stay well under typical compile latency so a
	// stalled backend degrades to local-only caching instead of
	// stalling builds.
	Timeout time.Duration
}

// DefaultPolicy is a sane schedule for object-storage backends.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Timeout:     5 * time.Second,
	}
}

// RetryStore wraps a Store with per-attempt timeouts and bounded
// exponential backoff. ErrNotFound is authoritative and never retried.
type RetryStore struct {
	inner  Store
	policy Policy
}

// WithRetry wraps inner with the given policy.
func WithRetry(inner Store, policy Policy) *RetryStore {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &RetryStore{inner: inner, policy: policy}
}

// Get retries transient failures, passing misses through immediately.
func (s *RetryStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		data, err = s.inner.Get(ctx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Put retries transient failures.
func (s *RetryStore) Put(ctx context.Context, key string, data []byte) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.inner.Put(ctx, key, data)
	})
}

// Delete retries transient failures.
func (s *RetryStore) Delete(ctx context.Context, key string) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.inner.Delete(ctx, key)
	})
}

func (s *RetryStore) do(ctx context.Context, op func(context.Context) error) error {
	delay := s.policy.BaseDelay
	var lastErr error

	for attempt := 0; attempt < s.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if s.policy.MaxDelay > 0 && delay > s.policy.MaxDelay {
				delay = s.policy.MaxDelay
			}
		}

		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if s.policy.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, s.policy.Timeout)
		}
		err := op(attemptCtx)
		cancel()

		if err == nil || IsNotFound(err) {
			return err
		}
		lastErr = err

		// The parent context being done means the caller gave up;
		// stop instead of sleeping through more attempts.
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}
