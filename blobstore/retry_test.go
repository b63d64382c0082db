package blobstore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails the first failN calls of each operation.
type flakyStore struct {
	inner Store
	failN int32
	calls atomic.Int32
}

var errTransient = errors.New("connection reset")

func (s *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.calls.Add(1) <= s.failN {
		return nil, errTransient
	}
	return s.inner.Get(ctx, key)
}

func (s *flakyStore) Put(ctx context.Context, key string, data []byte) error {
	if s.calls.Add(1) <= s.failN {
		return errTransient
	}
	return s.inner.Put(ctx, key, data)
}

func (s *flakyStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Timeout:     time.Second,
	}
}

func TestRetryStore_RecoversFromTransientErrors(t *testing.T) {
	mem := NewMemoryStore()
	require.NoError(t, mem.Put(context.Background(), "k", []byte("v")))

	flaky := &flakyStore{inner: mem, failN: 2}
	s := WithRetry(flaky, fastPolicy(3))

	got, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
	assert.Equal(t, int32(3), flaky.calls.Load())
}

func TestRetryStore_GivesUpAfterMaxAttempts(t *testing.T) {
	flaky := &flakyStore{inner: NewMemoryStore(), failN: 100}
	s := WithRetry(flaky, fastPolicy(3))

	err := s.Put(context.Background(), "k", []byte("v"))
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, int32(3), flaky.calls.Load())
}

func TestRetryStore_MissIsNotRetried(t *testing.T) {
	flaky := &flakyStore{inner: NewMemoryStore(), failN: 0}
	s := WithRetry(flaky, fastPolicy(5))

	_, err := s.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), flaky.calls.Load(), "a definitive miss must not be retried")
}

func TestRetryStore_RespectsCallerCancellation(t *testing.T) {
	flaky := &flakyStore{inner: NewMemoryStore(), failN: 100}
	policy := fastPolicy(10)
	policy.BaseDelay = 50 * time.Millisecond
	s := WithRetry(flaky, policy)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := s.Put(ctx, "k", []byte("v"))
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "cancellation must cut the backoff schedule short")
}
