package resultstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hupe1980/compcache/blobstore"
	"github.com/hupe1980/compcache/cachekey"
	"github.com/hupe1980/compcache/diskcache"
	"github.com/hupe1980/compcache/model"
)

// Options tunes the two-tier store.
type Options struct {
	// Compression applied when encoding fresh results.
	Compression Compression
	// MaxRemoteWrites bounds concurrent background uploads.
	// Defaults to 8 if <= 0.
	MaxRemoteWrites int64
	// RemoteWriteRate limits background upload starts per second.
	// Zero means unlimited.
	RemoteWriteRate float64
	// RemoteTimeout bounds the total time spent on one remote lookup
	// or one background upload (retries included). Must stay well
	// under typical compile latency. Defaults to 10s if <= 0.
	RemoteTimeout time.Duration
	// Logger for backend failures; nil discards.
	Logger *slog.Logger
}

// Store is the read-through/write-through result cache.
//
// The disk cache is the near tier and the authority for local hits.
// The remote Store is optional; when absent the cache is local-only.
type Store struct {
	disk    *diskcache.Cache
	remote  blobstore.Store
	opts    Options
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// New creates a Store. remote may be nil for local-only operation;
// wrap flaky remotes with blobstore.WithRetry before passing them in.
func New(disk *diskcache.Cache, remote blobstore.Store, opts Options) *Store {
	if opts.MaxRemoteWrites <= 0 {
		opts.MaxRemoteWrites = 8
	}
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var limiter *rate.Limiter
	if opts.RemoteWriteRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RemoteWriteRate), 1)
	}

	return &Store{
		disk:    disk,
		remote:  remote,
		opts:    opts,
		limiter: limiter,
		sem:     semaphore.NewWeighted(opts.MaxRemoteWrites),
		logger:  logger,
	}
}

// Lookup returns the cached result for key, or ok=false on a miss.
//
// The disk tier is consulted first. On a local miss the remote tier is
// queried; a remote hit is written back to the disk tier before
// returning. Transient remote failures and undecodable blobs are
// reported as misses, never as errors: a cache malfunction must not
// fail or stall a build.
func (s *Store) Lookup(ctx context.Context, key cachekey.Key) (*model.CompileResult, bool) {
	name := key.String()

	if blob, ok := s.disk.Get(name); ok {
		res, err := Decode(blob)
		if err == nil {
			return res, true
		}
		// Locally cached garbage: evict and fall through to remote.
		s.logger.Warn("dropping undecodable local cache entry", "key", name, "error", err)
		s.disk.Remove(name)
	}

	if s.remote == nil {
		return nil, false
	}

	rctx, cancel := context.WithTimeout(ctx, s.opts.RemoteTimeout)
	defer cancel()

	blob, err := s.remote.Get(rctx, name)
	if err != nil {
		if !blobstore.IsNotFound(err) {
			s.logger.Debug("remote lookup failed", "key", name, "error", err)
		}
		return nil, false
	}

	res, err := Decode(blob)
	if err != nil {
		// Never populate the near tier from a bad remote blob, and do
		// not serve it either.
		s.logger.Warn("remote returned undecodable entry", "key", name, "error", err)
		return nil, false
	}

	// Read-through population. ErrTooLarge just means this entry only
	// ever lives remotely.
	if err := s.disk.Put(name, blob); err != nil && !errors.Is(err, diskcache.ErrTooLarge) {
		s.logger.Debug("populating disk cache failed", "key", name, "error", err)
	}
	return res, true
}

// Put encodes and stores a fresh result under key.
//
// The disk write is synchronous so an immediately following Lookup on
// this machine hits. The remote write happens in the background and is
// best-effort; its failure is logged and dropped.
func (s *Store) Put(ctx context.Context, key cachekey.Key, res *model.CompileResult) error {
	blob, err := Encode(res, s.opts.Compression)
	if err != nil {
		return err
	}
	name := key.String()

	if err := s.disk.Put(name, blob); err != nil {
		if errors.Is(err, diskcache.ErrTooLarge) {
			s.logger.Info("result exceeds disk cache bound, keeping remote-only", "key", name, "size", len(blob))
		} else {
			return err
		}
	}

	if s.remote != nil {
		s.wg.Add(1)
		go s.putRemote(name, blob)
	}
	return nil
}

// putRemote uploads one entry in the background. It deliberately does
// not inherit the request context: an aborted caller must not cancel a
// write that benefits every future identical request.
func (s *Store) putRemote(name string, blob []byte) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.RemoteTimeout)
	defer cancel()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			s.logger.Debug("remote write dropped by rate limit", "key", name)
			return
		}
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.logger.Debug("remote write dropped, writer pool saturated", "key", name)
		return
	}
	defer s.sem.Release(1)

	if err := s.remote.Put(ctx, name, blob); err != nil {
		s.logger.Debug("remote write failed", "key", name, "error", err)
	}
}

// Flush blocks until all in-flight background remote writes finished.
func (s *Store) Flush() {
	s.wg.Wait()
}

// Close flushes background writes. The disk cache is owned by the
// caller and closed separately.
func (s *Store) Close() error {
	s.Flush()
	return nil
}
