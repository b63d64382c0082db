package diskcache

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ErrTooLarge is returned by Put when a single entry exceeds the
// configured maximum cache size. The cache is left untouched; evicting
// everything to admit one oversized entry would be strictly worse.
var ErrTooLarge = errors.New("diskcache: entry exceeds maximum cache size")

// Config holds configuration for the disk cache.
type Config struct {
	// Dir is the directory where entry files and the index live.
	Dir string
	// MaxSize is the maximum total size of all entries in bytes.
	// If zero, the cache sizes itself from available disk space
	// (a tenth of the free space, capped at 10 GiB).
	MaxSize int64
}

// Cache is a size-bounded key→blob store with LRU eviction.
//
// All methods are safe for concurrent use. The in-memory index is the
// authority while the process runs; Close flushes recency metadata to
// the on-disk index.
type Cache struct {
	dir     string
	maxSize int64

	mu     sync.Mutex
	items  map[string]*entry
	head   *entry // most recently used
	tail   *entry // least recently used
	size   int64
	index  *boltIndex
	closed bool

	hits   atomic.Int64
	misses atomic.Int64
}

type entry struct {
	key        string
	size       int64
	lastUsed   int64 // unix nanos
	next, prev *entry
}

// Open opens (or creates) a disk cache in cfg.Dir and rebuilds the
// index. A missing or corrupt index file degrades to a full directory
// scan; a missing directory yields an empty, consistent cache.
func Open(cfg Config) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, errors.New("diskcache: Dir must be set")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}

	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = defaultMaxSize(cfg.Dir)
	}

	c := &Cache{
		dir:     cfg.Dir,
		maxSize: maxSize,
		items:   make(map[string]*entry),
	}

	idx, persisted := openIndex(filepath.Join(cfg.Dir, indexFileName))
	c.index = idx

	c.rebuild(persisted)
	return c, nil
}

// rebuild merges the persisted index with what is actually on disk.
// Files win: index rows without a backing file are dropped, files
// without an index row are adopted with their mtime as recency.
func (c *Cache) rebuild(persisted map[string]indexRow) {
	type seen struct {
		size     int64
		lastUsed int64
	}
	found := make(map[string]seen)

	_ = filepath.Walk(c.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil //nolint:nilerr // skip unreadable parts, keep scanning
		}
		if info.Name() == indexFileName || isTempFile(info.Name()) {
			return nil
		}
		key := info.Name()
		if !validKeyName(key) {
			return nil
		}
		// Gets bump the file mtime but only flush the index on clean
		// shutdown, so after a crash the newer of the two wins.
		last := info.ModTime().UnixNano()
		if row, ok := persisted[key]; ok && row.Size == info.Size() && row.LastUsed > last {
			last = row.LastUsed
		}
		found[key] = seen{size: info.Size(), lastUsed: last}
		return nil
	})

	keys := make([]string, 0, len(found))
	for k := range found {
		keys = append(keys, k)
	}
	// Oldest first so the most recently used entry ends at the front.
	sort.Slice(keys, func(i, j int) bool {
		return found[keys[i]].lastUsed < found[keys[j]].lastUsed
	})

	for _, k := range keys {
		s := found[k]
		c.insertFront(&entry{key: k, size: s.size, lastUsed: s.lastUsed})
	}

	// Enforce the bound immediately in case the configuration shrank.
	// Evicted entries must lose their backing file and index row too,
	// or the bytes would outlive every future Open.
	c.mu.Lock()
	var evicted []string
	for c.size > c.maxSize && c.tail != nil {
		evicted = append(evicted, c.tail.key)
		c.evictLocked(c.tail)
	}
	c.mu.Unlock()

	for _, k := range evicted {
		_ = os.Remove(c.path(k))
		c.index.delete(k)
	}
}

// Get returns the blob stored under key and marks it as recently used.
// An unreadable or truncated entry is removed and reported as a miss;
// corruption never propagates as an error.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	ent, ok := c.items[key]
	var wantSize int64
	if ok {
		c.touchLocked(ent)
		wantSize = ent.size
	}
	c.mu.Unlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	path := c.path(key)
	data, err := os.ReadFile(path)
	if err != nil || int64(len(data)) != wantSize {
		// Lost or corrupt on disk. Drop it and treat as a miss.
		c.Remove(key)
		c.misses.Add(1)
		return nil, false
	}

	// Bump mtime so a scan-based rebuild approximates true recency.
	now := time.Now()
	_ = os.Chtimes(path, now, now)

	c.hits.Add(1)
	return data, true
}

// Contains reports whether key is present without touching recency.
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Put stores blob under key, evicting least-recently-used entries
// until it fits. Returns ErrTooLarge if the blob alone exceeds the
// cache bound. Put is synchronous: on return the entry is durable in
// the local tier and visible to Get.
func (c *Cache) Put(key string, blob []byte) error {
	size := int64(len(blob))
	if size > c.maxSize {
		return ErrTooLarge
	}

	c.mu.Lock()
	if old, ok := c.items[key]; ok {
		// Content-addressed entries are immutable: same key means same
		// bytes, so an overwrite is just a touch.
		c.touchLocked(old)
		c.mu.Unlock()
		return nil
	}
	// Reserve space up front so concurrent Puts cannot overshoot the
	// bound between releasing the lock and finishing the file write.
	var evicted []string
	for c.size+size > c.maxSize && c.tail != nil {
		evicted = append(evicted, c.tail.key)
		c.evictLocked(c.tail)
	}
	ent := &entry{key: key, size: size, lastUsed: time.Now().UnixNano()}
	c.insertFrontLocked(ent)
	c.mu.Unlock()

	for _, k := range evicted {
		_ = os.Remove(c.path(k))
		c.index.delete(k)
	}

	if err := c.writeBlob(key, blob); err != nil {
		c.mu.Lock()
		if cur, ok := c.items[key]; ok && cur == ent {
			c.removeLocked(cur)
		}
		c.mu.Unlock()
		return err
	}

	// A Get racing the write above can find the file not yet renamed
	// into place and drop the entry as corrupt. Honor that removal
	// instead of leaving an untracked file and index row behind. If a
	// later Put re-inserted the key the file is current again (same
	// key, same bytes) and stays.
	c.mu.Lock()
	_, ok := c.items[key]
	c.mu.Unlock()
	if !ok {
		_ = os.Remove(c.path(key))
		c.index.delete(key)
		return nil
	}

	c.index.put(key, indexRow{Size: size, LastUsed: ent.lastUsed})
	return nil
}

// Remove deletes the entry if present.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	ent, ok := c.items[key]
	if ok {
		c.removeLocked(ent)
	}
	c.mu.Unlock()

	if ok {
		_ = os.Remove(c.path(key))
		c.index.delete(key)
	}
}

// Size returns the current total size of all entries in bytes.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// MaxSize returns the configured size bound in bytes.
func (c *Cache) MaxSize() int64 {
	return c.maxSize
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns hit and miss counters.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Clear removes every entry and its backing file.
func (c *Cache) Clear() error {
	c.mu.Lock()
	keys := make([]string, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	for _, k := range keys {
		c.Remove(k)
	}
	return nil
}

// Close flushes recency metadata to the on-disk index and releases it.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	rows := make(map[string]indexRow, len(c.items))
	for k, ent := range c.items {
		rows[k] = indexRow{Size: ent.size, LastUsed: ent.lastUsed}
	}
	c.mu.Unlock()

	return c.index.flushAndClose(rows)
}

func (c *Cache) path(key string) string {
	if len(key) < 2 {
		return filepath.Join(c.dir, "_short", key)
	}
	return filepath.Join(c.dir, key[:2], key)
}

func (c *Cache) writeBlob(key string, blob []byte) error {
	dst := c.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), tempFilePattern)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(blob); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, dst)
}

// insertFront is rebuild's lock-free variant; only called before the
// cache is shared.
func (c *Cache) insertFront(ent *entry) {
	c.mu.Lock()
	c.insertFrontLocked(ent)
	c.mu.Unlock()
}

// LRU list helpers. Callers must hold mu.

func (c *Cache) insertFrontLocked(ent *entry) {
	c.items[ent.key] = ent
	c.size += ent.size

	ent.next = c.head
	ent.prev = nil
	if c.head != nil {
		c.head.prev = ent
	}
	c.head = ent
	if c.tail == nil {
		c.tail = ent
	}
}

func (c *Cache) touchLocked(ent *entry) {
	ent.lastUsed = time.Now().UnixNano()
	if c.head == ent {
		return
	}
	// Detach
	if ent.prev != nil {
		ent.prev.next = ent.next
	}
	if ent.next != nil {
		ent.next.prev = ent.prev
	}
	if c.tail == ent {
		c.tail = ent.prev
	}
	// Attach front
	ent.next = c.head
	ent.prev = nil
	if c.head != nil {
		c.head.prev = ent
	}
	c.head = ent
	if c.tail == nil {
		c.tail = ent
	}
}

func (c *Cache) removeLocked(ent *entry) {
	if ent.prev != nil {
		ent.prev.next = ent.next
	} else {
		c.head = ent.next
	}
	if ent.next != nil {
		ent.next.prev = ent.prev
	} else {
		c.tail = ent.prev
	}
	delete(c.items, ent.key)
	c.size -= ent.size
}

func (c *Cache) evictLocked(ent *entry) {
	c.removeLocked(ent)
}

const tempFilePattern = "tmp-put-*"

func isTempFile(name string) bool {
	return len(name) > 8 && name[:8] == "tmp-put-"
}

// validKeyName accepts lowercase hex names of plausible digest widths.
func validKeyName(name string) bool {
	if len(name) < 32 {
		return false
	}
	for i := 0; i < len(name); i++ {
		ch := name[i]
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return false
		}
	}
	return true
}

func defaultMaxSize(dir string) int64 {
	const ceiling = 10 << 30 // 10 GiB
	free, err := availableBytes(dir)
	if err != nil || free <= 0 {
		return ceiling
	}
	size := free / 10
	if size > ceiling {
		return ceiling
	}
	if size < 1<<20 {
		size = 1 << 20
	}
	return size
}
