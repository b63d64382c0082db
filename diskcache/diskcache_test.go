package diskcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestCache_PutGet(t *testing.T) {
	c, err := Open(Config{Dir: t.TempDir(), MaxSize: 1 << 20})
	require.NoError(t, err)
	defer c.Close()

	key := testKey("a")
	blob := []byte{0x00, 0x01, 0xff}

	_, ok := c.Get(key)
	assert.False(t, ok)

	require.NoError(t, c.Put(key, blob))

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, blob, got)

	assert.Equal(t, int64(3), c.Size())
	assert.Equal(t, 1, c.Len())

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, err := Open(Config{Dir: t.TempDir(), MaxSize: 1000})
	require.NoError(t, err)
	defer c.Close()

	keyA := testKey("a")
	keyB := testKey("b")
	keyC := testKey("c")

	require.NoError(t, c.Put(keyA, make([]byte, 400)))
	require.NoError(t, c.Put(keyB, make([]byte, 400)))

	// Touch A so B becomes the eviction candidate.
	_, ok := c.Get(keyA)
	require.True(t, ok)

	require.NoError(t, c.Put(keyC, make([]byte, 400)))

	_, ok = c.Get(keyB)
	assert.False(t, ok, "least recently used entry must be evicted")
	_, ok = c.Get(keyA)
	assert.True(t, ok, "recently read entry must survive")
	_, ok = c.Get(keyC)
	assert.True(t, ok)

	assert.LessOrEqual(t, c.Size(), int64(1000))
}

func TestCache_NeverExceedsMaxSize(t *testing.T) {
	c, err := Open(Config{Dir: t.TempDir(), MaxSize: 2048})
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 50; i++ {
		require.NoError(t, c.Put(testKey(fmt.Sprintf("k%d", i)), make([]byte, 300)))
		assert.LessOrEqual(t, c.Size(), int64(2048))
	}
}

func TestCache_RejectsOversizedEntry(t *testing.T) {
	c, err := Open(Config{Dir: t.TempDir(), MaxSize: 100})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Put(testKey("small"), make([]byte, 50)))

	err = c.Put(testKey("huge"), make([]byte, 200))
	assert.ErrorIs(t, err, ErrTooLarge)

	// The rejection must not have evicted anything.
	_, ok := c.Get(testKey("small"))
	assert.True(t, ok)
}

func TestCache_CorruptEntryIsAMiss(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(Config{Dir: dir, MaxSize: 1 << 20})
	require.NoError(t, err)
	defer c.Close()

	key := testKey("x")
	require.NoError(t, c.Put(key, []byte("full contents")))

	// Truncate the file behind the cache's back.
	path := filepath.Join(dir, key[:2], key)
	require.NoError(t, os.WriteFile(path, []byte("torn"), 0o644))

	_, ok := c.Get(key)
	assert.False(t, ok, "size mismatch must read as a miss")
	assert.False(t, c.Contains(key), "corrupt entry must be dropped")
}

func TestCache_IndexSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	keyOld := testKey("old")
	keyNew := testKey("new")

	{
		c, err := Open(Config{Dir: dir, MaxSize: 1000})
		require.NoError(t, err)
		require.NoError(t, c.Put(keyOld, make([]byte, 400)))
		require.NoError(t, c.Put(keyNew, make([]byte, 400)))
		// Make keyOld the most recently used before shutdown.
		_, ok := c.Get(keyOld)
		require.True(t, ok)
		require.NoError(t, c.Close())
	}

	{
		c, err := Open(Config{Dir: dir, MaxSize: 1000})
		require.NoError(t, err)
		defer c.Close()

		assert.Equal(t, 2, c.Len())
		assert.Equal(t, int64(800), c.Size())

		// A put forcing one eviction must drop keyNew, the LRU entry
		// per the persisted ordering.
		require.NoError(t, c.Put(testKey("third"), make([]byte, 400)))
		assert.False(t, c.Contains(keyNew))
		assert.True(t, c.Contains(keyOld))
	}
}

func TestCache_RebuildWithoutIndex(t *testing.T) {
	dir := t.TempDir()
	key := testKey("survivor")

	{
		c, err := Open(Config{Dir: dir, MaxSize: 1 << 20})
		require.NoError(t, err)
		require.NoError(t, c.Put(key, []byte("payload")))
		require.NoError(t, c.Close())
	}

	// Simulate a lost index file.
	require.NoError(t, os.Remove(filepath.Join(dir, indexFileName)))

	c, err := Open(Config{Dir: dir, MaxSize: 1 << 20})
	require.NoError(t, err)
	defer c.Close()

	got, ok := c.Get(key)
	require.True(t, ok, "entries must be recovered from a directory scan")
	assert.Equal(t, []byte("payload"), got)
}

func TestCache_CorruptIndexIsRecreated(t *testing.T) {
	dir := t.TempDir()
	key := testKey("entry")

	{
		c, err := Open(Config{Dir: dir, MaxSize: 1 << 20})
		require.NoError(t, err)
		require.NoError(t, c.Put(key, []byte("data")))
		require.NoError(t, c.Close())
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, indexFileName), []byte("garbage"), 0o600))

	c, err := Open(Config{Dir: dir, MaxSize: 1 << 20})
	require.NoError(t, err)
	defer c.Close()

	_, ok := c.Get(key)
	assert.True(t, ok)
}

func TestCache_ShrunkBoundDeletesEvictedFiles(t *testing.T) {
	dir := t.TempDir()
	keyA := testKey("a")
	keyB := testKey("b")

	{
		c, err := Open(Config{Dir: dir, MaxSize: 1000})
		require.NoError(t, err)
		require.NoError(t, c.Put(keyA, make([]byte, 400)))
		require.NoError(t, c.Put(keyB, make([]byte, 400)))
		// Make keyB the most recently used so keyA is the eviction
		// candidate after the bound shrinks.
		_, ok := c.Get(keyB)
		require.True(t, ok)
		require.NoError(t, c.Close())
	}

	{
		c, err := Open(Config{Dir: dir, MaxSize: 500})
		require.NoError(t, err)

		assert.LessOrEqual(t, c.Size(), int64(500))
		assert.True(t, c.Contains(keyB))
		assert.False(t, c.Contains(keyA))

		_, err = os.Stat(filepath.Join(dir, keyA[:2], keyA))
		assert.True(t, os.IsNotExist(err), "evicted entry file must be deleted")
		assert.LessOrEqual(t, entryBytesOnDisk(t, dir), int64(500),
			"actual disk usage must respect the shrunk bound")

		require.NoError(t, c.Close())
	}

	// Nothing left behind for a later open to re-adopt.
	c, err := Open(Config{Dir: dir, MaxSize: 500})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(400), c.Size())
}

// entryBytesOnDisk sums the sizes of all entry files under dir.
func entryBytesOnDisk(t *testing.T, dir string) int64 {
	t.Helper()

	var total int64
	require.NoError(t, filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || info.Name() == indexFileName || isTempFile(info.Name()) {
			return nil
		}
		total += info.Size()
		return nil
	}))
	return total
}

func TestCache_NoUntrackedFilesAfterConcurrentChurn(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(Config{Dir: dir, MaxSize: 64 << 10})
	require.NoError(t, err)
	defer c.Close()

	keys := []string{testKey("w"), testKey("x"), testKey("y"), testKey("z")}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := keys[(g+i)%len(keys)]
				switch i % 3 {
				case 0:
					_ = c.Put(key, []byte("churn blob"))
				case 1:
					_, _ = c.Get(key)
				default:
					c.Remove(key)
				}
			}
		}(g)
	}
	wg.Wait()

	// Every entry file still on disk must be tracked in memory; an
	// untracked file would leak disk space until the next restart.
	require.NoError(t, filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || info.Name() == indexFileName || isTempFile(info.Name()) {
			return nil
		}
		assert.True(t, c.Contains(info.Name()), "file %s on disk but not tracked", info.Name())
		return nil
	}))
}

func TestCache_EmptyDirectoryIsEmptyCache(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "does", "not", "exist", "yet")

	c, err := Open(Config{Dir: dir, MaxSize: 1 << 20})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.Size())
}

func TestCache_Clear(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(Config{Dir: dir, MaxSize: 1 << 20})
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Put(testKey(fmt.Sprintf("e%d", i)), []byte("x")))
	}
	require.NoError(t, c.Clear())

	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.Size())
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c, err := Open(Config{Dir: t.TempDir(), MaxSize: 64 << 10})
	require.NoError(t, err)
	defer c.Close()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				key := testKey(fmt.Sprintf("g%d-i%d", g, i%10))
				if i%2 == 0 {
					_ = c.Put(key, []byte("concurrent blob"))
				} else {
					_, _ = c.Get(key)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Size(), int64(64<<10))
}

func TestCache_TouchUpdatesRecencyTimestamp(t *testing.T) {
	c, err := Open(Config{Dir: t.TempDir(), MaxSize: 1 << 20})
	require.NoError(t, err)
	defer c.Close()

	key := testKey("t")
	require.NoError(t, c.Put(key, []byte("v")))

	c.mu.Lock()
	before := c.items[key].lastUsed
	c.mu.Unlock()

	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get(key)
	require.True(t, ok)

	c.mu.Lock()
	after := c.items[key].lastUsed
	c.mu.Unlock()

	assert.Greater(t, after, before)
}
