package diskcache

import (
	"encoding/binary"
	"os"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

const (
	indexFileName = "index.db"
	indexBucket   = "entries"
)

// indexRow is the persisted metadata for one entry.
type indexRow struct {
	Size     int64
	LastUsed int64
}

// boltIndex persists entry metadata so LRU order survives restarts.
// It is strictly advisory: the cache stays correct with a lost index,
// it just degrades to mtime-ordered recency on the next start.
type boltIndex struct {
	mu sync.Mutex
	db *bbolt.DB
}

// openIndex opens or recreates the index file and loads all rows.
// A corrupt or unopenable index is deleted and replaced by an empty
// one; the caller falls back to a directory scan either way.
func openIndex(path string) (*boltIndex, map[string]indexRow) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		_ = os.Remove(path)
		db, err = bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
		if err != nil {
			return &boltIndex{}, nil
		}
	}

	rows := make(map[string]indexRow)
	err = db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(indexBucket))
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			if row, ok := decodeRow(v); ok {
				rows[string(k)] = row
			}
			return nil
		})
	})
	if err != nil {
		_ = db.Close()
		_ = os.Remove(path)
		return &boltIndex{}, nil
	}

	return &boltIndex{db: db}, rows
}

func (ix *boltIndex) put(key string, row indexRow) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.db == nil {
		return
	}
	_ = ix.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(indexBucket)).Put([]byte(key), encodeRow(row))
	})
}

func (ix *boltIndex) delete(key string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.db == nil {
		return
	}
	_ = ix.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(indexBucket)).Delete([]byte(key))
	})
}

// flushAndClose rewrites the index from the in-memory state, capturing
// the final recency order, then closes the database.
func (ix *boltIndex) flushAndClose(rows map[string]indexRow) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.db == nil {
		return nil
	}
	err := ix.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(indexBucket)); err != nil {
			return err
		}
		b, err := tx.CreateBucket([]byte(indexBucket))
		if err != nil {
			return err
		}
		for k, row := range rows {
			if err := b.Put([]byte(k), encodeRow(row)); err != nil {
				return err
			}
		}
		return nil
	})
	closeErr := ix.db.Close()
	ix.db = nil
	if err != nil {
		return err
	}
	return closeErr
}

func encodeRow(row indexRow) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(row.Size))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(row.LastUsed))
	return buf
}

func decodeRow(v []byte) (indexRow, bool) {
	if len(v) != 16 {
		return indexRow{}, false
	}
	return indexRow{
		Size:     int64(binary.LittleEndian.Uint64(v[0:8])),
		LastUsed: int64(binary.LittleEndian.Uint64(v[8:16])),
	}, true
}
