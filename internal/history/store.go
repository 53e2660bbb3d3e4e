package history

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/shaunagostinho/agdash/internal/frame"
	bolt "go.etcd.io/bbolt"
)

var bucketFrames = []byte("frames")

// Store persists the most recent records in a bbolt file so the dashboard
// history survives restarts.
type Store struct {
	db    *bolt.DB
	limit int
}

// Open opens or creates the store at path, keeping at most limit records.
func Open(path string, limit int) (*Store, error) {
	if limit <= 0 {
		limit = DefaultCapacity
	}
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	s := &Store{db: db, limit: limit}
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketFrames)
		if err != nil {
			return err
		}
		return s.prune(b)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("history: init %s: %w", path, err)
	}
	log.Printf("[history] opened %s (limit %d)", path, limit)
	return s, nil
}

// Append stores rec and drops records beyond the limit.
func (s *Store) Append(rec frame.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFrames)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := b.Put(itob(seq), data); err != nil {
			return err
		}
		if seq > uint64(s.limit) {
			return b.Delete(itob(seq - uint64(s.limit)))
		}
		return nil
	})
}

// Load returns the stored records, oldest first.
func (s *Store) Load() ([]frame.Record, error) {
	var out []frame.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketFrames).Cursor()
		for k, v := c.Last(); k != nil && len(out) < s.limit; k, v = c.Prev() {
			var rec frame.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("history: record %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Restore loads the stored records into buf.
func (s *Store) Restore(buf *Buffer) (int, error) {
	recs, err := s.Load()
	if err != nil {
		return 0, err
	}
	for _, r := range recs {
		buf.Append(r)
	}
	return len(recs), nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// prune removes the oldest records beyond the limit, e.g. after the limit
// was lowered between runs.
func (s *Store) prune(b *bolt.Bucket) error {
	excess := b.Stats().KeyN - s.limit
	if excess <= 0 {
		return nil
	}
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.First(); k != nil && len(keys) < excess; k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
