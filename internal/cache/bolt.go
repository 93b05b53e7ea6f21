package cache

import (
	"context"
	"encoding/binary"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/rickgao/earnings-feed/internal/clock"
)

// BoltOptions configures a Bolt store.
type BoltOptions struct {
	// Bucket is the name of the Bolt bucket to use (default: "cache").
	Bucket string
	Clock  clock.Clock
	Logger *slog.Logger
}

// Bolt is a persistent Store backed by a bbolt file.
// Values are laid out as 8 bytes big-endian expiresAt (unix ms) || raw value.
type Bolt struct {
	db     *bolt.DB
	bucket []byte
	clock  clock.Clock
	logger *slog.Logger
}

// OpenBolt opens or creates a Bolt store at path.
func OpenBolt(path string, opts BoltOptions) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	bucket := []byte("cache")
	if opts.Bucket != "" {
		bucket = []byte(opts.Bucket)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bolt{db: db, bucket: bucket, clock: clk, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Bolt) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Set stores value with an absolute expiration of now+ttl.
func (s *Bolt) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		s.delete(key)
		return
	}
	expiresAt := s.clock.Now().Add(ttl).UnixMilli()

	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], uint64(expiresAt))
	copy(buf[8:], value)

	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(key), buf)
	}); err != nil {
		s.logger.Warn("bolt cache put failed", "key", key, "error", err)
	}
}

// Get returns the cached value if present and not expired. Expired entries are deleted.
func (s *Bolt) Get(_ context.Context, key string) ([]byte, bool) {
	var out []byte
	var found, expired bool
	if err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(s.bucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		if len(v) < 8 {
			expired = true
			return nil
		}
		expiresAt := int64(binary.BigEndian.Uint64(v[:8]))
		if s.clock.Now().UnixMilli() >= expiresAt {
			expired = true
			return nil
		}
		out = append([]byte{}, v[8:]...)
		found = true
		return nil
	}); err != nil {
		s.logger.Warn("bolt cache get failed", "key", key, "error", err)
		return nil, false
	}
	if expired {
		s.deleteExpired(key)
		return nil, false
	}
	return out, found
}

// Remove deletes a key.
func (s *Bolt) Remove(_ context.Context, key string) {
	s.delete(key)
}

func (s *Bolt) delete(key string) {
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(key))
	}); err != nil {
		s.logger.Warn("bolt cache delete failed", "key", key, "error", err)
	}
}

// deleteExpired removes key only if it is still expired, so a Set that lands
// after the expiry check survives.
func (s *Bolt) deleteExpired(key string) {
	now := s.clock.Now().UnixMilli()
	if err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		v := b.Get([]byte(key))
		if v == nil || (len(v) >= 8 && now < int64(binary.BigEndian.Uint64(v[:8]))) {
			return nil
		}
		return b.Delete([]byte(key))
	}); err != nil {
		s.logger.Warn("bolt cache delete failed", "key", key, "error", err)
	}
}

// Purge drops every expired entry and returns how many were removed.
func (s *Bolt) Purge() int {
	now := s.clock.Now().UnixMilli()
	var n int
	if err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		var stale [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			if len(v) < 8 || now >= int64(binary.BigEndian.Uint64(v[:8])) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		// Bolt forbids mutating a bucket while iterating it.
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		n = len(stale)
		return nil
	}); err != nil {
		s.logger.Warn("bolt cache purge failed", "error", err)
		return 0
	}
	return n
}
