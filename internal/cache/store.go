package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store is the expiring cache contract.
type Store interface {
	// Get returns the value stored under key if present and not expired.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores value under key, expiring ttl from now. Any previous entry is
	// overwritten and its expiry reset.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)

	// Remove deletes key. Removing a missing key is a no-op.
	Remove(ctx context.Context, key string)
}

// Backend is a Store that owns external resources.
type Backend interface {
	Store
	Close() error
}

// TTLs holds the expiry tiers used by callers.
type TTLs struct {
	Short  time.Duration // Frequently changing feeds (message snapshots)
	Medium time.Duration // Semi-stable lists (earnings calendar)
	Long   time.Duration // Per-key lookups that rarely change
}

// DefaultTTLs returns the standard tiers.
func DefaultTTLs() TTLs {
	return TTLs{
		Short:  2 * time.Minute,
		Medium: 5 * time.Minute,
		Long:   15 * time.Minute,
	}
}

// ErrTTLOrder is returned by TTLs.Validate when the tiers are not strictly increasing.
var ErrTTLOrder = errors.New("cache: ttl tiers must satisfy short < medium < long")

// Validate checks that every tier is positive and short < medium < long.
func (t TTLs) Validate() error {
	if t.Short <= 0 {
		return fmt.Errorf("cache: short ttl must be positive, got %v", t.Short)
	}
	if !(t.Short < t.Medium && t.Medium < t.Long) {
		return ErrTTLOrder
	}
	return nil
}

const (
	keySep = "|"
	keyEsc = `\`
)

var keyEscaper = strings.NewReplacer(keyEsc, keyEsc+keyEsc, keySep, keyEsc+keySep)

// Key derives a cache key from a parameter tuple, e.g. Key("historical", "AAPL", "2024-10-31").
// Separators inside parts are escaped, so distinct tuples never share a key.
func Key(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = keyEscaper.Replace(p)
	}
	return strings.Join(escaped, keySep)
}
