package cache

import (
	"fmt"
	"log/slog"

	redis "github.com/redis/go-redis/v9"

	"github.com/rickgao/earnings-feed/internal/clock"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Backend string

	BoltPath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Open builds the backend named by opts.Backend.
func Open(opts Options) (Backend, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch opts.Backend {
	case "", BackendMemory:
		return NewMemory(opts.Clock), nil
	case BackendBolt:
		s, err := OpenBolt(opts.BoltPath, BoltOptions{Clock: opts.Clock, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("open bolt cache: %w", err)
		}
		return s, nil
	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
		return NewRedis(client, opts.KeyPrefix, logger), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}
