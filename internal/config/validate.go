package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := validateURL("api.rest_url", c.API.RestURL, "http", "https"); err != nil {
		return err
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	if err := c.Cache.validate(); err != nil {
		return err
	}

	if c.Feed.HighlightWindow <= 0 {
		return errors.New("feed.highlight_window must be > 0")
	}
	if c.Feed.MaxMessages < 1 {
		return errors.New("feed.max_messages must be >= 1")
	}
	if c.Feed.PreviewLength < 1 {
		return errors.New("feed.preview_length must be >= 1")
	}

	if c.Poller.Interval <= 0 {
		return errors.New("poller.interval must be > 0")
	}

	if c.Push.Enabled {
		if err := validateURL("push.url", c.Push.URL, "ws", "wss"); err != nil {
			return err
		}
	}
	if c.Push.ReconnectMaxDelay < c.Push.ReconnectBaseDelay {
		return fmt.Errorf("push.reconnect_max_delay (%s) cannot be less than reconnect_base_delay (%s)",
			c.Push.ReconnectMaxDelay, c.Push.ReconnectBaseDelay)
	}

	if c.Database.Enabled {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
		if c.Writers.BatchSize < 1 {
			return errors.New("writers.batch_size must be >= 1")
		}
		if c.Writers.BufferSize < 1 {
			return errors.New("writers.buffer_size must be >= 1")
		}
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka.brokers is required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return errors.New("kafka.topic is required when kafka is enabled")
		}
	}

	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if !slices.Contains([]string{"debug", "release", "test"}, c.HTTP.Mode) {
		return fmt.Errorf("http.mode must be debug, release or test, got %q", c.HTTP.Mode)
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Logging.Level)) {
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	if !slices.Contains([]string{"text", "json"}, c.Logging.Format) {
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (c *CacheConfig) validate() error {
	switch c.Backend {
	case "memory":
	case "bolt":
		if c.BoltPath == "" {
			return errors.New("cache.bolt_path is required for the bolt backend")
		}
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("cache.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend must be memory, bolt or redis, got %q", c.Backend)
	}

	if c.ShortTTL <= 0 {
		return errors.New("cache.short_ttl must be > 0")
	}
	if c.ShortTTL >= c.MediumTTL || c.MediumTTL >= c.LongTTL {
		return fmt.Errorf("cache ttls must satisfy short_ttl < medium_ttl < long_ttl, got %s/%s/%s",
			c.ShortTTL, c.MediumTTL, c.LongTTL)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if !slices.Contains(schemes, u.Scheme) || u.Host == "" {
		return fmt.Errorf("%s must be a %s url, got %q", field, strings.Join(schemes, "/"), raw)
	}
	return nil
}
