package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID         = "feedwatch"
	DefaultAPITimeout         = 30 * time.Second
	DefaultMaxRetries         = 3
	DefaultRetryBackoff       = 1 * time.Second
	DefaultCacheBackend       = "memory"
	DefaultBoltPath           = "feedwatch-cache.db"
	DefaultKeyPrefix          = "feedwatch:"
	DefaultShortTTL           = 2 * time.Minute
	DefaultMediumTTL          = 5 * time.Minute
	DefaultLongTTL            = 15 * time.Minute
	DefaultHighlightWindow    = 60 * time.Second
	DefaultMaxMessages        = 500
	DefaultPreviewLength      = 160
	DefaultPollInterval       = 2 * time.Minute
	DefaultPollTimeout        = 10 * time.Second
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultPingInterval       = 30 * time.Second
	DefaultPingTimeout        = 90 * time.Second
	DefaultDeliveredMemory    = 4096
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultBatchSize          = 500
	DefaultFlushInterval      = 1 * time.Second
	DefaultBufferSize         = 10000
	DefaultKafkaTopic         = "earnings.new-arrivals"
	DefaultKafkaBatchTimeout  = 50 * time.Millisecond
	DefaultKafkaBufferSize    = 1000
	DefaultLinkFetchTimeout   = 15 * time.Second
	DefaultLinkMaxChars       = 20000
	DefaultHTTPAddr           = ":8080"
	DefaultShutdownTimeout    = 10 * time.Second
	DefaultSSEKeepAlive       = 15 * time.Second
	DefaultHTTPMode           = "release"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
)

// ApplyDefaults fills unset optional fields.
func (c *Config) ApplyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// API defaults
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
	if c.API.RetryBackoff == 0 {
		c.API.RetryBackoff = DefaultRetryBackoff
	}

	// Cache defaults
	if c.Cache.Backend == "" {
		c.Cache.Backend = DefaultCacheBackend
	}
	if c.Cache.BoltPath == "" {
		c.Cache.BoltPath = DefaultBoltPath
	}
	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = DefaultKeyPrefix
	}
	if c.Cache.ShortTTL == 0 {
		c.Cache.ShortTTL = DefaultShortTTL
	}
	if c.Cache.MediumTTL == 0 {
		c.Cache.MediumTTL = DefaultMediumTTL
	}
	if c.Cache.LongTTL == 0 {
		c.Cache.LongTTL = DefaultLongTTL
	}

	// Feed defaults
	if c.Feed.HighlightWindow == 0 {
		c.Feed.HighlightWindow = DefaultHighlightWindow
	}
	if c.Feed.MaxMessages == 0 {
		c.Feed.MaxMessages = DefaultMaxMessages
	}
	if c.Feed.PreviewLength == 0 {
		c.Feed.PreviewLength = DefaultPreviewLength
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = DefaultPollTimeout
	}

	// Push defaults
	if c.Push.APIKey == "" {
		c.Push.APIKey = c.API.APIKey
	}
	if c.Push.ReconnectBaseDelay == 0 {
		c.Push.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Push.ReconnectMaxDelay == 0 {
		c.Push.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Push.PingInterval == 0 {
		c.Push.PingInterval = DefaultPingInterval
	}
	if c.Push.PingTimeout == 0 {
		c.Push.PingTimeout = DefaultPingTimeout
	}
	if c.Push.DeliveredMemory == 0 {
		c.Push.DeliveredMemory = DefaultDeliveredMemory
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Writers defaults
	if c.Writers.BatchSize == 0 {
		c.Writers.BatchSize = DefaultBatchSize
	}
	if c.Writers.FlushInterval == 0 {
		c.Writers.FlushInterval = DefaultFlushInterval
	}
	if c.Writers.BufferSize == 0 {
		c.Writers.BufferSize = DefaultBufferSize
	}

	// Kafka defaults
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = DefaultKafkaTopic
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = DefaultKafkaBatchTimeout
	}
	if c.Kafka.BufferSize == 0 {
		c.Kafka.BufferSize = DefaultKafkaBufferSize
	}

	// Link fetch defaults
	if c.LinkFetch.Timeout == 0 {
		c.LinkFetch.Timeout = DefaultLinkFetchTimeout
	}
	if c.LinkFetch.MaxChars == 0 {
		c.LinkFetch.MaxChars = DefaultLinkMaxChars
	}

	// HTTP defaults
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.HTTP.SSEKeepAlive == 0 {
		c.HTTP.SSEKeepAlive = DefaultSSEKeepAlive
	}
	if c.HTTP.Mode == "" {
		c.HTTP.Mode = DefaultHTTPMode
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
